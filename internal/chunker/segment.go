package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dgallion1/studypack/internal/doctree"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Config controls segmentation behavior.
type Config struct {
	DefaultTitle string // Title of text that precedes the first heading.

	// HeadingBufferThreshold is how many buffered lines a section must hold
	// before a later heading may start a new one. Zero accepts a heading as
	// soon as the buffer holds any line; negative means the default.
	HeadingBufferThreshold int

	MinSections int // Below this, heading results are replaced by fixed chunks.
	ChunkSize   int // Fixed chunk size in runes.
	MaxTitleLen int // In runes.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTitle:           "Introduction",
		HeadingBufferThreshold: 300,
		MinSections:            3,
		ChunkSize:              8000,
		MaxTitleLen:            120,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultTitle == "" {
		c.DefaultTitle = d.DefaultTitle
	}
	if c.HeadingBufferThreshold < 0 {
		c.HeadingBufferThreshold = d.HeadingBufferThreshold
	}
	if c.MinSections <= 0 {
		c.MinSections = d.MinSections
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.MaxTitleLen <= 0 {
		c.MaxTitleLen = d.MaxTitleLen
	}
	return c
}

var (
	headingRe = regexp.MustCompile(
		`^(Chapter\s+\d+[:.\-\s].+|Section\s+\d+[:.\-\s].+|\d+\.\s+.+|[A-Z][A-Z0-9 \-:&]{6,})$`,
	)
	spaceRunRe = regexp.MustCompile(`\s+`)
)

// IsHeading reports whether a line looks like a chapter or section heading.
func IsHeading(line string) bool {
	return headingRe.MatchString(line)
}

// Segment splits a line stream into sections. When the heading pass yields
// fewer than cfg.MinSections sections, the whole text is cut into fixed chunks
// instead.
func Segment(lines []string, cfg Config) []doctree.Section {
	cfg = cfg.withDefaults()
	sections := SplitHeadings(lines, cfg)
	if len(sections) >= cfg.MinSections {
		return sections
	}
	return FixedChunks(strings.Join(lines, "\n"), cfg)
}

// SplitHeadings is the heading pass of Segment, without the fixed-chunk floor.
func SplitHeadings(lines []string, cfg Config) []doctree.Section {
	cfg = cfg.withDefaults()

	var sections []doctree.Section
	var buf []string
	title := cfg.DefaultTitle

	flush := func() {
		body := strings.TrimSpace(strings.Join(buf, "\n"))
		if body != "" {
			sections = append(sections, doctree.Section{
				Title: truncateRunes(title, cfg.MaxTitleLen),
				Body:  body,
			})
		}
	}

	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		if IsHeading(ln) && (len(buf) > cfg.HeadingBufferThreshold || len(sections) == 0) {
			flush()
			title = headingTitle(ln)
			buf = buf[:0]
			continue
		}
		buf = append(buf, ln)
	}
	flush()

	return sections
}

// FixedChunks cuts text into cfg.ChunkSize-rune pieces titled "Part 1", "Part 2", ...
// Whitespace-only pieces are skipped and do not consume a part number.
func FixedChunks(text string, cfg Config) []doctree.Section {
	cfg = cfg.withDefaults()
	runes := []rune(text)

	var sections []doctree.Section
	for i := 0; i < len(runes); i += cfg.ChunkSize {
		end := min(i+cfg.ChunkSize, len(runes))
		chunk := string(runes[i:end])
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		sections = append(sections, doctree.Section{
			Title: fmt.Sprintf("Part %d", len(sections)+1),
			Body:  chunk,
		})
	}
	return sections
}

// headingTitle collapses whitespace and title-cases a heading line.
func headingTitle(line string) string {
	line = spaceRunRe.ReplaceAllString(line, " ")
	return cases.Title(language.English).String(line)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
