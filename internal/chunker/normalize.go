package chunker

import (
	"regexp"
	"strings"
)

var (
	blankRunRe   = regexp.MustCompile(`[ \t]+`)
	newlineRunRe = regexp.MustCompile(`\n{2,}`)
)

// NormalizePage collapses horizontal whitespace and blank lines in one page of
// extracted text.
func NormalizePage(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = blankRunRe.ReplaceAllString(text, " ")
	text = newlineRunRe.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}

// Lines turns pages into the trimmed, non-empty line stream the segmenter reads.
func Lines(pages []string) []string {
	raw := strings.Join(pages, "\n\n")
	var lines []string
	for _, ln := range strings.Split(raw, "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			lines = append(lines, ln)
		}
	}
	return lines
}
