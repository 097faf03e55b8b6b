package pipeline

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgallion1/studypack/internal/chunker"
	"github.com/dgallion1/studypack/internal/dispatch"
	"github.com/dgallion1/studypack/internal/doctree"
	"github.com/dgallion1/studypack/internal/studyguide"
)

var (
	// ErrNoText means the document had no pages or only blank ones.
	ErrNoText = errors.New("document contains no extractable text")
	// ErrNoSections means segmentation produced nothing to generate from.
	ErrNoSections = errors.New("document produced no sections")
)

// Stage names a pipeline step, reported through Hooks.
type Stage string

const (
	StageSegmenting Stage = "segmenting"
	StageGenerating Stage = "generating"
	StageRendering  Stage = "rendering"
)

// Hooks observe a run. Any of them may be nil. OnSection may be called
// concurrently.
type Hooks struct {
	OnStage     func(Stage)
	OnSegmented func(sections []doctree.Section)
	OnSection   func(index int, o dispatch.Outcome)
}

// Result is a finished study guide.
type Result struct {
	Guide        studyguide.Guide
	Markdown     string
	Sections     int
	Fallbacks    int
	ExtrasFailed bool
	Duration     time.Duration
}

// Pipeline turns a document into a study guide.
type Pipeline struct {
	dispatcher *dispatch.Dispatcher
	segCfg     chunker.Config
	log        *slog.Logger
}

func New(d *dispatch.Dispatcher, segCfg chunker.Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{dispatcher: d, segCfg: segCfg, log: log}
}

// Run validates, segments, generates, assembles, and renders doc.
func (p *Pipeline) Run(ctx context.Context, doc *doctree.Document) (Result, error) {
	return p.RunWithHooks(ctx, doc, Hooks{})
}

func (p *Pipeline) RunWithHooks(ctx context.Context, doc *doctree.Document, hooks Hooks) (Result, error) {
	start := time.Now()
	if !doc.HasText() {
		return Result{}, ErrNoText
	}

	stage(hooks, StageSegmenting)
	lines := chunker.Lines(doc.Pages)
	sections := chunker.Segment(lines, p.segCfg)
	if len(sections) == 0 {
		return Result{}, ErrNoSections
	}
	if hooks.OnSegmented != nil {
		hooks.OnSegmented(sections)
	}
	p.log.Info("segmented document", "title", doc.Title, "pages", len(doc.Pages), "lines", len(lines), "sections", len(sections))

	stage(hooks, StageGenerating)
	batch := p.dispatcher.RunWithProgress(ctx, sections, hooks.OnSection)
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("generation interrupted: %w", err)
	}

	stage(hooks, StageRendering)
	guide := studyguide.Assemble(studyguide.ChapterTitle(sections, doc.Title), batch.Sections, batch.Extras)
	res := Result{
		Guide:        guide,
		Markdown:     studyguide.RenderMarkdown(guide),
		Sections:     len(sections),
		Fallbacks:    batch.Fallbacks,
		ExtrasFailed: batch.ExtrasFailed,
		Duration:     time.Since(start),
	}
	p.log.Info("study guide ready", "title", guide.ChapterTitle, "sections", res.Sections, "fallbacks", res.Fallbacks, "extras_failed", res.ExtrasFailed, "duration", res.Duration)
	return res, nil
}

func stage(h Hooks, s Stage) {
	if h.OnStage != nil {
		h.OnStage(s)
	}
}

// ContentHash identifies a document by its normalized text, so re-uploads
// that differ only in whitespace share a cache entry.
func ContentHash(doc *doctree.Document) string {
	return ContentHashHex([]byte(strings.Join(chunker.Lines(doc.Pages), "\n")))
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
