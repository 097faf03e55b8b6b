package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/studypack/internal/dispatch"
	"github.com/dgallion1/studypack/internal/doctree"
	"github.com/dgallion1/studypack/internal/parser"
	"github.com/dgallion1/studypack/internal/pathstore"
)

// GuideCache looks up and stores finished guides by content hash.
type GuideCache interface {
	GetGuide(ctx context.Context, hash string) (*pathstore.CachedGuide, error)
	PutGuide(ctx context.Context, hash string, g pathstore.CachedGuide) error
	DeleteGuide(ctx context.Context, hash string) error
}

// Worker processes a single document job.
type Worker struct {
	pipeline  *Pipeline
	cache     GuideCache // nil disables caching
	parseOpts parser.Options
	model     string
	log       *slog.Logger
}

func NewWorker(p *Pipeline, cache GuideCache, parseOpts parser.Options, model string, log *slog.Logger) *Worker {
	return &Worker{
		pipeline:  p,
		cache:     cache,
		parseOpts: parseOpts,
		model:     model,
		log:       log,
	}
}

// Process runs the full pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "filename", job.Filename)

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	p, err := parser.ForFile(job.Filename, w.parseOpts)
	if err != nil {
		log.Error("unsupported format", "error", err)
		w.fail(job, "parsing", err.Error())
		return
	}

	doc, err := p.Parse(bytes.NewReader(job.FileData()), job.Filename)
	if err != nil {
		log.Error("parse failed", "error", err)
		w.fail(job, "parsing", fmt.Sprintf("parse: %s", err))
		return
	}
	if job.Title != "" {
		doc.Title = job.Title
	}
	if !doc.HasText() {
		log.Warn("no text extracted", "pages", len(doc.Pages))
		w.fail(job, "parsing", ErrNoText.Error())
		return
	}

	hash := ContentHash(doc)
	job.SetContentHash(hash)

	// Phase 1.5: Cache check
	if w.cache != nil {
		if job.Force {
			if err := w.cache.DeleteGuide(ctx, hash); err != nil {
				log.Warn("cache invalidation failed", "error", err)
			}
		} else if w.serveCached(ctx, job, hash, log) {
			return
		}
	}

	// Phase 2-4: Segment, generate, render
	res, err := w.pipeline.RunWithHooks(ctx, doc, Hooks{
		OnStage: func(s Stage) {
			job.SetStatus(JobStatus(s), string(s))
		},
		OnSegmented: func(sections []doctree.Section) {
			job.SetTotalSections(len(sections))
		},
		OnSection: func(i int, o dispatch.Outcome) {
			job.SectionDone(o.Fallback)
			if o.Fallback {
				job.AddError(fmt.Sprintf("section %d: %s", i+1, o.Err))
			}
		},
	})
	if err != nil {
		phase := "generating"
		if errors.Is(err, ErrNoText) || errors.Is(err, ErrNoSections) {
			phase = "segmenting"
		}
		log.Error("pipeline failed", "error", err)
		w.fail(job, phase, err.Error())
		return
	}
	if res.ExtrasFailed {
		job.AddError("whole-document questions: generation failed, section left empty")
	}

	job.Complete(StatusCompleted, Output{Guide: res.Guide, Markdown: res.Markdown})
	log.Info("job complete", "sections", res.Sections, "fallbacks", res.Fallbacks, "duration", res.Duration)

	// Only cache guides produced without fallbacks; a degraded guide should
	// be regenerated next time.
	if w.cache != nil && res.Fallbacks == 0 && !res.ExtrasFailed {
		err := w.cache.PutGuide(ctx, hash, pathstore.CachedGuide{
			Filename:  job.Filename,
			Model:     w.model,
			Sections:  res.Sections,
			Guide:     res.Guide,
			Markdown:  res.Markdown,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			log.Warn("cache write failed", "error", err)
		}
	}
}

func (w *Worker) serveCached(ctx context.Context, job *Job, hash string, log *slog.Logger) bool {
	cached, err := w.cache.GetGuide(ctx, hash)
	if err != nil {
		log.Warn("cache lookup failed, proceeding", "error", err)
		return false
	}
	if cached == nil {
		return false
	}
	job.SetTotalSections(cached.Sections)
	job.Complete(StatusCached, Output{Guide: cached.Guide, Markdown: cached.Markdown})
	log.Info("served cached guide", "content_hash", hash, "model", cached.Model, "created_at", cached.CreatedAt)
	return true
}

func (w *Worker) fail(job *Job, phase, msg string) {
	job.AddError(msg)
	job.SetStatus(StatusFailed, phase)
}
