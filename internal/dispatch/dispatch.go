// Package dispatch fans sections out to the generation service and collects
// one result per section, substituting fallbacks for failed calls.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/studypack/internal/budget"
	"github.com/dgallion1/studypack/internal/doctree"
	"github.com/dgallion1/studypack/internal/generate"
	"github.com/dgallion1/studypack/internal/prompts"
	"github.com/dgallion1/studypack/internal/studyguide"
)

// Config holds the per-call limits.
type Config struct {
	MaxQA              int
	SectionTokenBudget int
	ExtrasTokenBudget  int
	MaxOutputTokens    int
	CallTimeout        time.Duration
	MaxAttempts        int
	MaxConcurrentCalls int // 0 means one goroutine per call, unbounded.
}

func DefaultConfig() Config {
	return Config{
		MaxQA:              4,
		SectionTokenBudget: 6000,
		ExtrasTokenBudget:  12000,
		MaxOutputTokens:    4096,
		CallTimeout:        120 * time.Second,
		MaxAttempts:        MaxAttempts,
	}
}

// Outcome describes how one call went.
type Outcome struct {
	Fallback bool
	Err      error
	Duration time.Duration
}

// Batch is the joined result of a Run. Sections is index-aligned with the
// input sections.
type Batch struct {
	Sections      []studyguide.SectionResult
	Extras        studyguide.ExtraResult
	Fallbacks     int
	ExtrasFailed  bool
	SectionErrors []error
}

// ProgressFunc is called once per finished section call. It may be called
// from several goroutines at once.
type ProgressFunc func(index int, o Outcome)

// Dispatcher runs generation calls.
type Dispatcher struct {
	gen   generate.Generator
	clamp budget.Clamper
	cfg   Config
	stats *generate.LLMStats
	log   *slog.Logger

	backoff func(attempt int) time.Duration
}

func New(gen generate.Generator, clamp budget.Clamper, cfg Config, stats *generate.LLMStats, log *slog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxQA <= 0 {
		cfg.MaxQA = def.MaxQA
	}
	if cfg.SectionTokenBudget <= 0 {
		cfg.SectionTokenBudget = def.SectionTokenBudget
	}
	if cfg.ExtrasTokenBudget <= 0 {
		cfg.ExtrasTokenBudget = def.ExtrasTokenBudget
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		gen:     gen,
		clamp:   clamp,
		cfg:     cfg,
		stats:   stats,
		log:     log,
		backoff: Backoff,
	}
}

// GenerateSection asks for the Q&A of one section. It never fails: any
// error yields the fallback result, reported through the Outcome.
func (d *Dispatcher) GenerateSection(ctx context.Context, title, body string) (studyguide.SectionResult, Outcome) {
	start := time.Now()
	res, err := d.section(ctx, title, body)
	o := Outcome{Err: err, Duration: time.Since(start)}
	if err != nil {
		o.Fallback = true
		res = studyguide.FallbackSection(title, body)
	}
	return res, o
}

func (d *Dispatcher) section(ctx context.Context, title, body string) (_ studyguide.SectionResult, err error) {
	defer recoverInto(&err)
	user, err := prompts.Section(prompts.SectionData{
		MaxQA:        d.cfg.MaxQA,
		SectionTitle: title,
		SectionText:  d.clamp.Clamp(body, d.cfg.SectionTokenBudget),
	})
	if err != nil {
		return studyguide.SectionResult{}, err
	}
	raw, err := d.call(ctx, generate.Request{
		System:    prompts.System(),
		User:      user,
		Shape:     generate.ShapeSection,
		MaxTokens: d.cfg.MaxOutputTokens,
	})
	if err != nil {
		return studyguide.SectionResult{}, err
	}
	return studyguide.DecodeSection(raw, title, d.cfg.MaxQA)
}

// GenerateExtras asks for the whole-document comprehension and revision
// questions, falling back to empty lists on failure.
func (d *Dispatcher) GenerateExtras(ctx context.Context, wholeText string) (studyguide.ExtraResult, Outcome) {
	start := time.Now()
	res, err := d.extras(ctx, wholeText)
	o := Outcome{Err: err, Duration: time.Since(start)}
	if err != nil {
		o.Fallback = true
		res = studyguide.FallbackExtras()
	}
	return res, o
}

func (d *Dispatcher) extras(ctx context.Context, wholeText string) (_ studyguide.ExtraResult, err error) {
	defer recoverInto(&err)
	user, err := prompts.Extras(d.clamp.Clamp(wholeText, d.cfg.ExtrasTokenBudget))
	if err != nil {
		return studyguide.ExtraResult{}, err
	}
	raw, err := d.call(ctx, generate.Request{
		System:    prompts.System(),
		User:      user,
		Shape:     generate.ShapeExtras,
		MaxTokens: d.cfg.MaxOutputTokens,
	})
	if err != nil {
		return studyguide.ExtraResult{}, err
	}
	return studyguide.DecodeExtras(raw)
}

// call performs one generation with its own timeout, retrying transient
// failures. Every attempt is recorded in stats.
func (d *Dispatcher) call(ctx context.Context, req generate.Request) (string, error) {
	var lastErr error
	for attempt := range d.cfg.MaxAttempts {
		raw, err := d.attempt(ctx, req)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == d.cfg.MaxAttempts-1 {
			break
		}
		d.log.Warn("retryable generation error", "shape", req.Shape.String(), "attempt", attempt, "error", err)
		select {
		case <-time.After(d.backoff(attempt)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

func (d *Dispatcher) attempt(ctx context.Context, req generate.Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	raw, err := d.generate(callCtx, req)
	if err == nil && strings.TrimSpace(raw) == "" {
		err = errors.New("empty reply")
	}
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("generation timed out after %s: %w", d.cfg.CallTimeout, err)
	}
	d.stats.Record(time.Since(start), err != nil)
	return raw, err
}

func (d *Dispatcher) generate(ctx context.Context, req generate.Request) (_ string, err error) {
	defer recoverInto(&err)
	return d.gen.Generate(ctx, req)
}

// recoverInto turns a panic in one call into that call's error so the
// other goroutines of a run are unaffected.
func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("generation panicked: %v", r)
	}
}

// Run generates every section plus the whole-document extras concurrently
// and waits for all of them.
func (d *Dispatcher) Run(ctx context.Context, sections []doctree.Section) Batch {
	return d.RunWithProgress(ctx, sections, nil)
}

// RunWithProgress is Run with a per-section completion hook.
func (d *Dispatcher) RunWithProgress(ctx context.Context, sections []doctree.Section, progress ProgressFunc) Batch {
	batch := Batch{
		Sections:      make([]studyguide.SectionResult, len(sections)),
		SectionErrors: make([]error, len(sections)),
	}
	outcomes := make([]Outcome, len(sections))

	// A plain Group: one call failing must not cancel its siblings.
	var g errgroup.Group
	if d.cfg.MaxConcurrentCalls > 0 {
		g.SetLimit(d.cfg.MaxConcurrentCalls)
	}

	var extrasOutcome Outcome
	bodies := make([]string, len(sections))
	for i, s := range sections {
		bodies[i] = s.Body
	}
	wholeText := strings.Join(bodies, "\n\n")
	g.Go(func() error {
		batch.Extras, extrasOutcome = d.GenerateExtras(ctx, wholeText)
		if extrasOutcome.Fallback {
			d.log.Warn("extras generation failed, using fallback", "error", extrasOutcome.Err, "duration", extrasOutcome.Duration)
		}
		return nil
	})

	for i, s := range sections {
		g.Go(func() error {
			res, o := d.GenerateSection(ctx, s.Title, s.Body)
			batch.Sections[i] = res
			outcomes[i] = o
			if o.Fallback {
				d.log.Warn("section generation failed, using fallback", "section", i, "title", s.Title, "error", o.Err, "duration", o.Duration)
			} else {
				d.log.Debug("section generated", "section", i, "title", s.Title, "duration", o.Duration)
			}
			if progress != nil {
				progress(i, o)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		if o.Fallback {
			batch.Fallbacks++
			batch.SectionErrors[i] = o.Err
		}
	}
	batch.ExtrasFailed = extrasOutcome.Fallback
	return batch
}
