// Package app wires configuration into a ready pipeline.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/studypack/internal/budget"
	"github.com/dgallion1/studypack/internal/chunker"
	"github.com/dgallion1/studypack/internal/config"
	"github.com/dgallion1/studypack/internal/dispatch"
	"github.com/dgallion1/studypack/internal/generate"
	"github.com/dgallion1/studypack/internal/pipeline"
)

// App is the assembled generation stack.
type App struct {
	Pipeline  *pipeline.Pipeline
	Generator generate.Generator
	Stats     *generate.LLMStats
}

// New builds the generator, tokenizer, dispatcher and pipeline from cfg.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	gen, err := generate.New(ctx, generate.Options{
		Provider: cfg.Provider,
		APIKey:   cfg.ProviderAPIKey(),
		Model:    cfg.Model,
		BaseURL:  cfg.ProviderBaseURL(),
		Timeout:  cfg.CallTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("generation client: %w", err)
	}

	tok, err := budget.New(cfg.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}

	stats := generate.NewLLMStats(time.Hour)
	d := dispatch.New(gen, budget.Clamper{Tokenizer: tok}, DispatchConfig(cfg), stats, log)
	return &App{
		Pipeline:  pipeline.New(d, SegmentConfig(cfg), log),
		Generator: gen,
		Stats:     stats,
	}, nil
}

// Close releases the generator's connections.
func (a *App) Close() {
	generate.Close(a.Generator)
}

// DispatchConfig maps cfg onto per-call limits.
func DispatchConfig(cfg config.Config) dispatch.Config {
	return dispatch.Config{
		MaxQA:              cfg.MaxQAPerSection,
		SectionTokenBudget: cfg.SectionTokenBudget,
		ExtrasTokenBudget:  cfg.ExtrasTokenBudget,
		MaxOutputTokens:    cfg.MaxOutputTokens,
		CallTimeout:        cfg.CallTimeout,
		MaxAttempts:        cfg.MaxAttempts,
		MaxConcurrentCalls: cfg.MaxConcurrentCalls,
	}
}

// SegmentConfig maps cfg onto segmentation thresholds.
func SegmentConfig(cfg config.Config) chunker.Config {
	seg := chunker.DefaultConfig()
	seg.HeadingBufferThreshold = cfg.HeadingBufferThreshold
	seg.MinSections = cfg.MinSections
	seg.ChunkSize = cfg.FallbackChunkSize
	return seg
}
