package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/studypack/internal/api"
	"github.com/dgallion1/studypack/internal/app"
	"github.com/dgallion1/studypack/internal/config"
	"github.com/dgallion1/studypack/internal/parser"
	"github.com/dgallion1/studypack/internal/pathstore"
	"github.com/dgallion1/studypack/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("load configuration", "error", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients.
	stack, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("initialize generation", "error", err)
		os.Exit(1)
	}

	var cache pipeline.GuideCache
	var ps *pathstore.Client
	if cfg.PathstoreURL != "" {
		ps = pathstore.NewClient(cfg.PathstoreURL, cfg.PathstoreAPIKey)
		cache = pathstore.NewGuideCache(ps)
	}

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		WorkerCount:  cfg.WorkerCount,
		MaxQueueSize: cfg.MaxQueueSize,
		JobTTL:       cfg.JobTTL,
		ParseOptions: parser.Options{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext},
		Model:        stack.Generator.Model(),
	}, stack.Pipeline, cache, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, stack.Stats, stack.Generator.Model(), log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown: stop accepting uploads, then drain the workers.
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}

		orch.Stop()

		stack.Close()
		if ps != nil {
			ps.Close()
		}
	}()

	log.Info("starting studypack", "port", cfg.Port, "provider", cfg.Provider, "model", cfg.Model, "cache", cache != nil)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
}
