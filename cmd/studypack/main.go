// Command studypack turns one document into a Markdown study guide.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dgallion1/studypack/internal/app"
	"github.com/dgallion1/studypack/internal/config"
	"github.com/dgallion1/studypack/internal/parser"
	"github.com/dgallion1/studypack/internal/pipeline"
	"github.com/dgallion1/studypack/internal/studyguide"
)

func main() {
	out := flag.String("out", "", "output file (default <name>_QA.md next to the input)")
	title := flag.String("title", "", "document title override")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: studypack [-out file] [-title t] <document>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *out, *title); err != nil {
		fmt.Fprintln(os.Stderr, "studypack:", err)
		os.Exit(1)
	}
}

func run(input, out, title string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	if err := cfg.ValidateGeneration(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := parser.ForFile(input, parser.Options{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext})
	if err != nil {
		return err
	}
	f, err := os.Open(input)
	if err != nil {
		return err
	}
	doc, err := p.Parse(f, filepath.Base(input))
	f.Close()
	if err != nil {
		return fmt.Errorf("parse %s: %w", input, err)
	}
	if title != "" {
		doc.Title = title
	}

	stack, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stack.Close()

	res, err := stack.Pipeline.Run(ctx, doc)
	if errors.Is(err, pipeline.ErrNoText) {
		return fmt.Errorf("%s: %w (scanned PDFs need OCR first)", input, err)
	}
	if err != nil {
		return err
	}

	if out == "" {
		out = filepath.Join(filepath.Dir(input), studyguide.OutputName(filepath.Base(input)))
	}
	if err := os.WriteFile(out, []byte(res.Markdown), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	log.Info("wrote study guide", "path", out, "sections", res.Sections, "fallbacks", res.Fallbacks)
	return nil
}
