package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/offer-scraper/internal/config"
	"github.com/maltedev/offer-scraper/pkg/logger"
)

const usage = `usage: offer-scraper [prompt|run|serve] [flags]

  prompt   ask for listing URLs interactively (default)
  run      scrape one listing: -url <seller page> [-filter <category>]
  serve    start the HTTP API and run worker
`

func main() {
	mode, args := "prompt", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		mode, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	listingURL := fs.String("url", "", "seller page to scrape (run mode)")
	filter := fs.String("filter", "", "category filter, empty for all (run mode)")
	_ = fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	switch mode {
	case "prompt":
		err = runPrompt(ctx, os.Stdin, os.Stdout, a.orchestrator)
	case "run":
		if *listingURL == "" {
			fs.Usage()
			os.Exit(2)
		}
		result := a.orchestrator.Run(ctx, *listingURL, *filter)
		printResult(os.Stdout, result)
		if !result.Success {
			a.Close()
			os.Exit(1)
		}
	case "serve":
		err = a.serve(ctx)
	default:
		fs.Usage()
		os.Exit(2)
	}

	if err != nil {
		log.Error("offer-scraper failed", "mode", mode, "error", err)
		a.Close()
		os.Exit(1)
	}
}
