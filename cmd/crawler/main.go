package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/beargallbladder/domainrunner/internal/app"
	"github.com/beargallbladder/domainrunner/internal/config"
)

// Exit codes per §6: 0 success, 1 fatal, 2 guardian block, 3 configuration error.
const (
	exitOK            = 0
	exitFatal         = 1
	exitGuardianBlock = 2
	exitConfigError   = 3
)

func main() {
	mode := flag.String("mode", "", "run mode: crawler, claim-sweeper, or trigger (overrides CRAWLER_MODE)")
	tier := flag.String("tier", "", "tier to run in trigger mode (overrides TRIGGER_TIER)")
	limit := flag.Int("limit", 0, "domain-count override for trigger mode (overrides TRIGGER_LIMIT)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		if errors.Is(err, config.ErrConfigError) {
			os.Exit(exitConfigError)
		}
		os.Exit(exitFatal)
	}

	// CLI flags override env vars.
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *tier != "" {
		cfg.TriggerTier = *tier
	}
	if *limit != 0 {
		cfg.TriggerLimit = *limit
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		switch {
		case errors.Is(err, app.ErrGuardianBlocked):
			os.Exit(exitGuardianBlock)
		case errors.Is(err, config.ErrConfigError):
			os.Exit(exitConfigError)
		default:
			os.Exit(exitFatal)
		}
	}
}
