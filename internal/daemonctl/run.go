// Package daemonctl implements the launcher shim's operations (§4.8):
// start, stop, status, and the long-lived daemon-run entry point that wires
// together every component described in §4.
package daemonctl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/botminter/bm/internal/bmerr"
	"github.com/botminter/bm/internal/config"
	"github.com/botminter/bm/internal/logfields"
	"github.com/botminter/bm/internal/logwriter"
	"github.com/botminter/bm/internal/orchestrator"
	"github.com/botminter/bm/internal/poller"
	"github.com/botminter/bm/internal/runtimefiles"
	"github.com/botminter/bm/internal/signalch"
	"github.com/botminter/bm/internal/supervisor"
	"github.com/botminter/bm/internal/topology"
	"github.com/botminter/bm/internal/webhook"
)

// RunConfig carries everything daemon-run needs, built from the daemon-run
// command-line flags. The webhook secret is not part of it: it is resolved
// from the team's configured env var (Team.WebhookSecret) at daemon-run
// startup and never persisted.
type RunConfig struct {
	Team           config.Team
	Mode            string // "webhook" | "poll"
	Port            int
	IntervalSeconds int
	StateRoot       string
	RegistryPath    string // empty disables the hot-reload watcher
}

// Run is the body of `bm daemon-run`: install the signal channel, open the
// daemon log, validate the schema, and drive listener/poller + orchestrator
// until shutdown. It never touches the PID or config snapshot files (§5).
func Run(ctx context.Context, rc RunConfig) error {
	if err := config.ValidateSchema(rc.Team); err != nil {
		return err
	}

	store := runtimefiles.New(rc.StateRoot, rc.Team.Name)

	logW, err := logwriter.Open(store.DaemonLogPath())
	if err != nil {
		return bmerr.FatalWrap(err, bmerr.CategoryRuntime, "failed to open daemon log")
	}
	defer logW.Close()

	logger := slog.New(logwriter.NewHandler(logW)).With(logfields.Team(rc.Team.Name))

	sig := signalch.New()

	if rc.RegistryPath != "" {
		watcher, err := config.NewWatcher(rc.RegistryPath, rc.Team, logger)
		if err != nil {
			logger.Warn("failed to start config watcher", logfields.Err(err))
		} else {
			defer watcher.Close()
		}
	}

	registry := prometheus.NewRegistry()
	metrics := webhook.NewMetrics(registry)

	triggers := orchestrator.NewTriggerChannel()

	sup := &supervisor.Supervisor{Store: store, Logger: logger}
	orch := &orchestrator.Orchestrator{
		Team:       rc.Team,
		Launcher:   topology.DefaultLauncher,
		Supervisor: sup,
		Logger:     logger,
		Triggers:   triggers,
		Hooks: orchestrator.Hooks{
			Metrics: metrics,
			TriggersCoalesced: func() { metrics.TriggersCoalesced.Inc() },
		},
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	started := 0

	go func() {
		orch.Run(runCtx, sig.Done())
		errCh <- nil
	}()
	started++

	switch rc.Mode {
	case "webhook":
		l := &webhook.Listener{
			Port:     rc.Port,
			Secret:   rc.Team.WebhookSecret(),
			Logger:   logger,
			Metrics:  metrics,
			Registry: registry,
			Triggers: triggers,
		}
		go func() { errCh <- l.ListenAndServe(runCtx) }()
		started++
	case "poll":
		interval := time.Duration(rc.IntervalSeconds) * time.Second
		p := &poller.Poller{Team: rc.Team, Store: store, Interval: interval, Logger: logger, Metrics: metrics, Triggers: triggers}
		go func() { errCh <- p.Run(runCtx, sig.Done()) }()
		started++
	default:
		return bmerr.Fatal(bmerr.CategoryConfig, fmt.Sprintf("unknown daemon mode %q", rc.Mode))
	}

	logger.Info("daemon-run started", logfields.Mode(rc.Mode))

	var firstErr error
	for i := 0; i < started; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
			sig.Trigger()
		}
	}

	logger.Info("Daemon stopped")
	return firstErr
}
