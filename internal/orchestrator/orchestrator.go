// Package orchestrator implements the launch orchestrator (§4.7): the
// single-threaded coordination core that accepts triggers from the webhook
// listener and poller, serializes them into at most one concurrent launch
// cycle, discovers members from the workspace layout, and drives the
// supervisor. All cross-component communication is message passing over
// channels — no shared mutable orchestrator state (§5, §9).
package orchestrator

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/botminter/bm/internal/config"
	"github.com/botminter/bm/internal/logfields"
	"github.com/botminter/bm/internal/supervisor"
	"github.com/botminter/bm/internal/topology"
	"github.com/botminter/bm/internal/webhook"
)

// Hooks lets the orchestrator report cycle outcomes without importing the
// runtime-file store directly, keeping the dependency graph a DAG.
type Hooks struct {
	// TriggersCoalesced is incremented whenever a trigger arrives while a
	// cycle is already running and gets folded into the pending follow-up.
	TriggersCoalesced func()
	Metrics           *webhook.Metrics
}

// Orchestrator runs the §4.7 state machine.
type Orchestrator struct {
	Team       config.Team
	Launcher   topology.Launcher
	Supervisor *supervisor.Supervisor
	Logger     *slog.Logger
	Hooks      Hooks

	Triggers chan string // provenance: "webhook" | "poll" | "manual"
}

// NewTriggerChannel returns the size-1 coalescing trigger channel described
// in §5 ("Backpressure"): bounded, so bursts cannot exhaust memory.
func NewTriggerChannel() chan string {
	return make(chan string, 1)
}

// Run is the event loop. It returns when shutdown closes, after any
// in-flight cycle has been escalated to completion by the supervisor.
func (o *Orchestrator) Run(ctx context.Context, shutdown <-chan struct{}) {
	cycleDone := make(chan struct{})
	running := false
	pending := false

	runCycle := func() {
		running = true
		go func() {
			o.runOneCycle(ctx, shutdown)
			cycleDone <- struct{}{}
		}()
	}

	for {
		select {
		case <-shutdown:
			if running {
				// The in-flight cycle observes `shutdown` itself (threaded
				// through to the supervisor); wait for it to unwind so we
				// don't return while children are still being reaped.
				<-cycleDone
			}
			return

		case src := <-o.Triggers:
			if !running {
				o.Logger.Info("trigger received, starting launch cycle", logfields.Source(src))
				runCycle()
			} else {
				if !pending {
					o.Logger.Info("trigger received during active cycle, coalescing", logfields.Source(src))
				}
				pending = true
				if o.Hooks.TriggersCoalesced != nil {
					o.Hooks.TriggersCoalesced()
				}
			}

		case <-cycleDone:
			if pending {
				pending = false
				runCycle()
			} else {
				running = false
			}
		}
	}
}

// runOneCycle implements §4.7's per-cycle algorithm.
func (o *Orchestrator) runOneCycle(ctx context.Context, shutdown <-chan struct{}) {
	cycleID := uuid.NewString()
	logger := o.Logger.With(logfields.CycleID(cycleID))

	members, err := topology.Discover(o.Team, o.Launcher)
	if err != nil {
		logger.Error("failed to discover member topology", logfields.Err(err))
		return
	}
	if len(members) == 0 {
		logger.Warn("no workspace found")
		return
	}

	logger.Info("Daemon starting launch cycle", slog.Int("members", len(members)))
	for _, m := range members {
		if m.HeadCommit != "" {
			logger.Info(m.Name+": workspace at "+m.HeadCommit, logfields.Member(m.Name))
		}
	}
	if o.Hooks.Metrics != nil {
		o.Hooks.Metrics.Cycles.Inc()
	}

	results := o.Supervisor.Run(ctx, shutdown, members)

	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			logger.Error("member failed to launch", logfields.Member(r.Member), logfields.Err(r.Err))
			continue
		}
		succeeded++
		if r.ExitCode != 0 {
			logger.Info("member exited non-zero", logfields.Member(r.Member), logfields.ExitCode(r.ExitCode))
		}
		if o.Hooks.Metrics != nil {
			o.Hooks.Metrics.MembersLaunched.Inc()
		}
	}
	if o.Hooks.Metrics != nil {
		for i := 0; i < failed; i++ {
			o.Hooks.Metrics.MembersFailed.Inc()
		}
	}
	logger.Info("launch cycle complete", slog.Int("succeeded", succeeded), slog.Int("failed", failed))
}
