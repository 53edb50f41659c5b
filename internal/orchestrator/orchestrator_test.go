package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/botminter/bm/internal/config"
	"github.com/botminter/bm/internal/runtimefiles"
	"github.com/botminter/bm/internal/supervisor"
	"github.com/botminter/bm/internal/topology"
	"github.com/botminter/bm/internal/webhook"
)

func newTestOrchestrator(t *testing.T, cycleDelay time.Duration, coalescedCount *int32) (*Orchestrator, chan string) {
	root := t.TempDir()
	memberDir := filepath.Join(root, "researcher")
	if err := os.MkdirAll(memberDir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(memberDir, "PROMPT.md"), []byte("# p"), 0o640); err != nil {
		t.Fatal(err)
	}

	script := "true"
	if cycleDelay > 0 {
		script = "sleep " + cycleDelay.Truncate(time.Second).String()
	}

	store := runtimefiles.New(t.TempDir(), "falcons")
	if err := os.MkdirAll(store.LogDir(), 0o750); err != nil {
		t.Fatal(err)
	}

	triggers := NewTriggerChannel()
	o := &Orchestrator{
		Team:     config.Team{Name: "falcons", WorkspaceRoot: root},
		Launcher: topology.Launcher{Command: "sh", Args: []string{"-c", script}},
		Supervisor: &supervisor.Supervisor{
			Store:  store,
			Logger: slog.New(slog.DiscardHandler),
		},
		Logger:   slog.New(slog.DiscardHandler),
		Triggers: triggers,
	}
	if coalescedCount != nil {
		o.Hooks.TriggersCoalesced = func() { atomic.AddInt32(coalescedCount, 1) }
	}
	return o, triggers
}

func TestTriggerStartsACycle(t *testing.T) {
	o, triggers := newTestOrchestrator(t, 0, nil)
	shutdown := make(chan struct{})

	done := make(chan struct{})
	go func() {
		o.Run(context.Background(), shutdown)
		close(done)
	}()

	triggers <- "webhook"
	time.Sleep(300 * time.Millisecond)
	close(shutdown)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after shutdown")
	}
}

func TestBurstOfTriggersCoalescesToOneFollowUp(t *testing.T) {
	var coalesced int32
	o, triggers := newTestOrchestrator(t, 1*time.Second, &coalesced)
	metrics := webhook.NewMetrics(prometheus.NewRegistry())
	o.Hooks.Metrics = metrics
	shutdown := make(chan struct{})

	done := make(chan struct{})
	go func() {
		o.Run(context.Background(), shutdown)
		close(done)
	}()

	// First trigger starts a cycle; the burst that follows while it's
	// in-flight must coalesce into at most one follow-up cycle (§8 invariant
	// 5, the burst-coalescing scenario).
	triggers <- "webhook"
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 4; i++ {
		select {
		case triggers <- "webhook":
		default:
		}
	}

	time.Sleep(2500 * time.Millisecond)
	close(shutdown)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after shutdown")
	}

	if atomic.LoadInt32(&coalesced) == 0 {
		t.Fatal("expected at least one trigger to be reported as coalesced")
	}

	// The in-flight cycle plus exactly one coalesced follow-up.
	var cycles dto.Metric
	if err := metrics.Cycles.Write(&cycles); err != nil {
		t.Fatal(err)
	}
	if got := cycles.GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected 2 launch cycles, got %v", got)
	}
}
