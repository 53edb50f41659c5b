package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/botminter/bm/internal/runtimefiles"
	"github.com/botminter/bm/internal/topology"
)

// TestMain re-execs this binary as a helper-process harness: a member whose
// "launcher" is just this test binary invoked with GO_WANT_HELPER_PROCESS=1,
// behaving per the BM_HELPER_MODE variable baked into its environment.
func TestMain(m *testing.M) {
	os.Exit(m.Run())
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	switch os.Getenv("BM_HELPER_MODE") {
	case "exit0":
		os.Exit(0)
	case "exit7":
		os.Exit(7)
	case "ignore-sigterm-then-exit":
		// Ignores SIGTERM and sleeps past the 5s grace window, so the
		// supervisor has to escalate to SIGKILL.
		signal.Ignore(syscall.SIGTERM)
		time.Sleep(30 * time.Second)
	default:
		os.Exit(0)
	}
}

func helperMember(name, mode string) topology.Member {
	return topology.Member{
		Name:    name,
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess"},
		Env:     []string{"GO_WANT_HELPER_PROCESS=1", "BM_HELPER_MODE=" + mode},
	}
}

func newTestSupervisor(t *testing.T) *Supervisor {
	store := runtimefiles.New(t.TempDir(), "falcons")
	if err := os.MkdirAll(store.LogDir(), 0o750); err != nil {
		t.Fatal(err)
	}
	return &Supervisor{Store: store, Logger: slog.New(slog.DiscardHandler)}
}

func TestRunCollectsExitCodes(t *testing.T) {
	s := newTestSupervisor(t)
	members := []topology.Member{helperMember("a", "exit0"), helperMember("b", "exit7")}

	results := s.Run(context.Background(), make(chan struct{}), members)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	byName := map[string]MemberResult{}
	for _, r := range results {
		byName[r.Member] = r
	}
	if byName["a"].ExitCode != 0 {
		t.Fatalf("expected a to exit 0, got %d", byName["a"].ExitCode)
	}
	if byName["b"].ExitCode != 7 {
		t.Fatalf("expected b to exit 7, got %d", byName["b"].ExitCode)
	}
}

func TestRunEscalatesToSigkillOnShutdown(t *testing.T) {
	s := newTestSupervisor(t)
	members := []topology.Member{helperMember("stubborn", "ignore-sigterm-then-exit")}

	shutdown := make(chan struct{})
	go func() {
		// Give the helper time to start and ignore SIGTERM before shutdown.
		time.Sleep(500 * time.Millisecond)
		close(shutdown)
	}()

	start := time.Now()
	results := s.Run(context.Background(), shutdown, members)
	elapsed := time.Since(start)

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Killed {
		t.Fatal("expected member to be reported killed")
	}
	if elapsed > 6*time.Second {
		t.Fatalf("expected escalation within ~5s, took %s", elapsed)
	}
}

func TestRunWritesPerMemberLogFile(t *testing.T) {
	s := newTestSupervisor(t)
	members := []topology.Member{helperMember("a", "exit0")}

	s.Run(context.Background(), make(chan struct{}), members)

	path := s.Store.MemberLogPath("a")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected log file %s to exist: %v", path, err)
	}
	if got, want := filepath.Base(path), "member-falcons-a.log"; got != want {
		t.Fatalf("expected member log path to include team segment, got %q", got)
	}
}
