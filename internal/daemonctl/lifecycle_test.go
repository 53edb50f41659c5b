package daemonctl

import (
	"os"
	"os/exec"
	"testing"

	"github.com/botminter/bm/internal/runtimefiles"
)

func TestStatusReportsNotRunning(t *testing.T) {
	root := t.TempDir()
	st, err := Status("falcons", root)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Kind != runtimefiles.StatusNotRunning {
		t.Fatalf("expected StatusNotRunning, got %v", st.Kind)
	}
}

func TestStopWhenNotRunningIsNoOp(t *testing.T) {
	root := t.TempDir()
	if err := Stop("falcons", root); err != nil {
		t.Fatalf("expected Stop to be a no-op when not running, got %v", err)
	}
}

func TestStopReleasesRuntimeFiles(t *testing.T) {
	root := t.TempDir()
	store := runtimefiles.New(root, "falcons")

	// A live child process stands in for the daemon, so Stop takes the
	// signal-then-poll path rather than the no-op path. The goroutine reaps
	// it once SIGTERM ends it.
	child := exec.Command("sleep", "30")
	if err := child.Start(); err != nil {
		t.Fatalf("starting stand-in daemon: %v", err)
	}
	go child.Wait() //nolint:errcheck

	if _, err := store.Claim(runtimefiles.Snapshot{Team: "falcons", PID: child.Process.Pid}); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := os.Stat(store.PIDPath()); err != nil {
		t.Fatalf("expected pid file to exist after Claim: %v", err)
	}

	if err := Stop("falcons", root); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	for _, p := range []string{store.PIDPath(), store.ConfigPath()} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed after Stop, got err=%v", p, err)
		}
	}
}

func TestProcessStillAlive(t *testing.T) {
	if !processStillAlive(os.Getpid()) {
		t.Fatal("expected current process to be reported alive")
	}
	if processStillAlive(1 << 30) {
		t.Fatal("expected implausible pid to be reported not alive")
	}
}
