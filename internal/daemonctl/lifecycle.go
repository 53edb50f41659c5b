package daemonctl

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/botminter/bm/internal/bmerr"
	"github.com/botminter/bm/internal/config"
	"github.com/botminter/bm/internal/runtimefiles"
)

// StartOptions carries everything `bm daemon start` needs to resolve before
// spawning the detached daemon-run child (§4.8 steps 1-7).
type StartOptions struct {
	Team        config.Team
	Mode        string // "webhook" | "poll"
	Port        int
	Interval    int
	StateRoot   string
	BMPath      string // path to the bm executable itself, for re-exec
}

const livenessPollWindow = 2 * time.Second
const livenessPollInterval = 100 * time.Millisecond

// Start implements `bm daemon start`: validate, spawn the detached
// daemon-run child, claim the runtime files with the child's pid, and verify
// the child is still alive after a short grace window before reporting
// success.
func Start(opts StartOptions) (pid int, err error) {
	if err := config.ValidateSchema(opts.Team); err != nil {
		return 0, err
	}
	if opts.Mode != "webhook" && opts.Mode != "poll" {
		return 0, bmerr.Fatal(bmerr.CategoryConfig, fmt.Sprintf("unknown daemon mode %q", opts.Mode))
	}

	store := runtimefiles.New(opts.StateRoot, opts.Team.Name)

	if st, err := store.Status(); err == nil && st.Kind == runtimefiles.StatusRunning {
		return 0, &runtimefiles.AlreadyRunningError{PID: st.PID}
	}

	args := []string{"daemon-run", "--team", opts.Team.Name, "--mode", opts.Mode, "--state-root", opts.StateRoot}
	if opts.Mode == "webhook" {
		args = append(args, "--port", fmt.Sprintf("%d", opts.Port))
	} else {
		args = append(args, "--interval", fmt.Sprintf("%d", opts.Interval))
	}

	cmd := exec.Command(opts.BMPath, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	setDetached(cmd)

	if err := cmd.Start(); err != nil {
		return 0, bmerr.FatalWrap(err, bmerr.CategorySpawn, "failed to spawn daemon-run")
	}
	childPID := cmd.Process.Pid
	// daemon-run is detached: release the handle so it doesn't become a zombie
	// under this process once it outlives `bm daemon start`.
	go cmd.Wait() //nolint:errcheck

	snap := runtimefiles.Snapshot{
		Team:                 opts.Team.Name,
		Mode:                 opts.Mode,
		Port:                 opts.Port,
		IntervalSeconds:      opts.Interval,
		PID:                  childPID,
		StartTime:            time.Now().UTC(),
		WebhookSecretPresent: opts.Team.WebhookSecret() != "",
	}
	if _, err := store.Claim(snap); err != nil {
		_ = cmd.Process.Kill()
		return 0, err
	}

	deadline := time.Now().Add(livenessPollWindow)
	for time.Now().Before(deadline) {
		if !processStillAlive(childPID) {
			_ = store.Release()
			return 0, bmerr.Fatal(bmerr.CategoryRuntime, fmt.Sprintf("daemon exited immediately after start (pid %d); check the daemon log", childPID))
		}
		time.Sleep(livenessPollInterval)
	}

	return childPID, nil
}

// Stop implements `bm daemon stop`: SIGTERM the daemon, poll for exit up to
// 30s, escalate to SIGKILL, then release the runtime files (§4.2).
func Stop(team string, stateRoot string) error {
	store := runtimefiles.New(stateRoot, team)

	st, err := store.Status()
	if err != nil {
		return err
	}
	if st.Kind != runtimefiles.StatusRunning {
		return store_releaseBestEffort(store)
	}

	if err := signalTerm(st.PID); err != nil {
		return bmerr.FatalWrap(err, bmerr.CategoryRuntime, fmt.Sprintf("failed to signal daemon (pid %d)", st.PID))
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if !processStillAlive(st.PID) {
			return store_releaseBestEffort(store)
		}
		time.Sleep(200 * time.Millisecond)
	}

	_ = signalKill(st.PID)
	return store_releaseBestEffort(store)
}

func store_releaseBestEffort(store *runtimefiles.Store) error {
	for _, err := range store.Release() {
		slog.Warn("failed to remove runtime file", slog.Any("error", err))
	}
	return nil
}

// Status implements `bm daemon status`: report running/not-running/stale,
// with mode/port/interval/start_time when a snapshot is available.
func Status(team string, stateRoot string) (runtimefiles.StatusResult, error) {
	store := runtimefiles.New(stateRoot, team)
	return store.Status()
}

func processStillAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscallSig0()) == nil
}
