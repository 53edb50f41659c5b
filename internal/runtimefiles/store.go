// Package runtimefiles owns the on-disk layout of daemon runtime artifacts:
// the PID file, the config snapshot, and the poll cursor, all keyed by team.
// It implements the claim/release/status protocol from the daemon spec so
// that at most one live daemon ever holds a team's PID file.
package runtimefiles

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/botminter/bm/internal/bmerr"
)

// Store resolves and manipulates the runtime files for a single team under a
// state root directory (by default a per-user state directory).
type Store struct {
	root string
	team string
}

// New returns a Store rooted at stateRoot for the given team.
func New(stateRoot, team string) *Store {
	return &Store{root: stateRoot, team: team}
}

// DefaultStateRoot returns the per-user state directory bm uses when the
// caller did not override it: $HOME/.local/state/bm on every platform.
func DefaultStateRoot() (string, error) {
	base, err := os.UserHomeDir()
	if err != nil {
		return "", bmerr.FatalWrap(err, bmerr.CategoryRuntime, "cannot resolve state root")
	}
	return filepath.Join(base, ".local", "state", "bm"), nil
}

func (s *Store) PIDPath() string    { return filepath.Join(s.root, fmt.Sprintf("daemon-%s.pid", s.team)) }
func (s *Store) ConfigPath() string { return filepath.Join(s.root, fmt.Sprintf("daemon-%s.json", s.team)) }
func (s *Store) CursorPath() string {
	return filepath.Join(s.root, fmt.Sprintf("daemon-%s-poll.json", s.team))
}
func (s *Store) LogDir() string { return filepath.Join(s.root, "logs") }
func (s *Store) DaemonLogPath() string {
	return filepath.Join(s.LogDir(), fmt.Sprintf("daemon-%s.log", s.team))
}
func (s *Store) MemberLogPath(member string) string {
	return filepath.Join(s.LogDir(), fmt.Sprintf("member-%s-%s.log", s.team, member))
}

// Snapshot is the immutable config snapshot written at start and removed at
// stop (§3). The webhook secret itself is never persisted here.
type Snapshot struct {
	Team                 string    `json:"team"`
	Mode                 string    `json:"mode"`
	Port                 int       `json:"port,omitempty"`
	IntervalSeconds       int       `json:"interval_seconds,omitempty"`
	PID                  int       `json:"pid"`
	StartTime            time.Time `json:"start_time"`
	WebhookSecretPresent bool      `json:"webhook_secret_present"`
}

// Cursor is the poll cursor record (§3), persisted after each successful poll.
type Cursor struct {
	LastEventID string    `json:"last_event_id"`
	LastPollAt  time.Time `json:"last_poll_at"`
}

// Status variants returned by Status().
type StatusKind int

const (
	StatusNotRunning StatusKind = iota
	StatusNotRunningStale
	StatusRunning
)

type StatusResult struct {
	Kind     StatusKind
	PID      int
	Snapshot *Snapshot
}

// processAlive reports whether pid refers to a live process, using signal 0
// per POSIX convention (no signal is actually delivered).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if strings.Contains(err.Error(), "already finished") {
		return false
	}
	// ESRCH -> dead; EPERM -> alive but owned by someone else (still "alive").
	return err == syscall.EPERM
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	return pid, nil
}

// Status implements the §4.1 status protocol. A stale PID file is removed as
// a side effect of detecting it, matching §8's round-trip invariant.
func (s *Store) Status() (StatusResult, error) {
	pidPath := s.PIDPath()
	pid, err := readPID(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return StatusResult{Kind: StatusNotRunning}, nil
		}
		return StatusResult{}, bmerr.FatalWrap(err, bmerr.CategoryRuntime, "failed to read pid file")
	}

	if processAlive(pid) {
		snap, _ := s.readSnapshot()
		return StatusResult{Kind: StatusRunning, PID: pid, Snapshot: snap}, nil
	}

	// Stale: reclaim silently per §4.1.
	_ = os.Remove(pidPath)
	_ = os.Remove(s.ConfigPath())
	return StatusResult{Kind: StatusNotRunningStale, PID: pid}, nil
}

func (s *Store) readSnapshot() (*Snapshot, error) {
	data, err := os.ReadFile(s.ConfigPath())
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// AlreadyRunningError is returned by Claim when a live daemon already holds
// the team's PID file.
type AlreadyRunningError struct{ PID int }

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("daemon already running (pid %d)", e.PID)
}

// Claim implements the §4.1 claim protocol used by `bm daemon start`: checks
// for a live competing daemon, silently reclaims a stale PID file, then
// durably writes the config snapshot followed by the PID file.
func (s *Store) Claim(snap Snapshot) (reclaimedStale bool, err error) {
	if err := os.MkdirAll(s.root, 0o750); err != nil {
		return false, bmerr.FatalWrap(err, bmerr.CategoryRuntime, "failed to create state root")
	}
	if err := os.MkdirAll(s.LogDir(), 0o750); err != nil {
		return false, bmerr.FatalWrap(err, bmerr.CategoryRuntime, "failed to create log directory")
	}

	pidPath := s.PIDPath()
	if pid, readErr := readPID(pidPath); readErr == nil {
		if processAlive(pid) {
			return false, &AlreadyRunningError{PID: pid}
		}
		// Stale: remove before claiming.
		_ = os.Remove(pidPath)
		_ = os.Remove(s.ConfigPath())
		reclaimedStale = true
	} else if !os.IsNotExist(readErr) {
		return false, bmerr.FatalWrap(readErr, bmerr.CategoryRuntime, "failed to inspect pid file")
	}

	if err := writeFileFsync(s.ConfigPath(), mustJSON(snap)); err != nil {
		return reclaimedStale, bmerr.FatalWrap(err, bmerr.CategoryRuntime, "failed to write config snapshot")
	}
	if err := writeFileFsync(pidPath, []byte(strconv.Itoa(snap.PID))); err != nil {
		return reclaimedStale, bmerr.FatalWrap(err, bmerr.CategoryRuntime, "failed to write pid file")
	}
	return reclaimedStale, nil
}

// Release implements the §4.1 release protocol: best-effort removal of the
// PID, config, and cursor files. Failures are returned for the caller to log
// at WARN; they never fail the shutdown path (§7).
func (s *Store) Release() []error {
	var errs []error
	for _, p := range []string{s.PIDPath(), s.ConfigPath(), s.CursorPath()} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	return errs
}

// ReadCursor hydrates the poll cursor, returning (nil, nil) if absent.
func (s *Store) ReadCursor() (*Cursor, error) {
	data, err := os.ReadFile(s.CursorPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// WriteCursor atomically rewrites the poll cursor: write to a tempfile in the
// same directory, fsync, then rename (§4.6 step 7).
func (s *Store) WriteCursor(c Cursor) error {
	if err := os.MkdirAll(s.root, 0o750); err != nil {
		return err
	}
	return writeFileAtomic(s.CursorPath(), mustJSON(c))
}

func mustJSON(v any) []byte {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(err) // programmer error: v must always be JSON-serializable
	}
	return data
}

func writeFileFsync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
