// Package supervisor spawns member launcher processes for one launch cycle,
// redirects their stdout/stderr into per-member log files, and shuts them
// down with the SIGTERM -> wait(5s) -> SIGKILL escalation from §4.3.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/botminter/bm/internal/logfields"
	"github.com/botminter/bm/internal/logwriter"
	"github.com/botminter/bm/internal/runtimefiles"
	"github.com/botminter/bm/internal/topology"
)

const childWaitTimeout = 5 * time.Second

// MemberResult reports how one member's child process concluded.
type MemberResult struct {
	Member   string
	PID      int
	ExitCode int
	Err      error
	Killed   bool
}

// Supervisor runs one launch cycle: spawn every member, wait for all of them
// concurrently, and react to an external shutdown signal by escalating.
type Supervisor struct {
	Store  *runtimefiles.Store
	Logger *slog.Logger
}

// runningChild tracks one spawned member. done is closed exactly once, by
// the single goroutine that calls cmd.Wait(); result/killed are only safe
// to read after done is closed.
type runningChild struct {
	member topology.Member
	cmd    *exec.Cmd
	logf   *os.File
	done   chan struct{}

	mu     sync.Mutex
	result error
	killed bool
}

func (r *runningChild) setKilled() {
	r.mu.Lock()
	r.killed = true
	r.mu.Unlock()
}

// Run spawns every member and blocks until they have all exited or the
// shutdown channel closes, in which case it escalates per §4.3 steps 1-4.
// Log lines "<member>: launched (PID <pid>)" and "<member>: log file at
// <path>" are emitted for every child that starts (§4.3).
func (s *Supervisor) Run(ctx context.Context, shutdown <-chan struct{}, members []topology.Member) []MemberResult {
	var procs []*runningChild
	results := make([]MemberResult, 0, len(members))

	for _, m := range members {
		cmd, logf, err := s.spawn(m)
		if err != nil {
			s.Logger.Error("failed to spawn member", logfields.Member(m.Name), logfields.Err(err))
			results = append(results, MemberResult{Member: m.Name, Err: err})
			continue
		}

		r := &runningChild{member: m, cmd: cmd, logf: logf, done: make(chan struct{})}
		procs = append(procs, r)
		go func(r *runningChild) {
			err := r.cmd.Wait()
			r.mu.Lock()
			r.result = err
			r.mu.Unlock()
			close(r.done)
		}(r)
	}

	if len(procs) > 0 {
		allDone := make(chan struct{})
		go func() {
			for _, r := range procs {
				<-r.done
			}
			close(allDone)
		}()

		select {
		case <-allDone:
		case <-shutdown:
			s.escalate(procs)
		case <-ctx.Done():
			s.escalate(procs)
		}
	}

	for _, r := range procs {
		<-r.done // reap: guaranteed to unblock, naturally or via escalation
		r.mu.Lock()
		err, killed := r.result, r.killed
		r.mu.Unlock()

		mr := MemberResult{Member: r.member.Name, PID: r.cmd.Process.Pid, Killed: killed}
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				mr.ExitCode = exitErr.ExitCode()
			} else if !killed {
				mr.Err = err
			}
		}
		r.logf.Close()
		results = append(results, mr)
	}
	return results
}

func (s *Supervisor) spawn(m topology.Member) (*exec.Cmd, *os.File, error) {
	logPath := s.Store.MemberLogPath(m.Name)
	logf, err := logwriter.MemberLog(logPath)
	if err != nil {
		return nil, nil, err
	}

	cmd := exec.Command(m.Command, m.Args...)
	cmd.Dir = m.Workspace
	cmd.Env = append(os.Environ(), m.Env...)
	cmd.Stdout = logf
	cmd.Stderr = logf

	if err := cmd.Start(); err != nil {
		logf.Close()
		return nil, nil, err
	}

	s.Logger.Info(fmt.Sprintf("%s: launched (PID %d)", m.Name, cmd.Process.Pid), logfields.Member(m.Name), logfields.PID(cmd.Process.Pid))
	s.Logger.Info(m.Name+": log file at "+logPath, logfields.Member(m.Name), logfields.Path(logPath))
	return cmd, logf, nil
}

// escalate implements §4.3's shutdown sequence: SIGTERM every still-running
// child, wait up to 5s each, then SIGKILL stragglers that ignored it. A
// child that exits within the grace period must not receive SIGKILL (§8).
func (s *Supervisor) escalate(procs []*runningChild) {
	var wg sync.WaitGroup
	for _, r := range procs {
		select {
		case <-r.done:
			continue // already exited before we got to it
		default:
		}
		_ = r.cmd.Process.Signal(syscall.SIGTERM)

		wg.Add(1)
		go func(r *runningChild) {
			defer wg.Done()
			select {
			case <-r.done:
			case <-time.After(childWaitTimeout):
				s.Logger.Warn("member ignored SIGTERM, escalating to SIGKILL", logfields.Member(r.member.Name))
				r.setKilled()
				_ = r.cmd.Process.Kill()
				<-r.done
			}
		}(r)
	}
	wg.Wait()
}
