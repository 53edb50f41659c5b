// Package signalch installs OS signal handlers and exposes a single-shot,
// monotonic shutdown flag that every cooperative component polls. It is the
// one process-wide singleton in the daemon (§9 design notes): OS signal
// handlers are inherently global, so rather than thread a *Channel through
// every layer, daemon-run creates one at entry and every task holds a
// reference to it.
package signalch

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Channel converts SIGTERM/SIGINT into a monotonic shutdown flag.
type Channel struct {
	once   sync.Once
	done   chan struct{}
	closer sync.Once
}

// New installs the signal handlers for a new Channel. Each call returns its
// own Channel with its own os/signal registration; install runs at most once
// per Channel.
func New() *Channel {
	c := &Channel{done: make(chan struct{})}
	c.install()
	return c
}

func (c *Channel) install() {
	c.once.Do(func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		go func() {
			<-sigCh
			c.trigger()
		}()
	})
}

func (c *Channel) trigger() {
	c.closer.Do(func() {
		close(c.done)
	})
}

// Done returns a channel that is closed exactly once, the moment SIGTERM or
// SIGINT is received. Safe to select on from any number of goroutines.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// ShuttingDown reports whether shutdown has been requested, without
// blocking. Cooperative loops call this at every yield point (§5).
func (c *Channel) ShuttingDown() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Trigger forces shutdown programmatically. It is used by tests and by
// daemon-run when one of its components returns an error.
func (c *Channel) Trigger() {
	c.trigger()
}
