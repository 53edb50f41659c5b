// Package poller implements the GitHub Events API poller (§4.6): a
// scheduled cycle that hydrates a persisted cursor, fetches
// /repos/{owner}/{repo}/events, and enqueues a launch trigger exactly once
// per batch of new relevant events. Scheduling is delegated to
// github.com/go-co-op/gocron/v2 rather than a hand-rolled ticker.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/botminter/bm/internal/config"
	"github.com/botminter/bm/internal/logfields"
	"github.com/botminter/bm/internal/runtimefiles"
	"github.com/botminter/bm/internal/webhook"
)

// DefaultInterval is used when the caller configures 0 (§3: interval_seconds >= 1).
const DefaultInterval = 60 * time.Second

// Event is the subset of a GitHub event the daemon reads (§6): all other
// fields are ignored.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Poller periodically polls a team's GitHub repo for new relevant events.
type Poller struct {
	Team     config.Team
	Store    *runtimefiles.Store
	Interval time.Duration
	Logger   *slog.Logger
	Metrics  *webhook.Metrics
	Triggers chan<- string

	HTTPClient *http.Client // overridable for tests
	APIBaseURL string       // overridable for tests, defaults to https://api.github.com

	lastEventID string
}

func (p *Poller) httpClient() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

func (p *Poller) apiBase() string {
	if p.APIBaseURL != "" {
		return p.APIBaseURL
	}
	return "https://api.github.com"
}

// Run registers the poll cycle with gocron at Interval and blocks until
// shutdown closes, checking the flag at least once per second (§5) even
// though gocron itself only wakes at the configured interval.
func (p *Poller) Run(ctx context.Context, shutdown <-chan struct{}) error {
	if existing, err := p.Store.ReadCursor(); err == nil && existing != nil {
		p.lastEventID = existing.LastEventID
	}

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating poll scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if shuttingDown(shutdown) {
				return
			}
			p.pollOnce(ctx)
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("scheduling poll job: %w", err)
	}

	sched.Start()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-shutdown:
			return sched.Shutdown()
		case <-ctx.Done():
			return sched.Shutdown()
		case <-ticker.C:
			// cooperative yield point only; gocron drives the real work.
		}
	}
}

func shuttingDown(shutdown <-chan struct{}) bool {
	select {
	case <-shutdown:
		return true
	default:
		return false
	}
}

// pollOnce implements §4.6 steps 2-8 for a single cycle.
func (p *Poller) pollOnce(ctx context.Context) {
	owner, repo, err := p.Team.RepoOwnerAndName()
	if err != nil {
		p.Logger.Error("invalid team repo", logfields.Err(err))
		return
	}

	url := fmt.Sprintf("%s/repos/%s/%s/events", p.apiBase(), owner, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.Logger.Warn("failed to build poll request", logfields.Err(err))
		p.countPollError()
		return
	}
	if token := p.Team.GitHubToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.httpClient().Do(req)
	if err != nil {
		// Step 3: transport error -> WARN, cursor not advanced, retry next interval.
		p.Logger.Warn("poll request failed", logfields.Err(err))
		p.countPollError()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.Logger.Warn("poll request returned non-2xx", slog.Int("status", resp.StatusCode))
		p.countPollError()
		return
	}

	var events []Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		p.Logger.Warn("failed to decode poll response", logfields.Err(err))
		p.countPollError()
		return
	}

	// Events arrive newest-first already (§4.6 step 4); no re-sort needed.
	bootstrapping := p.lastEventID == ""
	newEvents := newEventsPrefix(events, p.lastEventID)

	if !bootstrapping {
		for _, e := range newEvents {
			if webhook.RelevantEventTypes[e.Type] {
				select {
				case p.Triggers <- "poll":
				default:
				}
				p.Logger.Info("poll found relevant events, enqueued trigger", slog.Int("new_events", len(newEvents)))
				break
			}
		}
	}

	if len(events) > 0 {
		p.lastEventID = events[0].ID
		if err := p.Store.WriteCursor(runtimefiles.Cursor{LastEventID: p.lastEventID, LastPollAt: time.Now().UTC()}); err != nil {
			p.Logger.Warn("failed to persist poll cursor", logfields.Err(err))
		}
	}
}

func (p *Poller) countPollError() {
	if p.Metrics != nil {
		p.Metrics.PollErrors.Inc()
	}
}

// newEventsPrefix returns the prefix of events (newest-first) whose id
// hasn't been seen yet, stopping at the first id matching lastEventID
// (§4.6 step 5). If lastEventID is empty, every event on this call is
// "seen" without being reported as new (first-poll bootstrap).
func newEventsPrefix(events []Event, lastEventID string) []Event {
	if lastEventID == "" {
		return nil
	}
	var out []Event
	for _, e := range events {
		if e.ID == lastEventID {
			break
		}
		out = append(out, e)
	}
	return out
}
