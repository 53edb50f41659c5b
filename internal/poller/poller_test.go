package poller

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/botminter/bm/internal/config"
	"github.com/botminter/bm/internal/runtimefiles"
	"github.com/botminter/bm/internal/webhook"
)

func newTestPoller(t *testing.T, events []Event) (*Poller, *runtimefiles.Store, chan string) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(events)
	}))
	t.Cleanup(srv.Close)

	store := runtimefiles.New(t.TempDir(), "falcons")
	triggers := make(chan string, 1)
	reg := prometheus.NewRegistry()

	p := &Poller{
		Team:       config.Team{Name: "falcons", Repo: "acme/falcons"},
		Store:      store,
		Interval:   time.Second,
		Logger:     slog.New(slog.DiscardHandler),
		Metrics:    webhook.NewMetrics(reg),
		Triggers:   triggers,
		HTTPClient: srv.Client(),
		APIBaseURL: srv.URL,
	}
	return p, store, triggers
}

func TestFirstPollBootstrapsCursorWithoutTrigger(t *testing.T) {
	events := []Event{
		{ID: "3", Type: "issues"},
		{ID: "2", Type: "push"},
		{ID: "1", Type: "issues"},
	}
	p, store, triggers := newTestPoller(t, events)

	p.pollOnce(t.Context())

	cursor, err := store.ReadCursor()
	if err != nil {
		t.Fatalf("ReadCursor: %v", err)
	}
	if cursor == nil || cursor.LastEventID != "3" {
		t.Fatalf("expected cursor at newest id '3', got %+v", cursor)
	}
	select {
	case <-triggers:
		t.Fatal("expected zero triggers on bootstrap poll")
	default:
	}
}

func TestSecondPollEnqueuesTriggerForNewRelevantEvents(t *testing.T) {
	events := []Event{
		{ID: "5", Type: "issues"},
		{ID: "4", Type: "push"},
		{ID: "3", Type: "issues"},
	}
	p, store, triggers := newTestPoller(t, events)

	if err := store.WriteCursor(runtimefiles.Cursor{LastEventID: "3"}); err != nil {
		t.Fatal(err)
	}
	p.lastEventID = "3"

	p.pollOnce(t.Context())

	select {
	case src := <-triggers:
		if src != "poll" {
			t.Fatalf("expected source 'poll', got %q", src)
		}
	default:
		t.Fatal("expected a trigger for new relevant events")
	}

	cursor, err := store.ReadCursor()
	if err != nil {
		t.Fatal(err)
	}
	if cursor.LastEventID != "5" {
		t.Fatalf("expected cursor advanced to '5', got %q", cursor.LastEventID)
	}
}

func TestPollWithNoNewEventsDoesNotTrigger(t *testing.T) {
	p, store, triggers := newTestPoller(t, []Event{{ID: "1", Type: "issues"}})
	if err := store.WriteCursor(runtimefiles.Cursor{LastEventID: "1"}); err != nil {
		t.Fatal(err)
	}
	p.lastEventID = "1"

	p.pollOnce(t.Context())

	select {
	case <-triggers:
		t.Fatal("expected no trigger when no new events since cursor")
	default:
	}
}

func TestNewEventsPrefix(t *testing.T) {
	events := []Event{{ID: "5"}, {ID: "4"}, {ID: "3"}, {ID: "2"}}

	if got := newEventsPrefix(events, ""); got != nil {
		t.Fatalf("expected nil for empty lastEventID (bootstrap), got %v", got)
	}

	got := newEventsPrefix(events, "3")
	if len(got) != 2 || got[0].ID != "5" || got[1].ID != "4" {
		t.Fatalf("expected [5 4], got %v", got)
	}

	if got := newEventsPrefix(events, "unknown"); len(got) != len(events) {
		t.Fatalf("expected all events when lastEventID not found, got %v", got)
	}
}

func TestPollOnceHandlesNon2xxWithoutAdvancingCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := runtimefiles.New(t.TempDir(), "falcons")
	reg := prometheus.NewRegistry()
	p := &Poller{
		Team:       config.Team{Name: "falcons", Repo: "acme/falcons"},
		Store:      store,
		Logger:     slog.New(slog.DiscardHandler),
		Metrics:    webhook.NewMetrics(reg),
		Triggers:   make(chan string, 1),
		HTTPClient: srv.Client(),
		APIBaseURL: srv.URL,
	}

	p.pollOnce(t.Context())

	if cursor, _ := store.ReadCursor(); cursor != nil {
		t.Fatalf("expected no cursor written on non-2xx response, got %+v", cursor)
	}
}
