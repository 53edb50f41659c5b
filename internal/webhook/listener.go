// Package webhook implements the HTTP/1.1 listener from §4.5: a single
// POST /webhook endpoint that validates the GitHub HMAC signature, filters
// by event type, and enqueues a launch trigger. A sibling /metrics endpoint
// (github.com/prometheus/client_golang) exposes daemon counters — an
// ambient addition, not required by the core spec, grounded on the
// teacher's http_server_prom.go pattern.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/botminter/bm/internal/logfields"
)

// RelevantEventTypes is the fixed set of GitHub event types that trigger a
// launch cycle (§4.6 step 6, GLOSSARY "Relevant event"). Not configurable,
// per §9's open-questions resolution.
var RelevantEventTypes = map[string]bool{
	"issues":         true,
	"issue_comment":  true,
	"pull_request":   true,
}

// Metrics are the Prometheus counters exposed on /metrics.
type Metrics struct {
	Cycles            prometheus.Counter
	TriggersCoalesced prometheus.Counter
	MembersLaunched   prometheus.Counter
	MembersFailed     prometheus.Counter
	PollErrors        prometheus.Counter
}

// NewMetrics registers and returns a fresh set of counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles:            prometheus.NewCounter(prometheus.CounterOpts{Name: "bm_cycles_total", Help: "Launch cycles run."}),
		TriggersCoalesced: prometheus.NewCounter(prometheus.CounterOpts{Name: "bm_triggers_coalesced_total", Help: "Triggers folded into a pending cycle."}),
		MembersLaunched:   prometheus.NewCounter(prometheus.CounterOpts{Name: "bm_members_launched_total", Help: "Members successfully spawned."}),
		MembersFailed:     prometheus.NewCounter(prometheus.CounterOpts{Name: "bm_members_failed_total", Help: "Member spawn failures."}),
		PollErrors:        prometheus.NewCounter(prometheus.CounterOpts{Name: "bm_poll_errors_total", Help: "GitHub Events API poll failures."}),
	}
	reg.MustRegister(m.Cycles, m.TriggersCoalesced, m.MembersLaunched, m.MembersFailed, m.PollErrors)
	return m
}

// Listener serves POST /webhook and GET /metrics.
type Listener struct {
	Port     int
	Secret   string // empty disables signature validation (§4.5 step 1)
	Logger   *slog.Logger
	Metrics  *Metrics
	Registry *prometheus.Registry // gathered at /metrics; must be the registry Metrics was created against
	Triggers chan<- string        // enqueue function; "webhook" provenance

	srv *http.Server
}

// BindError is returned when the listener fails to bind its port, mirroring
// §4.5's exact required diagnostic phrasing.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("Failed to bind to 0.0.0.0:%d", e.Port)
}

func (e *BindError) Unwrap() error { return e.Err }

// ListenAndServe binds 0.0.0.0:<port> and serves until ctx is canceled. Bind
// failures are fatal and returned immediately (§4.5).
func (l *Listener) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", l.handleWebhook)
	mux.Handle("/metrics", promhttp.HandlerFor(l.Registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("0.0.0.0:%d", l.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Port: l.Port, Err: err}
	}

	l.srv = &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- l.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return l.srv.Shutdown(shutdownCtx)
	}
}

func (l *Listener) handleWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	logger := l.Logger.With(logfields.RequestID(requestID))

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/webhook" {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	// Step 1: signature validation, strict order (§4.5).
	if l.Secret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !validSignature(sig, body, l.Secret) {
			logger.Warn("webhook signature mismatch")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	// Step 2: event header required.
	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "" {
		http.Error(w, "missing X-GitHub-Event header", http.StatusBadRequest)
		return
	}

	// Step 3-4: filter by relevant event type.
	if !RelevantEventTypes[eventType] {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ignored"))
		return
	}

	select {
	case l.Triggers <- "webhook":
	default:
		// Trigger channel coalescing is the orchestrator's job (§4.7); a
		// full channel here just means a cycle is already pending.
	}

	logger.Info("webhook accepted", logfields.EventType(eventType))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("accepted"))
}

// validSignature computes the HMAC-SHA256 of body with secret and compares
// it in constant time against the "sha256=<hex>" header value.
func validSignature(header string, body []byte, secret string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	expected := strings.TrimPrefix(header, prefix)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	calc := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(calc))
}
