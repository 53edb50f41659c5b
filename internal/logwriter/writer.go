// Package logwriter implements the daemon log: a serialized, line-oriented
// writer with size-triggered single-generation rotation (§4.4). It is
// installed as an slog.Handler so every component in daemon-run logs through
// the same durable, rotating sink, and separately offers a raw appender for
// per-member log files (opaque byte streams, no formatting, no rotation).
package logwriter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const maxSizeBytes = 10 * 1024 * 1024 // 10 MiB, §4.4

// Writer is a serialized, rotating line writer for the daemon log.
type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
	size int64
}

// Open opens (creating if absent) the daemon log at path for appending.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Writer{path: path, f: f, size: info.Size()}, nil
}

// WriteLine appends a single pre-formatted line, rotating first if the
// current file has already reached the 10 MiB threshold.
func (w *Writer) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size >= maxSizeBytes {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := w.f.WriteString(line)
	if err != nil {
		return err
	}
	w.size += int64(n)
	return nil
}

// rotateLocked renames the current file to "<path>.old" (replacing any prior
// generation) and opens a fresh file. Caller must hold w.mu.
func (w *Writer) rotateLocked() error {
	if err := w.f.Close(); err != nil {
		return err
	}
	oldPath := w.path + ".old"
	if err := os.Rename(w.path, oldPath); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	w.f = f
	w.size = 0
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Handler adapts Writer to slog.Handler, rendering the exact line format
// mandated by §4.4: "[<ISO-8601-UTC>] [<LEVEL>] <message>\n".
type Handler struct {
	w     *Writer
	attrs []slog.Attr
}

// NewHandler wraps w as an slog.Handler.
func NewHandler(w *Writer) *Handler {
	return &Handler{w: w}
}

func (h *Handler) Enabled(context.Context, slog.Level) bool { return true }

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	msg := r.Message
	for _, a := range h.attrs {
		msg += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		msg += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
		return true
	})
	line := fmt.Sprintf("[%s] [%s] %s\n", r.Time.UTC().Format(time.RFC3339), levelName(r.Level), msg)
	return h.w.WriteLine(line)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &Handler{w: h.w, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
	return next
}

func (h *Handler) WithGroup(string) slog.Handler { return h }

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	default:
		return "INFO"
	}
}

// MemberLog opens a per-member log file in append mode for use as a child
// process's stdout/stderr (§4.4: opaque, no formatting, no rotation).
func MemberLog(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
}
