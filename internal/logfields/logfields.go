// Package logfields provides canonical log field name constants and slog.Attr
// helpers so the daemon's components tag structured log lines consistently.
package logfields

import "log/slog"

const (
	KeyTeam      = "team"
	KeyMember    = "member"
	KeyPID       = "pid"
	KeyMode      = "mode"
	KeyPort      = "port"
	KeyInterval  = "interval_seconds"
	KeyCycleID   = "cycle_id"
	KeyEventType = "event_type"
	KeyEventID   = "event_id"
	KeyPath      = "path"
	KeyError     = "error"
	KeyDuration  = "duration_ms"
	KeyExitCode  = "exit_code"
	KeySource    = "source"
	KeyRequestID = "request_id"
)

func Team(v string) slog.Attr        { return slog.String(KeyTeam, v) }
func Member(v string) slog.Attr      { return slog.String(KeyMember, v) }
func PID(v int) slog.Attr            { return slog.Int(KeyPID, v) }
func Mode(v string) slog.Attr        { return slog.String(KeyMode, v) }
func Port(v int) slog.Attr           { return slog.Int(KeyPort, v) }
func Interval(v int) slog.Attr       { return slog.Int(KeyInterval, v) }
func CycleID(v string) slog.Attr     { return slog.String(KeyCycleID, v) }
func EventType(v string) slog.Attr   { return slog.String(KeyEventType, v) }
func EventID(v string) slog.Attr     { return slog.String(KeyEventID, v) }
func Path(v string) slog.Attr        { return slog.String(KeyPath, v) }
func Err(v error) slog.Attr          { return slog.String(KeyError, v.Error()) }
func DurationMS(v float64) slog.Attr { return slog.Float64(KeyDuration, v) }
func ExitCode(v int) slog.Attr       { return slog.Int(KeyExitCode, v) }
func Source(v string) slog.Attr      { return slog.String(KeySource, v) }
func RequestID(v string) slog.Attr   { return slog.String(KeyRequestID, v) }
