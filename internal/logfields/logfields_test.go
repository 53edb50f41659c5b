package logfields

import (
	"errors"
	"log/slog"
	"testing"
)

func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    interface{}
	}{
		{"Team", KeyTeam, "falcons", Team("falcons")},
		{"Member", KeyMember, "researcher", Member("researcher")},
		{"Mode", KeyMode, "webhook", Mode("webhook")},
		{"CycleID", KeyCycleID, "c1", CycleID("c1")},
		{"EventType", KeyEventType, "issues", EventType("issues")},
		{"EventID", KeyEventID, "42", EventID("42")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"Source", KeySource, "webhook", Source("webhook")},
		{"RequestID", KeyRequestID, "rid", RequestID("rid")},
	}

	for _, tc := range cases {
		a := tc.attr.(slog.Attr)
		if a.Key != tc.attrKey {
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, a.Key)
		}
		if got := a.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

// TestNumericHelpers verifies keys for numeric & int helpers.
func TestNumericHelpers(t *testing.T) {
	if v := PID(123); v.Key != KeyPID {
		t.Fatalf("PID key mismatch: %s", v.Key)
	}
	if v := Port(8080); v.Key != KeyPort {
		t.Fatalf("Port key mismatch: %s", v.Key)
	}
	if v := Interval(60); v.Key != KeyInterval {
		t.Fatalf("Interval key mismatch: %s", v.Key)
	}
	if v := ExitCode(1); v.Key != KeyExitCode {
		t.Fatalf("ExitCode key mismatch: %s", v.Key)
	}
	if v := DurationMS(12.5); v.Key != KeyDuration {
		t.Fatalf("DurationMS key mismatch: %s", v.Key)
	}
}

func TestErrorHelper(t *testing.T) {
	attr := Err(errors.New("boom"))
	if attr.Key != KeyError {
		t.Fatalf("Err key mismatch: %s", attr.Key)
	}
	if attr.Value.String() != "boom" {
		t.Fatalf("expected 'boom', got %s", attr.Value.String())
	}
}
