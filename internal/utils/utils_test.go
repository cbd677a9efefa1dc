package utils

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestLoggerFiltersByLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(&buf, WARNING)
	logger.Info("dropped", nil)
	logger.Warn("kept", map[string]interface{}{"session_id": "s-1"})

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("expected info line to be filtered, got %q", out)
	}
	if !strings.Contains(out, "[WARNING]") || !strings.Contains(out, "session_id=s-1") {
		t.Fatalf("expected warning line with fields, got %q", out)
	}
}

func TestLoggerWithAddsFieldsAsJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(&buf, DEBUG)
	logger.SetJSON(true)
	child := logger.With(map[string]interface{}{"component": "combat"})
	child.Info("round advanced", map[string]interface{}{"round": 2})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry.Message != "round advanced" || entry.Level != "INFO" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Fields["component"] != "combat" {
		t.Fatalf("component field = %v, want combat", entry.Fields["component"])
	}
}

func TestLoggerFatalUsesExitHook(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(&buf, INFO)
	code := -1
	logger.exit = func(c int) { code = c }
	logger.Fatal("boom", nil)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]LogLevel{"debug": DEBUG, "WARN": WARNING, "error": ERROR, "": INFO, "bogus": INFO}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Fatalf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMetricsSnapshot(t *testing.T) {
	t.Parallel()

	m := NewGameMetrics(NewMetricsCollector(), NewLogger(&bytes.Buffer{}, ERROR))
	m.RecordCommand("apply_choice", 5*time.Millisecond, nil)
	m.RecordCommand("apply_choice", 15*time.Millisecond, nil)
	m.RecordAutosave(nil)
	m.SetActiveSessions(3)

	snap := m.Collector().Snapshot()
	if snap.Counters["commands_apply_choice"] != 2 {
		t.Fatalf("commands_apply_choice = %d, want 2", snap.Counters["commands_apply_choice"])
	}
	h := snap.Histograms["command_duration_ms"]
	if h.Count != 2 || h.Min != 5 || h.Max != 15 || h.Sum != 20 {
		t.Fatalf("histogram = %+v", h)
	}
	if snap.Gauges["sessions_active"] != 3 {
		t.Fatalf("sessions_active = %d, want 3", snap.Gauges["sessions_active"])
	}
}

func TestSealSecretRoundTrip(t *testing.T) {
	t.Parallel()

	sealed, err := SealSecret("gemini-key", "passphrase")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !IsSealed(sealed) || strings.Contains(sealed, "gemini-key") {
		t.Fatalf("expected sealed value, got %q", sealed)
	}
	opened, err := OpenSecret(sealed, "passphrase")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if opened != "gemini-key" {
		t.Fatalf("opened = %q, want gemini-key", opened)
	}
	if _, err := OpenSecret(sealed, "wrong"); err == nil {
		t.Fatal("expected error with wrong passphrase")
	}
	if plain, _ := OpenSecret("plain", ""); plain != "plain" {
		t.Fatalf("unsealed values pass through, got %q", plain)
	}
}
