package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Info("nothing", String("k", "v"))
	l.With(Int("n", 1)).Error("still nothing")
}

func TestWithFieldsAreWritten(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "debug").With(String("comp", "engine"))
	l.Warn("job.timeout", String("job", "a"), Int("attempt", 2))

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if m["comp"] != "engine" || m["job"] != "a" || m["message"] != "job.timeout" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["level"] != "warn" {
		t.Fatalf("level = %v, want warn", m["level"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn")
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at warn level: %q", buf.String())
	}
	if l.Enabled(LevelDebug) {
		t.Fatalf("debug should be disabled")
	}
	if !l.Enabled(LevelError) {
		t.Fatalf("error should be enabled")
	}
}

func TestServiceFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, l := NewService(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	l.Info("hello", String("k", "v"))
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), `"message":"hello"`) {
		t.Fatalf("file sink missing line: %q", string(b))
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"bogus", LevelWarn},
		{"", LevelWarn},
		{" warning ", LevelWarn},
		{"DEBUG", LevelDebug},
		{"trace", LevelTrace},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in, LevelWarn); got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if err := ValidateLevel("loud"); err == nil {
		t.Fatalf("ValidateLevel accepted an unknown level")
	}
	if err := ValidateLevel(" "); err != nil {
		t.Fatalf("blank level rejected: %v", err)
	}
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestComponentLevelOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, root := NewService(Config{
		Level:      "info",
		File:       FileConfig{Enabled: true, Path: path},
		Components: map[string]string{"engine": "debug", "bad": "loud"},
	})
	engine := root.Component("engine")
	queue := root.Component("queue")

	engine.Debug("engine detail")
	queue.Debug("queue detail")
	queue.Info("queue info")
	if !engine.Enabled(LevelDebug) || queue.Enabled(LevelDebug) {
		t.Fatalf("Enabled does not follow component overrides")
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %v", len(lines), lines)
	}
	if lines[0]["message"] != "engine detail" || lines[0]["comp"] != "engine" {
		t.Fatalf("first line = %v", lines[0])
	}
	if lines[1]["message"] != "queue info" {
		t.Fatalf("second line = %v", lines[1])
	}
}

func TestApplyKeepsDerivedLoggersLive(t *testing.T) {
	dir := t.TempDir()
	first, second := filepath.Join(dir, "a.log"), filepath.Join(dir, "b.log")
	svc, root := NewService(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	l := root.Component("app")

	l.Debug("dropped")
	l.Info("to first")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: second}})
	l.Debug("to second")
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := readLines(t, first); len(got) != 1 || got[0]["message"] != "to first" {
		t.Fatalf("first file = %v", got)
	}
	if got := readLines(t, second); len(got) != 1 || got[0]["message"] != "to second" {
		t.Fatalf("second file = %v", got)
	}
}
