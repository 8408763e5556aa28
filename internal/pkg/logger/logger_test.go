package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v, want %v", in, got, want)
		}
	}
}

func TestNew_JSONByDefault(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info", "")
	l.Info("run started", slog.String("run_id", "r1"))
	l.Debug("hidden")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected a single json line, got %q: %v", buf.String(), err)
	}
	if line["run_id"] != "r1" {
		t.Fatalf("missing run_id attr: %v", line)
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "debug", "text").Debug("probe", slog.Int("count", 2))
	if !bytes.Contains(buf.Bytes(), []byte("count=2")) {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}
