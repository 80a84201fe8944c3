package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

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
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWriterFormats(t *testing.T) {
	t.Parallel()

	var text bytes.Buffer
	NewWriter(&text, "info", "text").Debug("hidden")
	NewWriter(&text, "info", "").Info("collection started", "keyword_id", 7)
	if strings.Contains(text.String(), "hidden") || !strings.Contains(text.String(), "keyword_id=7") {
		t.Fatalf("unexpected text output %q", text.String())
	}

	var js bytes.Buffer
	NewWriter(&js, "debug", "json").Debug("source finished", "source", "HN")
	var rec map[string]any
	if err := json.Unmarshal(js.Bytes(), &rec); err != nil {
		t.Fatalf("json output: %v (%q)", err, js.String())
	}
	if rec["source"] != "HN" || rec["msg"] != "source finished" {
		t.Fatalf("unexpected record %v", rec)
	}
}
