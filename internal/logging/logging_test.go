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

	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "DEBUG", want: slog.LevelDebug},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "verbose", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || (!tt.wantErr && got != tt.want) {
			t.Fatalf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

// Setup replaces the default logger, so these tests do not run in parallel.
func TestSetupJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	t.Setenv(LevelEnvVar, "")

	var buf bytes.Buffer
	if _, err := Setup(&buf, "debug", "json"); err != nil {
		t.Fatal(err)
	}
	slog.Debug("hello", slog.String("repo", "game"))
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected a JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "hello" || rec["repo"] != "game" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestSetupEnvOverridesLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	t.Setenv(LevelEnvVar, "error")

	var buf bytes.Buffer
	if _, err := Setup(&buf, "debug", "text"); err != nil {
		t.Fatal(err)
	}
	slog.Info("dropped")
	slog.Error("kept")
	if out := buf.String(); strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	t.Setenv(LevelEnvVar, "")
	if _, err := Setup(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatal("expected error")
	}
}
