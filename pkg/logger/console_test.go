package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestConsoleHandlerRendersPrefixAndTag(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewConsoleHandler(&buf, slog.LevelDebug)).
		With(slog.Int("account", 3), slog.String("address", "0xabc"), slog.String("ip", "1.2.3.4"))

	Success(l, "checked in", slog.Int("points", 15))

	out := buf.String()
	if !strings.Contains(out, "SUCCESS") {
		t.Fatalf("expected SUCCESS tag, got %q", out)
	}
	if !strings.Contains(out, "[3][0xabc][1.2.3.4] checked in") {
		t.Fatalf("expected bracketed prefix, got %q", out)
	}
	if !strings.Contains(out, "15") || strings.Contains(out, "address=") {
		t.Fatalf("unexpected attrs rendering: %q", out)
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewConsoleHandler(&buf, slog.LevelWarn))
	l.Info("hidden")
	Success(l, "hidden too")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("records below WARN should be dropped: %q", out)
	}
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "shown") {
		t.Fatalf("expected warn record, got %q", out)
	}
}

func TestConsoleHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewConsoleHandler(&buf, slog.LevelInfo)).WithGroup("rpc")
	l.Info("dial", slog.Int("attempt", 2))
	if !strings.Contains(buf.String(), "rpc.attempt=") {
		t.Fatalf("expected grouped key, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"success": LevelSuccess,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
