package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/loqalabs/loqa-quiz/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWriteConfigMasksCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Bus.Token = "bus-secret"
	cfg.Generation.Remote.APIKey = "gen-secret"

	var buf bytes.Buffer
	if err := writeConfig(&buf, cfg); err != nil {
		t.Fatalf("write config: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "bus-secret") || strings.Contains(out, "gen-secret") {
		t.Fatalf("credentials leaked:\n%s", out)
	}
	if cfg.Bus.Token != "bus-secret" {
		t.Fatalf("caller config was modified")
	}

	var decoded config.Config
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode printed config: %v", err)
	}
	if decoded.RuntimeName != cfg.RuntimeName || decoded.HTTP.Port != cfg.HTTP.Port {
		t.Fatalf("unexpected printed config %+v", decoded)
	}
	if decoded.Generation.Remote.APIKey != redacted || decoded.Narration.Remote.APIKey != "" {
		t.Fatalf("unexpected key masking: %q %q", decoded.Generation.Remote.APIKey, decoded.Narration.Remote.APIKey)
	}
}

func TestNewLoggerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected log output %s", buf.String())
	}
}
