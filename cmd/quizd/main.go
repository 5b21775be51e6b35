package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loqalabs/loqa-quiz/internal/config"
	"github.com/loqalabs/loqa-quiz/internal/runtime"
)

var version = "0.1.0-dev"

const redacted = "<redacted>"

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults and QUIZ_* environment when empty)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration as YAML and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quizd: load config: %v\n", err)
		os.Exit(1)
	}
	if *printConfig {
		if err := writeConfig(os.Stdout, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "quizd: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := newLogger(os.Stdout, cfg.Telemetry.LogLevel).With(slog.String("runtime", cfg.RuntimeName))
	os.Exit(run(cfg, logger))
}

func run(cfg config.Config, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runtime.New(cfg, logger, version).Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(time.Second)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// writeConfig prints cfg with credentials masked.
func writeConfig(w io.Writer, cfg config.Config) error {
	for _, secret := range []*string{&cfg.Bus.Token, &cfg.Generation.Remote.APIKey, &cfg.Narration.Remote.APIKey} {
		if *secret != "" {
			*secret = redacted
		}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
