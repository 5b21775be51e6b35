package runtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/loqalabs/loqa-quiz/internal/config"
)

func TestTelemetryWithoutMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.Metrics = false
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tel, err := setupTelemetry(context.Background(), cfg, "1.2.3", logger)
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	if tel.metrics != nil {
		t.Fatalf("expected no metrics handler")
	}
	version, ok := tel.resource.Set().Value(semconv.ServiceVersionKey)
	if !ok || version.AsString() != "1.2.3" {
		t.Fatalf("unexpected service version %v", version)
	}
	name, ok := tel.resource.Set().Value(semconv.ServiceNameKey)
	if !ok || name.AsString() != cfg.RuntimeName {
		t.Fatalf("unexpected service name %v", name)
	}
}

func TestTelemetryServesMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.Metrics = true
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tel, err := setupTelemetry(context.Background(), cfg, "dev", logger)
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	if tel.metrics == nil {
		t.Fatalf("expected metrics handler")
	}

	counter, err := tel.meter.Meter("quiz-test").Int64Counter("quiz.test.commands")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	rec := httptest.NewRecorder()
	tel.metrics.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"quiz_test_commands", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
