package engine

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-quiz/internal/quiz"
)

// metrics methods are no-ops on a nil receiver or missing instrument.
type metrics struct {
	generations metric.Int64Counter
	submissions metric.Int64Counter
	narrations  metric.Int64Counter
	score       metric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter("github.com/loqalabs/loqa-quiz/engine")
	var (
		m    metrics
		err  error
		errs []error
	)
	if m.generations, err = meter.Int64Counter("quiz_generations_total",
		metric.WithDescription("Quiz generation requests by result")); err != nil {
		errs = append(errs, err)
	}
	if m.submissions, err = meter.Int64Counter("quiz_submissions_total",
		metric.WithDescription("Submitted quizzes by reason")); err != nil {
		errs = append(errs, err)
	}
	if m.narrations, err = meter.Int64Counter("quiz_narrations_total",
		metric.WithDescription("Narration requests by result")); err != nil {
		errs = append(errs, err)
	}
	if m.score, err = meter.Float64Histogram("quiz_score_ratio",
		metric.WithDescription("Fraction of correct answers per submitted quiz"),
		metric.WithExplicitBucketBoundaries(0, 0.2, 0.4, 0.6, 0.7, 0.8, 0.9, 1)); err != nil {
		errs = append(errs, err)
	}
	return &m, errors.Join(errs...)
}

func (m *metrics) generation(ctx context.Context, result string) {
	if m == nil || m.generations == nil {
		return
	}
	m.generations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *metrics) submission(ctx context.Context, r quiz.Result) {
	if m == nil {
		return
	}
	if m.submissions != nil {
		m.submissions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", string(r.Reason)),
			attribute.Bool("passed", r.Passed),
		))
	}
	if m.score != nil {
		m.score.Record(ctx, r.Ratio())
	}
}

func (m *metrics) narration(ctx context.Context, result string) {
	if m == nil || m.narrations == nil {
		return
	}
	m.narrations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
