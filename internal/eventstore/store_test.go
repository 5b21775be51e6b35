package eventstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-quiz/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: RetentionEphemeral}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if es.Enabled() {
		t.Fatalf("ephemeral store must not open a database")
	}
	if err := es.AppendEvent(ctx, Event{AttemptID: "a", Type: EventStarted}); err != nil {
		t.Fatalf("append on ephemeral store: %v", err)
	}
	if _, err := es.GetAttempt(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryAttemptLifecycle(t *testing.T) {
	ctx := context.Background()
	es, err := Open(ctx, config.EventStoreConfig{RetentionMode: RetentionMemory}, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	if err := es.BeginAttempt(ctx, Attempt{ID: "attempt-1", Topic: "Optics", QuestionCount: 5, Difficulty: "General"}); err != nil {
		t.Fatalf("begin attempt: %v", err)
	}
	for _, typ := range []string{EventStarted, EventLoaded, EventAnswered, EventSubmitted} {
		if err := es.AppendEvent(ctx, Event{AttemptID: "attempt-1", Type: typ, Payload: []byte(`{}`)}); err != nil {
			t.Fatalf("append %s: %v", typ, err)
		}
	}
	if err := es.UpdateAttempt(ctx, "attempt-1", EventSubmitted, 3, 5, "explicit"); err != nil {
		t.Fatalf("update attempt: %v", err)
	}
	if err := es.UpdateAttempt(ctx, "attempt-1", EventFinished, 0, 0, "review_finished"); err != nil {
		t.Fatalf("finish attempt: %v", err)
	}

	a, err := es.GetAttempt(ctx, "attempt-1")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if a.Status != EventFinished || a.Correct != 3 || a.Total != 5 || a.Reason != "review_finished" {
		t.Fatalf("unexpected attempt %+v", a)
	}
	if a.FinishedAt.IsZero() {
		t.Fatalf("expected finished timestamp")
	}

	events, err := es.ListAttemptEvents(ctx, "attempt-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 4 || events[0].Type != EventStarted || events[3].Type != EventSubmitted {
		t.Fatalf("unexpected events %+v", events)
	}

	if err := es.UpdateAttempt(ctx, "missing", EventFinished, 0, 0, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendAndQuerySession(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: RetentionSession}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	if err := es.BeginAttempt(context.Background(), Attempt{ID: "attempt-123", Topic: "History", QuestionCount: 2}); err != nil {
		t.Fatalf("begin attempt: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{AttemptID: "attempt-123", Type: EventLoaded, Payload: []byte("hello")}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := es.ListAttemptEvents(context.Background(), "attempt-123", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if string(events[0].Payload) != "hello" {
		t.Fatalf("unexpected payload: %s", events[0].Payload)
	}
}

func TestListAttemptEventsNewestWindow(t *testing.T) {
	ctx := context.Background()
	es, err := Open(ctx, config.EventStoreConfig{RetentionMode: RetentionMemory}, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 150; i++ {
		typ := EventAnswered
		if i == 149 {
			typ = EventSubmitted
		}
		evt := Event{AttemptID: "long", Type: typ, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := es.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	all, err := es.ListAttemptEvents(ctx, "long", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(all) != 150 || all[149].Type != EventSubmitted {
		t.Fatalf("expected all 150 events ending with submitted, got %d", len(all))
	}

	tail, err := es.ListAttemptEvents(ctx, "long", 5)
	if err != nil {
		t.Fatalf("list tail: %v", err)
	}
	if len(tail) != 5 || tail[4].Type != EventSubmitted || !tail[0].CreatedAt.Equal(base.Add(145*time.Second)) {
		t.Fatalf("expected newest 5 events in order, got %+v", tail)
	}
}

func TestPruneByDaysAndAttempts(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: RetentionMemory, RetentionDays: 1, MaxAttempts: 1}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.BeginAttempt(ctx, Attempt{ID: "old", Topic: "t", QuestionCount: 1}); err != nil {
		t.Fatalf("begin attempt: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{AttemptID: "old", Type: EventStarted}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for _, id := range []string{"mid", "new"} {
		if err := es.BeginAttempt(ctx, Attempt{ID: id, Topic: "t", QuestionCount: 1}); err != nil {
			t.Fatalf("begin attempt: %v", err)
		}
		es.clock = func() time.Time { return time.Date(2025, 1, 3, 1, 0, 0, 0, time.UTC) }
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListAttemptEvents(ctx, "old", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old attempt pruned")
	}
	attempts, err := es.ListAttempts(ctx, 10)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].ID != "new" {
		t.Fatalf("expected only newest attempt kept, got %+v", attempts)
	}
}
