package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-quiz/internal/config"
	"github.com/loqalabs/loqa-quiz/internal/eventstore"
	"github.com/loqalabs/loqa-quiz/internal/narration"
	"github.com/loqalabs/loqa-quiz/internal/protocol"
	"github.com/loqalabs/loqa-quiz/internal/quiz"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

type stubGenerator struct {
	questions []quiz.Question
	err       error
}

func (g stubGenerator) Generate(ctx context.Context, req quiz.StartRequest) ([]quiz.Question, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.questions, nil
}

func questions(answers ...string) []quiz.Question {
	out := make([]quiz.Question, len(answers))
	for i, a := range answers {
		out[i] = quiz.Question{ID: i + 1, Question: "What is $x$?", Options: []string{"A", "B", "C", "D"}, Answer: a}
	}
	return out
}

type harness struct {
	engine  *Engine
	tickers chan *fakeTicker
	mu      sync.Mutex
	timers  []func()
}

func newHarness(t *testing.T, gen stubGenerator, opts Options) *harness {
	t.Helper()
	h := &harness{tickers: make(chan *fakeTicker, 4)}
	opts.NewTicker = func(time.Duration) Ticker {
		ft := &fakeTicker{ch: make(chan time.Time)}
		h.tickers <- ft
		return ft
	}
	opts.AfterFunc = func(_ time.Duration, f func()) {
		h.mu.Lock()
		h.timers = append(h.timers, f)
		h.mu.Unlock()
	}
	h.engine = New(context.Background(), gen, testLogger(), opts)
	if err := h.engine.Start(); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) fireTimers() {
	h.mu.Lock()
	timers := h.timers
	h.timers = nil
	h.mu.Unlock()
	for _, f := range timers {
		f()
	}
}

func waitFor(t *testing.T, e *Engine, what string, cond func(protocol.Snapshot) bool) protocol.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := e.Snapshot()
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last state %+v", what, snap.Quiz)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func answering(s protocol.Snapshot) bool { return s.Quiz.Mode == quiz.ModeAnswering }

func start(t *testing.T, h *harness, count int) *fakeTicker {
	t.Helper()
	ctx := context.Background()
	snap, err := h.engine.Dispatch(ctx, quiz.Start{Request: quiz.StartRequest{Topic: "Physics", QuestionCount: count}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if snap.Quiz.Mode != quiz.ModeLoading {
		t.Fatalf("expected loading, got %v", snap.Quiz.Mode)
	}
	waitFor(t, h.engine, "quiz loaded", answering)
	select {
	case ft := <-h.tickers:
		return ft
	case <-time.After(time.Second):
		t.Fatalf("timer was not started")
		return nil
	}
}

func TestEngineTimeoutSubmits(t *testing.T) {
	h := newHarness(t, stubGenerator{questions: questions("A", "B", "C")}, Options{})
	ft := start(t, h, 3)

	for i := 0; i < quiz.DefaultTotalSeconds; i++ {
		ft.ch <- time.Now()
	}
	snap, err := h.engine.Dispatch(context.Background(), quiz.Navigate{Delta: -1})
	if err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if snap.Quiz.Mode != quiz.ModeReviewing || snap.Quiz.Score == nil {
		t.Fatalf("expected review after timeout, got %v", snap.Quiz.Mode)
	}
	if snap.Quiz.Score.Correct != 0 || snap.Quiz.Score.Total != 3 || snap.Quiz.Score.Reason != quiz.SubmitTimeout {
		t.Fatalf("unexpected score %+v", snap.Quiz.Score)
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if !ft.stopped {
		t.Fatalf("ticker must be stopped on submission")
	}
}

func TestEngineGenerationFailure(t *testing.T) {
	gen := stubGenerator{err: &quiz.GenerationError{Status: 500, Err: errors.New("status 500: overloaded")}}
	h := newHarness(t, gen, Options{})
	if _, err := h.engine.Dispatch(context.Background(), quiz.Start{Request: quiz.StartRequest{Topic: "x", QuestionCount: 2}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitFor(t, h.engine, "failure notice", func(s protocol.Snapshot) bool { return s.Quiz.Notice != nil })
	if snap.Quiz.Mode != quiz.ModeIdle || snap.Quiz.Attempt != "" {
		t.Fatalf("expected empty idle session, got %+v", snap.Quiz)
	}
	if !strings.Contains(snap.Quiz.Notice.Message, "Failed to generate quiz") {
		t.Fatalf("unexpected notice %q", snap.Quiz.Notice.Message)
	}
	select {
	case <-h.tickers:
		t.Fatalf("timer must not start when generation fails")
	default:
	}
}

func TestEngineNoticeExpires(t *testing.T) {
	h := newHarness(t, stubGenerator{}, Options{})
	snap, err := h.engine.Dispatch(context.Background(), quiz.Start{Request: quiz.StartRequest{Topic: "", QuestionCount: 3}})
	var verr *quiz.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if snap.Quiz.Notice == nil || !strings.Contains(snap.Quiz.Notice.Message, "(1-10)") {
		t.Fatalf("expected validation notice, got %+v", snap.Quiz.Notice)
	}
	h.fireTimers()
	waitFor(t, h.engine, "notice cleared", func(s protocol.Snapshot) bool { return s.Quiz.Notice == nil })
}

type blockingSynth struct {
	started   chan struct{}
	cancelled chan struct{}
}

func (b *blockingSynth) Synthesize(ctx context.Context, text string) (narration.Audio, error) {
	b.started <- struct{}{}
	<-ctx.Done()
	close(b.cancelled)
	return narration.Audio{}, ctx.Err()
}

func TestEngineNavigationStopsNarration(t *testing.T) {
	synth := &blockingSynth{started: make(chan struct{}, 1), cancelled: make(chan struct{})}
	h := newHarness(t, stubGenerator{questions: questions("A", "B")}, Options{Synth: synth, Player: narration.NullPlayer{}})
	start(t, h, 2)

	snap, err := h.engine.Narrate(context.Background())
	if err != nil {
		t.Fatalf("narrate: %v", err)
	}
	if snap.Narration.State != narration.StateLoading || snap.Narration.Label != "Loading Audio..." {
		t.Fatalf("expected loading narration, got %+v", snap.Narration)
	}
	<-synth.started

	snap, err = h.engine.Dispatch(context.Background(), quiz.Navigate{Delta: 1})
	if err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if snap.Narration.State != narration.StateReady || snap.Quiz.Index != 1 {
		t.Fatalf("expected narration stopped before the new question, got %+v", snap.Narration)
	}
	select {
	case <-synth.cancelled:
	case <-time.After(time.Second):
		t.Fatalf("in-flight narration request was not cancelled")
	}
	if snap.Quiz.Notice != nil {
		t.Fatalf("stopping narration must not post a notice")
	}
}

type instantSynth struct{}

func (instantSynth) Synthesize(ctx context.Context, text string) (narration.Audio, error) {
	return narration.Audio{PCM: []int16{1, 2, 3, 4}, SampleRate: 8000}, nil
}

// holdingPlayer plays until cancelled.
type holdingPlayer struct {
	stopped chan struct{}
}

func (p *holdingPlayer) Play(ctx context.Context, clip narration.Clip) error {
	<-ctx.Done()
	close(p.stopped)
	return ctx.Err()
}

func TestEngineNavigationStopsPlayback(t *testing.T) {
	player := &holdingPlayer{stopped: make(chan struct{})}
	h := newHarness(t, stubGenerator{questions: questions("A", "B")}, Options{Synth: instantSynth{}, Player: player})
	start(t, h, 2)

	if _, err := h.engine.Narrate(context.Background()); err != nil {
		t.Fatalf("narrate: %v", err)
	}
	waitFor(t, h.engine, "narration playing", func(s protocol.Snapshot) bool {
		return s.Narration.State == narration.StatePlaying
	})

	snap, err := h.engine.Dispatch(context.Background(), quiz.Navigate{Delta: 1})
	if err != nil {
		t.Fatalf("navigate: %v", err)
	}
	select {
	case <-player.stopped:
	default:
		t.Fatalf("playback still running when the next question was shown")
	}
	if snap.Narration.State != narration.StateReady || snap.Quiz.Index != 1 {
		t.Fatalf("expected ready narration on question 2, got %+v index %d", snap.Narration, snap.Quiz.Index)
	}
	if snap.Quiz.Notice != nil {
		t.Fatalf("stopping playback must not post a notice")
	}
}

func TestEngineNarrationGuards(t *testing.T) {
	h := newHarness(t, stubGenerator{}, Options{})
	if _, err := h.engine.Narrate(context.Background()); !errors.Is(err, quiz.ErrNarrationOff) {
		t.Fatalf("expected ErrNarrationOff, got %v", err)
	}

	h = newHarness(t, stubGenerator{}, Options{Synth: narration.NewMockSynth(8000), Player: narration.NullPlayer{}})
	if _, err := h.engine.Narrate(context.Background()); !errors.Is(err, quiz.ErrNoQuiz) {
		t.Fatalf("expected ErrNoQuiz, got %v", err)
	}
}

type failingSynth struct{}

func (failingSynth) Synthesize(context.Context, string) (narration.Audio, error) {
	return narration.Audio{}, &quiz.NarrationError{Status: 400, Err: errors.New("status 400")}
}

func TestEngineNarrationFailureNotice(t *testing.T) {
	h := newHarness(t, stubGenerator{questions: questions("A")}, Options{Synth: failingSynth{}, Player: narration.NullPlayer{}})
	start(t, h, 1)
	if _, err := h.engine.Narrate(context.Background()); err != nil {
		t.Fatalf("narrate: %v", err)
	}
	snap := waitFor(t, h.engine, "narration failure notice", func(s protocol.Snapshot) bool { return s.Quiz.Notice != nil })
	if !strings.HasPrefix(snap.Quiz.Notice.Message, "Voice-Over failed:") {
		t.Fatalf("unexpected notice %q", snap.Quiz.Notice.Message)
	}
	if snap.Narration.State != narration.StateReady || snap.Quiz.Mode != quiz.ModeAnswering {
		t.Fatalf("narration failure must only restore the read button")
	}
}

func TestEngineRecordsTimeline(t *testing.T) {
	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{RetentionMode: eventstore.RetentionMemory}, testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := newHarness(t, stubGenerator{questions: questions("A", "B")}, Options{Store: store})
	start(t, h, 2)
	ctx := context.Background()
	if _, err := h.engine.Dispatch(ctx, quiz.Select{Option: "A"}); err != nil {
		t.Fatalf("select: %v", err)
	}
	snap, err := h.engine.Dispatch(ctx, quiz.Submit{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	id, events, err := h.engine.Timeline(ctx, "")
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if id != snap.Quiz.Attempt {
		t.Fatalf("expected current attempt timeline")
	}
	want := []string{eventstore.EventStarted, eventstore.EventLoaded, eventstore.EventAnswered, eventstore.EventSubmitted}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %+v", len(want), events)
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Fatalf("event %d: expected %s, got %s", i, typ, events[i].Type)
		}
	}

	attempts, err := h.engine.Attempts(ctx, 10)
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].Correct != 1 || attempts[0].Total != 2 || attempts[0].Status != eventstore.EventSubmitted {
		t.Fatalf("unexpected attempts %+v", attempts)
	}

	attempt, err := h.engine.Attempt(ctx, snap.Quiz.Attempt)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if attempt.Topic != "Physics" || attempt.Correct != 1 {
		t.Fatalf("unexpected attempt %+v", attempt)
	}
	if _, err := h.engine.Attempt(ctx, "missing"); !errors.Is(err, eventstore.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEngineEphemeralStoreSkipsTimeline(t *testing.T) {
	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{RetentionMode: eventstore.RetentionEphemeral}, testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := newHarness(t, stubGenerator{questions: questions("A")}, Options{Store: store})
	start(t, h, 1)
	ctx := context.Background()
	snap, err := h.engine.Dispatch(ctx, quiz.Submit{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	id, events, err := h.engine.Timeline(ctx, "")
	if err != nil || id != snap.Quiz.Attempt || len(events) != 0 {
		t.Fatalf("expected empty timeline for %s, got %v %+v", id, err, events)
	}
	if _, err := h.engine.Attempt(ctx, snap.Quiz.Attempt); !errors.Is(err, eventstore.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	states int
	narr   []narration.State
}

func (p *recordingPublisher) PublishState(protocol.Snapshot) {
	p.mu.Lock()
	p.states++
	p.mu.Unlock()
}

func (p *recordingPublisher) PublishNarration(st narration.Status) {
	p.mu.Lock()
	p.narr = append(p.narr, st.State)
	p.mu.Unlock()
}

func TestEngineTimelineKeepsLongAttempts(t *testing.T) {
	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{RetentionMode: eventstore.RetentionMemory}, testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := newHarness(t, stubGenerator{questions: questions("A", "B")}, Options{Store: store})
	start(t, h, 2)
	ctx := context.Background()
	for i := 0; i < 120; i++ {
		option := "A"
		if i%2 == 1 {
			option = "B"
		}
		if _, err := h.engine.Dispatch(ctx, quiz.Select{Option: option}); err != nil {
			t.Fatalf("select %d: %v", i, err)
		}
	}
	if _, err := h.engine.Dispatch(ctx, quiz.Submit{}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, events, err := h.engine.Timeline(ctx, "")
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(events) != 123 {
		t.Fatalf("expected started, loaded, 120 answers and submitted; got %d events", len(events))
	}
	if first, last := events[0].Type, events[len(events)-1].Type; first != eventstore.EventStarted || last != eventstore.EventSubmitted {
		t.Fatalf("unexpected timeline bounds %s..%s", first, last)
	}
}

func TestEnginePublishesChanges(t *testing.T) {
	pub := &recordingPublisher{}
	h := newHarness(t, stubGenerator{questions: questions("A")}, Options{Publisher: pub, Synth: narration.NewMockSynth(8000), Player: narration.NullPlayer{}})
	start(t, h, 1)
	if _, err := h.engine.Narrate(context.Background()); err != nil {
		t.Fatalf("narrate: %v", err)
	}
	waitFor(t, h.engine, "narration done", func(s protocol.Snapshot) bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.narr) >= 3 && s.Narration.State == narration.StateReady
	})
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.states < 3 {
		t.Fatalf("expected state publications, got %d", pub.states)
	}
	if pub.narr[0] != narration.StateLoading || pub.narr[1] != narration.StatePlaying {
		t.Fatalf("unexpected narration sequence %v", pub.narr)
	}
}
