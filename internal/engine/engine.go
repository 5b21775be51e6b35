// Package engine runs the single quiz session on one owner goroutine and
// performs the side effects its transitions ask for.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/loqalabs/loqa-quiz/internal/eventstore"
	"github.com/loqalabs/loqa-quiz/internal/generation"
	"github.com/loqalabs/loqa-quiz/internal/narration"
	"github.com/loqalabs/loqa-quiz/internal/protocol"
	"github.com/loqalabs/loqa-quiz/internal/quiz"
)

var ErrClosed = errors.New("engine closed")

// Publisher receives every state and narration change.
type Publisher interface {
	PublishState(protocol.Snapshot)
	PublishNarration(narration.Status)
}

// Ticker delivers the one-second countdown.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

type Options struct {
	Settings          quiz.Settings
	NoticeTTL         time.Duration
	GenerationTimeout time.Duration

	// Synth and Player enable narration when both are set.
	Synth  narration.Synthesizer
	Player narration.Player

	Store     *eventstore.Store
	Publisher Publisher

	NewTicker func(time.Duration) Ticker
	AfterFunc func(time.Duration, func())
}

type request struct {
	apply func() ([]quiz.Effect, error)
	reply chan result
}

type result struct {
	snap protocol.Snapshot
	err  error
}

type Engine struct {
	session   *quiz.Session
	generator generation.Generator
	narrator  *narration.Narrator
	store     *eventstore.Store
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics
	opts      Options

	requests chan request
	inbox    chan quiz.Event
	ticker   Ticker

	view     atomic.Pointer[quiz.View]
	narr     atomic.Pointer[narration.Status]
	version  atomic.Uint64
	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func New(parent context.Context, gen generation.Generator, logger *slog.Logger, opts Options) *Engine {
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = 8 * time.Second
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 2 * time.Minute
	}
	if opts.NewTicker == nil {
		opts.NewTicker = func(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	ctx, cancel := context.WithCancel(parent)
	e := &Engine{
		session:   quiz.NewSession(opts.Settings),
		generator: gen,
		store:     enabledStore(opts.Store),
		publisher: opts.Publisher,
		logger:    logger.With(slog.String("component", "quiz-engine")),
		opts:      opts,
		requests:  make(chan request),
		inbox:     make(chan quiz.Event, 16),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m, err := newMetrics()
	if err != nil {
		e.logger.Warn("failed to initialize metrics", slogError(err))
	}
	e.metrics = m

	if opts.Synth != nil && opts.Player != nil {
		e.narrator = narration.NewNarrator(opts.Synth, opts.Player, logger, narration.Options{
			OnStatus: e.narrationChanged,
			OnError:  e.narrationFailed,
		})
	}
	idle := narration.Status{State: narration.StateReady, Label: narration.StateReady.Label(), Disabled: e.narrator == nil}
	e.narr.Store(&idle)
	view := e.session.View()
	e.view.Store(&view)
	return e
}

// Start launches the owner goroutine.
func (e *Engine) Start() error {
	e.running.Store(true)
	go e.loop()
	return nil
}

// Close stops the owner goroutine, narration and the countdown, then waits
// for in-flight generation requests to return.
func (e *Engine) Close() {
	e.stopOnce.Do(func() {
		e.cancel()
		if e.running.Load() {
			<-e.done
		}
		if e.narrator != nil {
			e.narrator.Close()
		}
		e.wg.Wait()
	})
}

func (e *Engine) Healthy() bool {
	select {
	case <-e.done:
		return false
	default:
		return e.running.Load()
	}
}

// Snapshot returns the latest published state.
func (e *Engine) Snapshot() protocol.Snapshot {
	return protocol.Snapshot{
		Version:   e.version.Load(),
		Quiz:      *e.view.Load(),
		Narration: *e.narr.Load(),
		Timestamp: time.Now().UTC(),
	}
}

// Dispatch applies ev to the session and returns the resulting state.
func (e *Engine) Dispatch(ctx context.Context, ev quiz.Event) (protocol.Snapshot, error) {
	return e.call(ctx, func() ([]quiz.Effect, error) { return e.session.Dispatch(ev) })
}

// Narrate reads the displayed question aloud, replacing any narration in
// progress.
func (e *Engine) Narrate(ctx context.Context) (protocol.Snapshot, error) {
	return e.call(ctx, func() ([]quiz.Effect, error) {
		if e.narrator == nil {
			return nil, quiz.ErrNarrationOff
		}
		mode := e.session.Mode()
		if mode != quiz.ModeAnswering && mode != quiz.ModeReviewing {
			return nil, quiz.ErrNoQuiz
		}
		q, _ := e.session.Current()
		attempt := e.session.Attempt()
		index := e.session.View().Index
		e.narrator.Start(e.ctx, narration.Request{Attempt: attempt, Question: index, Text: q.Question})
		e.metrics.narration(e.ctx, "started")
		e.record(attempt, eventstore.EventNarrationStarted, map[string]any{"question": index + 1})
		return nil, nil
	})
}

// StopNarration halts the active narration, if any.
func (e *Engine) StopNarration(ctx context.Context) (protocol.Snapshot, error) {
	return e.call(ctx, func() ([]quiz.Effect, error) {
		if e.narrator == nil {
			return nil, quiz.ErrNarrationOff
		}
		if e.narrator.Status().State != narration.StateReady {
			e.record(e.session.Attempt(), eventstore.EventNarrationStopped, nil)
		}
		e.narrator.Stop()
		return nil, nil
	})
}

// Timeline lists the recorded events of an attempt; an empty id selects the
// current attempt.
func (e *Engine) Timeline(ctx context.Context, attemptID string) (string, []eventstore.Event, error) {
	if attemptID == "" {
		attemptID = e.view.Load().Attempt
	}
	if attemptID == "" || e.store == nil {
		return attemptID, nil, nil
	}
	events, err := e.store.ListAttemptEvents(ctx, attemptID, 0)
	return attemptID, events, err
}

// Attempt loads one recorded attempt. It returns eventstore.ErrNotFound when
// the timeline is disabled or the attempt is unknown.
func (e *Engine) Attempt(ctx context.Context, id string) (eventstore.Attempt, error) {
	if e.store == nil {
		return eventstore.Attempt{}, eventstore.ErrNotFound
	}
	return e.store.GetAttempt(ctx, id)
}

// Attempts lists recent attempts, newest first.
func (e *Engine) Attempts(ctx context.Context, limit int) ([]eventstore.Attempt, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.ListAttempts(ctx, limit)
}

// enabledStore drops a store that retains nothing.
func enabledStore(s *eventstore.Store) *eventstore.Store {
	if s == nil || !s.Enabled() {
		return nil
	}
	return s
}

func (e *Engine) call(ctx context.Context, apply func() ([]quiz.Effect, error)) (protocol.Snapshot, error) {
	req := request{apply: apply, reply: make(chan result, 1)}
	select {
	case e.requests <- req:
	case <-ctx.Done():
		return protocol.Snapshot{}, ctx.Err()
	case <-e.done:
		return protocol.Snapshot{}, ErrClosed
	}
	select {
	case res := <-req.reply:
		return res.snap, res.err
	case <-ctx.Done():
		return protocol.Snapshot{}, ctx.Err()
	}
}

func (e *Engine) loop() {
	defer close(e.done)
	defer e.stopTimer()
	for {
		var tick <-chan time.Time
		if e.ticker != nil {
			tick = e.ticker.C()
		}
		select {
		case <-e.ctx.Done():
			return
		case req := <-e.requests:
			effects, err := req.apply()
			e.apply(effects)
			req.reply <- result{snap: e.refresh(), err: err}
		case ev := <-e.inbox:
			e.step(ev)
		case <-tick:
			e.step(quiz.Tick{})
		}
	}
}

func (e *Engine) step(ev quiz.Event) {
	if failed, ok := ev.(quiz.NarrationFailed); ok {
		e.record(e.session.Attempt(), eventstore.EventNarrationFailed, map[string]any{"error": failed.Err.Error()})
	}
	effects, err := e.session.Dispatch(ev)
	if err != nil {
		e.logger.Debug("event rejected", slog.String("event", eventName(ev)), slogError(err))
	}
	e.apply(effects)
	e.refresh()
}

// post hands an event to the owner goroutine. It gives up once the engine
// is closed.
func (e *Engine) post(ev quiz.Event) {
	select {
	case e.inbox <- ev:
	case <-e.ctx.Done():
	}
}

func (e *Engine) refresh() protocol.Snapshot {
	view := e.session.View()
	e.view.Store(&view)
	e.version.Add(1)
	snap := e.Snapshot()
	if e.publisher != nil {
		e.publisher.PublishState(snap)
	}
	return snap
}

func (e *Engine) apply(effects []quiz.Effect) {
	for _, eff := range effects {
		switch eff := eff.(type) {
		case quiz.StopNarration:
			if e.narrator != nil {
				e.narrator.Stop()
			}
		case quiz.StartTimer:
			e.stopTimer()
			e.ticker = e.opts.NewTicker(time.Second)
		case quiz.StopTimer:
			e.stopTimer()
		case quiz.Generate:
			e.generate(eff)
		case quiz.Notify:
			id := eff.Notice.ID
			e.opts.AfterFunc(e.opts.NoticeTTL, func() { e.post(quiz.NoticeExpired{ID: id}) })
		case quiz.Loaded:
			e.record(eff.Attempt, eventstore.EventLoaded, map[string]any{"questions": eff.Questions})
			e.updateAttempt(eff.Attempt, eventstore.EventLoaded, 0, 0, "")
		case quiz.Answered:
			e.record(eff.Attempt, eventstore.EventAnswered, map[string]any{"question": eff.Index + 1, "option": eff.Option})
		case quiz.Submitted:
			e.submitted(eff)
		case quiz.Finished:
			status := eventstore.EventFinished
			if eff.Reason == "generation_failed" {
				status = eventstore.EventGenerationFailed
			}
			e.record(eff.Attempt, status, map[string]any{"reason": eff.Reason})
			e.updateAttempt(eff.Attempt, status, 0, 0, eff.Reason)
		}
	}
}

func (e *Engine) stopTimer() {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
}

func (e *Engine) generate(eff quiz.Generate) {
	if e.store != nil {
		err := e.store.BeginAttempt(e.ctx, eventstore.Attempt{
			ID:            eff.Attempt,
			Topic:         eff.Request.Topic,
			QuestionCount: eff.Request.QuestionCount,
			Difficulty:    eff.Request.Difficulty,
		})
		if err != nil {
			e.logger.Warn("failed to record attempt", slog.String("attempt", eff.Attempt), slogError(err))
		}
	}
	e.record(eff.Attempt, eventstore.EventStarted, eff.Request)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.ctx, e.opts.GenerationTimeout)
		defer cancel()

		started := time.Now()
		questions, err := e.generator.Generate(ctx, eff.Request)
		if err != nil {
			e.metrics.generation(e.ctx, "error")
			e.logger.Warn("quiz generation failed",
				slog.String("attempt", eff.Attempt),
				slog.Duration("elapsed", time.Since(started)),
				slogError(err),
			)
			e.post(quiz.GenerationFailed{Attempt: eff.Attempt, Err: err})
			return
		}
		if n := eff.Request.QuestionCount; len(questions) > n {
			questions = questions[:n]
		}
		result := "ok"
		if len(questions) == 0 {
			result = "empty"
		}
		e.metrics.generation(e.ctx, result)
		e.logger.Info("quiz generated",
			slog.String("attempt", eff.Attempt),
			slog.Int("questions", len(questions)),
			slog.Duration("elapsed", time.Since(started)),
		)
		e.post(quiz.Generated{Attempt: eff.Attempt, Questions: questions})
	}()
}

func (e *Engine) submitted(eff quiz.Submitted) {
	r := eff.Result
	e.record(eff.Attempt, eventstore.EventSubmitted, r)
	e.updateAttempt(eff.Attempt, eventstore.EventSubmitted, r.Correct, r.Total, string(r.Reason))
	e.metrics.submission(e.ctx, r)
	e.logger.Info("quiz submitted",
		slog.String("attempt", eff.Attempt),
		slog.String("score", r.String()),
		slog.String("reason", string(r.Reason)),
		slog.Bool("passed", r.Passed),
	)
}

func (e *Engine) record(attempt, typ string, payload any) {
	if e.store == nil || attempt == "" {
		return
	}
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			e.logger.Warn("failed to encode timeline payload", slog.String("type", typ), slogError(err))
		}
	}
	if err := e.store.AppendEvent(e.ctx, eventstore.Event{AttemptID: attempt, Type: typ, Payload: data}); err != nil {
		e.logger.Warn("failed to record timeline event", slog.String("attempt", attempt), slog.String("type", typ), slogError(err))
	}
}

func (e *Engine) updateAttempt(attempt, status string, correct, total int, reason string) {
	if e.store == nil {
		return
	}
	if err := e.store.UpdateAttempt(e.ctx, attempt, status, correct, total, reason); err != nil {
		e.logger.Warn("failed to update attempt", slog.String("attempt", attempt), slogError(err))
	}
}

// narrationChanged runs under the narrator lock.
func (e *Engine) narrationChanged(st narration.Status) {
	e.narr.Store(&st)
	e.version.Add(1)
	if e.publisher != nil {
		e.publisher.PublishNarration(st)
	}
}

func (e *Engine) narrationFailed(err error) {
	e.metrics.narration(e.ctx, "error")
	go e.post(quiz.NarrationFailed{Err: err})
}

func eventName(ev quiz.Event) string {
	switch ev.(type) {
	case quiz.Tick:
		return "tick"
	case quiz.Generated:
		return "generated"
	case quiz.GenerationFailed:
		return "generation_failed"
	case quiz.NoticeExpired:
		return "notice_expired"
	case quiz.NarrationFailed:
		return "narration_failed"
	default:
		return "command"
	}
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
