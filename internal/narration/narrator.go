package narration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-quiz/internal/quiz"
	"github.com/loqalabs/loqa-quiz/internal/wav"
)

// State is the read-question affordance.
type State int

const (
	StateReady State = iota
	StateLoading
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StateReady, StateLoading, StatePlaying} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown narration state %q", text)
}

// Label is the read button caption for s.
func (s State) Label() string {
	switch s {
	case StateLoading:
		return "Loading Audio..."
	case StatePlaying:
		return "Playing..."
	default:
		return "Read Question"
	}
}

type Status struct {
	State    State  `json:"state"`
	Label    string `json:"label"`
	Disabled bool   `json:"disabled"`
	Attempt  string `json:"attempt,omitempty"`
	Question int    `json:"question"`
}

// Request asks for one question to be read.
type Request struct {
	Attempt  string
	Question int
	Text     string
}

type Options struct {
	// OnStatus observes every affordance change. It runs with the narrator
	// lock held and must not block or call back into the Narrator.
	OnStatus func(Status)
	// OnError receives failures of narrations that were not stopped.
	OnError func(error)
}

// Narrator owns at most one narration at a time. Starting a narration stops
// the previous one; Stop cancels an in-flight request so its audio is never
// played.
type Narrator struct {
	synth  Synthesizer
	player Player
	logger *slog.Logger
	opts   Options

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
	done   chan struct{}
	status Status
	wg     sync.WaitGroup
}

func NewNarrator(synth Synthesizer, player Player, logger *slog.Logger, opts Options) *Narrator {
	return &Narrator{
		synth:  synth,
		player: player,
		logger: logger.With(slog.String("component", "narrator")),
		opts:   opts,
		status: Status{State: StateReady, Label: StateReady.Label()},
	}
}

func (n *Narrator) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// Start begins reading req. It returns immediately; progress is reported
// through the status callback. The new narration does not begin until the
// previous one has returned from its player.
func (n *Narrator) Start(parent context.Context, req Request) {
	n.mu.Lock()
	defer n.mu.Unlock()

	prev := n.halt()
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	n.cancel = cancel
	n.done = done
	id := n.seq
	n.set(Status{State: StateLoading, Attempt: req.Attempt, Question: req.Question})

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		n.run(ctx, id, req)
	}()
}

// Stop halts playback, discards any pending audio and waits until the
// player has released the clip. It is a no-op when nothing is being read.
func (n *Narrator) Stop() {
	n.mu.Lock()
	prev := n.halt()
	if n.status.State != StateReady {
		n.set(Status{State: StateReady})
	}
	n.mu.Unlock()
	if prev != nil {
		<-prev
	}
}

// Close stops narration and waits for background work to exit.
func (n *Narrator) Close() {
	n.Stop()
	n.wg.Wait()
}

func (n *Narrator) run(ctx context.Context, id uint64, req Request) {
	audio, err := n.synth.Synthesize(ctx, req.Text)
	if err != nil {
		n.finish(id, err)
		return
	}
	if len(audio.PCM) == 0 {
		n.finish(id, &quiz.NarrationError{Err: errors.New("TTS response missing audio data")})
		return
	}
	clip := Clip{
		Attempt:  req.Attempt,
		Question: req.Question,
		WAV:      wav.Encode(audio.PCM, audio.SampleRate),
		Duration: wav.Duration(len(audio.PCM), audio.SampleRate),
	}
	if !n.transition(id, StatePlaying) {
		return
	}
	n.logger.Debug("narration playing",
		slog.String("attempt", req.Attempt),
		slog.Int("question", req.Question),
		slog.Duration("duration", clip.Duration),
	)
	if err := n.player.Play(ctx, clip); err != nil {
		n.finish(id, quiz.NewPlaybackError(err))
		return
	}
	n.finish(id, nil)
}

func (n *Narrator) transition(id uint64, state State) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if id != n.seq {
		return false
	}
	st := n.status
	st.State = state
	n.set(st)
	return true
}

// finish restores Ready for the current narration. Results of stopped or
// superseded narrations are dropped.
func (n *Narrator) finish(id uint64, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if id != n.seq {
		return
	}
	n.halt()
	n.set(Status{State: StateReady})
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	n.logger.Warn("narration failed", slogError(err))
	if n.opts.OnError != nil {
		n.opts.OnError(err)
	}
}

// halt cancels the active narration and invalidates its results. It returns
// the channel closed once that narration's goroutine exits, or nil.
func (n *Narrator) halt() chan struct{} {
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
	n.seq++
	done := n.done
	n.done = nil
	return done
}

func (n *Narrator) set(st Status) {
	st.Label = st.State.Label()
	st.Disabled = st.State != StateReady
	n.status = st
	if n.opts.OnStatus != nil {
		n.opts.OnStatus(st)
	}
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
