package quiz

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Mode is the lifecycle state of a Session.
type Mode int

const (
	ModeIdle Mode = iota
	ModeLoading
	ModeAnswering
	ModeReviewing
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeLoading:
		return "loading"
	case ModeAnswering:
		return "answering"
	case ModeReviewing:
		return "reviewing"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(text []byte) error {
	for _, candidate := range []Mode{ModeIdle, ModeLoading, ModeAnswering, ModeReviewing} {
		if candidate.String() == string(text) {
			*m = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown quiz mode %q", text)
}

// SubmitReason tells whether a quiz was submitted by the user or by the clock.
type SubmitReason string

const (
	SubmitExplicit SubmitReason = "explicit"
	SubmitTimeout  SubmitReason = "timeout"
)

// Result is the scored outcome of an attempt.
type Result struct {
	Correct int          `json:"correct"`
	Total   int          `json:"total"`
	Passed  bool         `json:"passed"`
	Reason  SubmitReason `json:"reason"`
}

// Ratio returns the fraction of correct answers.
func (r Result) Ratio() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Total)
}

func (r Result) String() string { return fmt.Sprintf("%d/%d", r.Correct, r.Total) }

// Settings tunes a Session. Zero fields take the defaults.
type Settings struct {
	TotalSeconds int
	PassRatio    float64
	MaxQuestions int
}

const (
	DefaultTotalSeconds = 601
	DefaultPassRatio    = 0.7
)

func (s Settings) withDefaults() Settings {
	if s.TotalSeconds <= 0 {
		s.TotalSeconds = DefaultTotalSeconds
	}
	if s.PassRatio <= 0 {
		s.PassRatio = DefaultPassRatio
	}
	if s.MaxQuestions <= 0 {
		s.MaxQuestions = MaxQuestions
	}
	return s
}

// Session owns the state of the single active quiz. It is not safe for
// concurrent use; one goroutine dispatches all events.
type Session struct {
	settings Settings
	newID    func() string

	mode    Mode
	pending string
	request StartRequest
	attempt *attempt

	notice    *Notice
	noticeSeq uint64
}

type attempt struct {
	id            string
	request       StartRequest
	questions     []Question
	answers       []string
	current       int
	timeRemaining int
	result        *Result
	scoreVisible  bool
}

// NewSession returns an empty session in Idle mode.
func NewSession(settings Settings) *Session {
	return &Session{settings: settings.withDefaults(), newID: uuid.NewString}
}

func (s *Session) Mode() Mode { return s.mode }

// Attempt returns the ID of the loaded or pending attempt, if any.
func (s *Session) Attempt() string {
	if s.attempt != nil {
		return s.attempt.id
	}
	return s.pending
}

// Answers returns a copy of the recorded answers; "" marks unanswered.
func (s *Session) Answers() []string {
	if s.attempt == nil {
		return nil
	}
	return append([]string(nil), s.attempt.answers...)
}

// Current returns the displayed question.
func (s *Session) Current() (Question, bool) {
	if s.attempt == nil || len(s.attempt.questions) == 0 {
		return Question{}, false
	}
	return s.attempt.questions[s.attempt.current], true
}

// Result returns the score once the attempt has been submitted.
func (s *Session) Result() (Result, bool) {
	if s.attempt == nil || s.attempt.result == nil {
		return Result{}, false
	}
	return *s.attempt.result, true
}

// TimeRemaining reports the countdown in seconds.
func (s *Session) TimeRemaining() int {
	if s.attempt == nil {
		return 0
	}
	return s.attempt.timeRemaining
}

// Dispatch applies ev and returns the side effects to run. A returned error
// leaves the quiz state unchanged, although a notice may have been posted.
func (s *Session) Dispatch(ev Event) ([]Effect, error) {
	switch ev := ev.(type) {
	case Start:
		return s.start(ev.Request)
	case Generated:
		return s.generated(ev.Attempt, ev.Questions)
	case GenerationFailed:
		return s.generationFailed(ev.Attempt, ev.Err)
	case Navigate:
		return s.navigate(ev.Delta)
	case Jump:
		return s.jump(ev.Index)
	case Select:
		return s.selectAnswer(ev)
	case Submit:
		if err := s.requireAnswering(); err != nil {
			return nil, err
		}
		return s.submit(SubmitExplicit), nil
	case Tick:
		return s.tick(), nil
	case DismissScore:
		if s.mode != ModeReviewing {
			return nil, ErrNoQuiz
		}
		s.attempt.scoreVisible = false
		return nil, nil
	case Restart:
		return s.reset("restarted"), nil
	case NoticeExpired:
		if s.notice != nil && s.notice.ID == ev.ID {
			s.notice = nil
		}
		return nil, nil
	case NarrationFailed:
		return []Effect{s.post("error", fmt.Sprintf("Voice-Over failed: %v.", ev.Err))}, nil
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}
}

func (s *Session) start(req StartRequest) ([]Effect, error) {
	if s.mode == ModeLoading {
		return nil, ErrBusy
	}
	req, err := req.Normalize(s.settings.MaxQuestions)
	if err != nil {
		n := s.post("error", fmt.Sprintf("Please enter a valid topic and number of questions (1-%d).", s.settings.MaxQuestions))
		return []Effect{n}, err
	}
	effects := s.reset("replaced")
	s.mode = ModeLoading
	s.pending = s.newID()
	s.request = req
	return append(effects, Generate{Attempt: s.pending, Request: req}), nil
}

func (s *Session) generated(id string, questions []Question) ([]Effect, error) {
	if s.mode != ModeLoading || id != s.pending {
		return nil, nil
	}
	if len(questions) == 0 {
		return s.generationFailed(id, &GenerationError{Err: errors.New("no usable questions in response")})
	}
	a := &attempt{
		id:            id,
		request:       s.request,
		questions:     append([]Question(nil), questions...),
		answers:       make([]string, len(questions)),
		timeRemaining: s.settings.TotalSeconds,
	}
	s.attempt = a
	s.pending = ""
	s.mode = ModeAnswering
	return []Effect{StartTimer{}, Loaded{Attempt: id, Questions: len(questions)}}, nil
}

func (s *Session) generationFailed(id string, cause error) ([]Effect, error) {
	if s.mode != ModeLoading || id != s.pending {
		return nil, nil
	}
	s.pending = ""
	s.mode = ModeIdle
	n := s.post("error", fmt.Sprintf("Failed to generate quiz. Error: %v", cause))
	return []Effect{StopTimer{}, n, Finished{Attempt: id, Reason: "generation_failed"}}, nil
}

func (s *Session) navigate(delta int) ([]Effect, error) {
	if s.mode != ModeAnswering && s.mode != ModeReviewing {
		return nil, ErrNoQuiz
	}
	a := s.attempt
	last := len(a.questions) - 1
	switch {
	case delta > 0:
		if a.current < last {
			return s.moveTo(a.current + 1), nil
		}
		if s.mode == ModeReviewing {
			return s.reset("review_finished"), nil
		}
	case delta < 0:
		if a.current > 0 {
			return s.moveTo(a.current - 1), nil
		}
	}
	return nil, nil
}

func (s *Session) jump(index int) ([]Effect, error) {
	if s.mode != ModeAnswering && s.mode != ModeReviewing {
		return nil, ErrNoQuiz
	}
	if index < 0 || index >= len(s.attempt.questions) {
		return nil, ErrInvalidIndex
	}
	return s.moveTo(index), nil
}

// moveTo halts narration before the new question becomes current.
func (s *Session) moveTo(index int) []Effect {
	s.attempt.current = index
	s.attempt.scoreVisible = false
	return []Effect{StopNarration{}}
}

func (s *Session) selectAnswer(ev Select) ([]Effect, error) {
	if err := s.requireAnswering(); err != nil {
		return nil, err
	}
	a := s.attempt
	q := a.questions[a.current]
	option := ev.Option
	if option == "" {
		if ev.Index < 0 || ev.Index >= len(q.Options) {
			return nil, ErrUnknownOption
		}
		option = q.Options[ev.Index]
	} else if q.OptionIndex(option) < 0 {
		return nil, ErrUnknownOption
	}
	if a.answers[a.current] == option {
		return nil, nil
	}
	a.answers[a.current] = option
	return []Effect{Answered{Attempt: a.id, Index: a.current, Option: option}}, nil
}

func (s *Session) requireAnswering() error {
	switch s.mode {
	case ModeAnswering:
		return nil
	case ModeReviewing:
		return ErrReadOnly
	default:
		return ErrNoQuiz
	}
}

func (s *Session) tick() []Effect {
	if s.mode != ModeAnswering {
		return nil
	}
	a := s.attempt
	if a.timeRemaining > 0 {
		a.timeRemaining--
	}
	if a.timeRemaining <= 0 {
		return s.submit(SubmitTimeout)
	}
	return nil
}

func (s *Session) submit(reason SubmitReason) []Effect {
	a := s.attempt
	correct := 0
	for i, q := range a.questions {
		if a.answers[i] != "" && a.answers[i] == q.Answer {
			correct++
		}
	}
	total := len(a.questions)
	res := Result{
		Correct: correct,
		Total:   total,
		Passed:  float64(correct) >= float64(total)*s.settings.PassRatio,
		Reason:  reason,
	}
	a.result = &res
	a.current = 0
	a.scoreVisible = true
	s.mode = ModeReviewing
	return []Effect{StopTimer{}, StopNarration{}, Submitted{Attempt: a.id, Result: res}}
}

// reset clears all quiz state and returns to Idle.
func (s *Session) reset(reason string) []Effect {
	effects := []Effect{StopTimer{}, StopNarration{}}
	if id := s.Attempt(); id != "" {
		effects = append(effects, Finished{Attempt: id, Reason: reason})
	}
	s.attempt = nil
	s.pending = ""
	s.request = StartRequest{}
	s.mode = ModeIdle
	return effects
}

func (s *Session) post(level, message string) Effect {
	s.noticeSeq++
	n := Notice{ID: s.noticeSeq, Level: level, Message: message}
	s.notice = &n
	return Notify{Notice: n}
}
