// Package protocol defines the JSON messages exchanged over HTTP and NATS.
package protocol

import (
	"errors"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-quiz/internal/eventstore"
	"github.com/loqalabs/loqa-quiz/internal/narration"
	"github.com/loqalabs/loqa-quiz/internal/quiz"
)

const (
	SubjectCommandPrefix = "quiz.cmd"
	SubjectState         = "quiz.state"
	SubjectNarration     = "quiz.narration"
)

// Command names. A command is sent to SubjectCommandPrefix + "." + name.
const (
	CommandState         = "state"
	CommandStart         = "start"
	CommandNavigate      = "navigate"
	CommandAnswer        = "answer"
	CommandSubmit        = "submit"
	CommandDismissScore  = "dismiss"
	CommandRestart       = "restart"
	CommandNarrate       = "narrate"
	CommandStopNarration = "stop_narration"
)

// CommandSubject returns the request subject for a command.
func CommandSubject(name string) string { return SubjectCommandPrefix + "." + name }

// Snapshot is the full observable state: the quiz view plus the narration
// affordance.
type Snapshot struct {
	Version   uint64           `json:"version"`
	Quiz      quiz.View        `json:"quiz"`
	Narration narration.Status `json:"narration"`
	Timestamp time.Time        `json:"timestamp"`
}

// NavigateRequest moves by Delta or jumps to Index (0-based).
type NavigateRequest struct {
	Delta *int `json:"delta,omitempty"`
	Index *int `json:"index,omitempty"`
}

// Event converts the request into a session event.
func (r NavigateRequest) Event() (quiz.Event, error) {
	switch {
	case r.Index != nil && r.Delta != nil:
		return nil, &BadRequest{Err: errors.New("navigate takes either delta or index")}
	case r.Index != nil:
		return quiz.Jump{Index: *r.Index}, nil
	case r.Delta != nil:
		return quiz.Navigate{Delta: *r.Delta}, nil
	default:
		return nil, &BadRequest{Err: errors.New("navigate requires delta or index")}
	}
}

// AnswerRequest selects an option by text, or by 0-based Index.
type AnswerRequest struct {
	Option string `json:"option,omitempty"`
	Index  *int   `json:"index,omitempty"`
}

func (r AnswerRequest) Event() (quiz.Event, error) {
	if r.Option != "" {
		return quiz.Select{Option: r.Option}, nil
	}
	if r.Index == nil {
		return nil, &BadRequest{Err: errors.New("answer requires option or index")}
	}
	return quiz.Select{Index: *r.Index}, nil
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Reply answers a NATS command.
type Reply struct {
	Snapshot *Snapshot  `json:"snapshot,omitempty"`
	Error    *ErrorBody `json:"error,omitempty"`
}

const (
	CodeValidation = "validation"
	CodeBadRequest = "bad_request"
	CodeBusy       = "busy"
	CodeReadOnly   = "read_only"
	CodeNoQuiz     = "no_quiz"
	CodeConflict   = "conflict"
	CodeNotFound   = "not_found"
	CodeInternal   = "internal"
)

// BadRequest marks malformed command payloads.
type BadRequest struct{ Err error }

func (e *BadRequest) Error() string { return e.Err.Error() }
func (e *BadRequest) Unwrap() error { return e.Err }

// Classify maps an error to its wire code and HTTP status.
func Classify(err error) (ErrorBody, int) {
	var (
		verr *quiz.ValidationError
		breq *BadRequest
	)
	body := ErrorBody{Message: err.Error()}
	switch {
	case errors.As(err, &verr):
		body.Code = CodeValidation
		return body, http.StatusBadRequest
	case errors.As(err, &breq):
		body.Code = CodeBadRequest
		return body, http.StatusBadRequest
	case errors.Is(err, quiz.ErrBusy):
		body.Code = CodeBusy
		return body, http.StatusConflict
	case errors.Is(err, quiz.ErrReadOnly):
		body.Code = CodeReadOnly
		return body, http.StatusConflict
	case errors.Is(err, quiz.ErrNoQuiz):
		body.Code = CodeNoQuiz
		return body, http.StatusConflict
	case errors.Is(err, quiz.ErrInvalidIndex), errors.Is(err, quiz.ErrUnknownOption), errors.Is(err, quiz.ErrNarrationOff):
		body.Code = CodeConflict
		return body, http.StatusConflict
	case errors.Is(err, eventstore.ErrNotFound):
		body.Code = CodeNotFound
		return body, http.StatusNotFound
	default:
		body.Code = CodeInternal
		return body, http.StatusInternalServerError
	}
}
