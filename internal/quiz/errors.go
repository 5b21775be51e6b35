package quiz

import (
	"errors"
	"fmt"
)

var (
	ErrBusy          = errors.New("a quiz is already being generated")
	ErrNoQuiz        = errors.New("no quiz in progress")
	ErrReadOnly      = errors.New("quiz is in review mode")
	ErrInvalidIndex  = errors.New("question index out of range")
	ErrUnknownOption = errors.New("option is not one of the current question's options")
	ErrNarrationOff  = errors.New("narration is disabled")
)

// ValidationError rejects a start request before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// GenerationError reports a failed quiz generation call. Status is the HTTP
// status of a rejected request, or 0.
type GenerationError struct {
	Status int
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("quiz generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// NarrationError reports a failed read-question call.
type NarrationError struct {
	Status int
	Err    error
}

func (e *NarrationError) Error() string {
	return fmt.Sprintf("narration failed: %v", e.Err)
}

func (e *NarrationError) Unwrap() error { return e.Err }

// PlaybackError is a decode or player failure. It travels wrapped in a
// NarrationError.
type PlaybackError struct {
	Err error
}

func (e *PlaybackError) Error() string { return fmt.Sprintf("playback: %v", e.Err) }

func (e *PlaybackError) Unwrap() error { return e.Err }

// NewPlaybackError wraps err as a NarrationError carrying a PlaybackError.
func NewPlaybackError(err error) error {
	return &NarrationError{Err: &PlaybackError{Err: err}}
}
