// Package narration reads quiz questions aloud: it synthesizes speech for a
// question, packs it as WAV and hands it to a player.
package narration

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-quiz/internal/config"
	"github.com/loqalabs/loqa-quiz/internal/gemini"
	"github.com/loqalabs/loqa-quiz/internal/retry"
)

const DefaultSampleRate = 24000

// Audio is mono 16-bit PCM.
type Audio struct {
	PCM        []int16
	SampleRate int
}

// Synthesizer converts question text to speech. Implementations return a
// *quiz.NarrationError on failure.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// NewSynthesizer builds the synthesizer selected by cfg.Mode.
func NewSynthesizer(cfg config.NarrationConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "gemini":
		client := gemini.NewClient(gemini.Options{
			Endpoint: cfg.Remote.Endpoint,
			APIKey:   cfg.Remote.APIKey,
			Timeout:  time.Duration(cfg.Remote.TimeoutMS) * time.Millisecond,
			Attempts: cfg.Remote.RetryAttempts,
			Retry:    retry.Policy{Base: time.Duration(cfg.Remote.RetryBaseMS) * time.Millisecond},
		})
		return NewGeminiSynth(client, cfg.Remote.Model, cfg.Voice, cfg.SampleRate), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.Voice, cfg.SampleRate)
	case "mock", "":
		return NewMockSynth(cfg.SampleRate), nil
	default:
		return nil, fmt.Errorf("unknown narration mode %q", cfg.Mode)
	}
}
