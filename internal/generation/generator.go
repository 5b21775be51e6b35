// Package generation produces quiz questions from a remote model, a local
// command, a WASI module or a deterministic mock.
package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-quiz/internal/config"
	"github.com/loqalabs/loqa-quiz/internal/gemini"
	"github.com/loqalabs/loqa-quiz/internal/quiz"
	"github.com/loqalabs/loqa-quiz/internal/retry"
)

// Generator turns a validated start request into questions. Implementations
// return a *quiz.GenerationError on failure.
type Generator interface {
	Generate(ctx context.Context, req quiz.StartRequest) ([]quiz.Question, error)
}

// New builds the generator selected by cfg.Mode.
func New(cfg config.GenerationConfig) (Generator, error) {
	switch cfg.Mode {
	case "gemini":
		return NewGeminiGenerator(NewGeminiClient(cfg.Remote), cfg.Remote.Model), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "wasm":
		return NewWasmGenerator(context.Background(), cfg.Module)
	case "mock", "":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown generation mode %q", cfg.Mode)
	}
}

// NewGeminiClient configures a Gemini client from the remote settings.
func NewGeminiClient(remote config.RemoteConfig) *gemini.Client {
	return gemini.NewClient(gemini.Options{
		Endpoint: remote.Endpoint,
		APIKey:   remote.APIKey,
		Timeout:  time.Duration(remote.TimeoutMS) * time.Millisecond,
		Attempts: remote.RetryAttempts,
		Retry:    retry.Policy{Base: time.Duration(remote.RetryBaseMS) * time.Millisecond},
	})
}
