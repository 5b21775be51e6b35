package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-quiz/internal/quiz"
)

type mockGenerator struct {
	delay time.Duration
}

// NewMockGenerator returns a generator that answers with simple arithmetic
// questions after a short delay.
func NewMockGenerator() Generator { return &mockGenerator{delay: 20 * time.Millisecond} }

func (m *mockGenerator) Generate(ctx context.Context, req quiz.StartRequest) ([]quiz.Question, error) {
	select {
	case <-ctx.Done():
		return nil, &quiz.GenerationError{Err: ctx.Err()}
	case <-time.After(m.delay):
	}
	questions := make([]quiz.Question, req.QuestionCount)
	for i := range questions {
		n := i + 1
		questions[i] = quiz.Question{
			ID:       n,
			Question: fmt.Sprintf("[%s, %s] What is $%d + %d$?", req.Topic, req.Difficulty, n, n),
			Options: []string{
				fmt.Sprintf("$%d$", 2*n),
				fmt.Sprintf("$%d$", 2*n+1),
				fmt.Sprintf("$%d$", 2*n-1),
				fmt.Sprintf("$%d$", 2*n+10),
			},
			Answer:   fmt.Sprintf("$%d$", 2*n),
			Solution: fmt.Sprintf("$$%d + %d = %d$$", n, n, 2*n),
		}
	}
	return questions, nil
}
