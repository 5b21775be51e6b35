package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/goccy/go-json"
	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-quiz/internal/quiz"
)

type execGenerator struct {
	cmd []string
}

type execRequest struct {
	Topic         string `json:"topic"`
	QuestionCount int    `json:"question_count"`
	Difficulty    string `json:"difficulty"`
}

// NewExecGenerator runs command once per quiz. The command reads an
// execRequest on stdin and prints a JSON array of questions.
func NewExecGenerator(command string) (Generator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse generation command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("generation command empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req quiz.StartRequest) ([]quiz.Question, error) {
	input, err := json.Marshal(execRequest{Topic: req.Topic, QuestionCount: req.QuestionCount, Difficulty: req.Difficulty})
	if err != nil {
		return nil, &quiz.GenerationError{Err: err}
	}

	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return nil, &quiz.GenerationError{Err: fmt.Errorf("generation command failed: %w", err)}
	}

	questions, _, err := Sanitize(output, req.QuestionCount)
	if err != nil {
		return nil, &quiz.GenerationError{Err: fmt.Errorf("decode generation output: %w", err)}
	}
	return questions, nil
}
