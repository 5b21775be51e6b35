package quiz

import (
	"errors"
	"fmt"
	"strings"
)

const (
	OptionCount       = 4
	MaxQuestions      = 10
	DefaultDifficulty = "General"
)

// Question is one multiple-choice item. Options holds exactly four distinct
// strings and Answer is a verbatim copy of one of them.
type Question struct {
	ID       int      `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
	Solution string   `json:"solution"`
}

func (q Question) Validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return errors.New("question text is empty")
	}
	if len(q.Options) != OptionCount {
		return fmt.Errorf("expected %d options, got %d", OptionCount, len(q.Options))
	}
	seen := make(map[string]struct{}, len(q.Options))
	for _, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			return errors.New("option text is empty")
		}
		if _, dup := seen[opt]; dup {
			return fmt.Errorf("duplicate option %q", opt)
		}
		seen[opt] = struct{}{}
	}
	if _, ok := seen[q.Answer]; !ok {
		return fmt.Errorf("answer %q is not one of the options", q.Answer)
	}
	return nil
}

// OptionIndex returns the position of option in q.Options or -1.
func (q Question) OptionIndex(option string) int {
	for i, opt := range q.Options {
		if opt == option {
			return i
		}
	}
	return -1
}

// StartRequest is the user-supplied input of the start form.
type StartRequest struct {
	Topic         string `json:"topic"`
	QuestionCount int    `json:"questionCount"`
	Difficulty    string `json:"difficulty,omitempty"`
}

// Normalize trims the request, applies the default difficulty and checks
// bounds. maxQuestions <= 0 means MaxQuestions.
func (r StartRequest) Normalize(maxQuestions int) (StartRequest, error) {
	if maxQuestions <= 0 {
		maxQuestions = MaxQuestions
	}
	r.Topic = strings.TrimSpace(r.Topic)
	r.Difficulty = strings.TrimSpace(r.Difficulty)
	if r.Difficulty == "" {
		r.Difficulty = DefaultDifficulty
	}
	if r.Topic == "" {
		return r, &ValidationError{Field: "topic", Reason: "must not be empty"}
	}
	if r.QuestionCount < 1 || r.QuestionCount > maxQuestions {
		return r, &ValidationError{Field: "questionCount", Reason: fmt.Sprintf("must be between 1 and %d", maxQuestions)}
	}
	return r, nil
}
