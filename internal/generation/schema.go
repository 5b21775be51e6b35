package generation

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"

	"github.com/loqalabs/loqa-quiz/internal/quiz"
)

// responseSchema constrains the model output to an array of question objects.
var responseSchema = map[string]any{
	"type": "ARRAY",
	"items": map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"id": map[string]any{"type": "NUMBER"},
			"question": map[string]any{
				"type":        "STRING",
				"description": "The quiz question, using LaTeX syntax where appropriate.",
			},
			"options": map[string]any{
				"type":        "ARRAY",
				"items":       map[string]any{"type": "STRING"},
				"description": "Exactly four multiple-choice options, using LaTeX syntax where appropriate.",
			},
			"answer": map[string]any{
				"type":        "STRING",
				"description": "The correct option from the 'options' list.",
			},
			"solution": map[string]any{
				"type":        "STRING",
				"description": "A detailed, step-by-step solution for the question, using LaTeX syntax.",
			},
		},
		"required": []string{"id", "question", "options", "answer", "solution"},
	},
}

const itemSchema = `{
  "type": "object",
  "required": ["id", "question", "options", "answer", "solution"],
  "properties": {
    "id": {"type": "number"},
    "question": {"type": "string", "minLength": 1},
    "options": {
      "type": "array",
      "minItems": 4,
      "maxItems": 4,
      "items": {"type": "string", "minLength": 1}
    },
    "answer": {"type": "string", "minLength": 1},
    "solution": {"type": "string"}
  }
}`

var itemLoader = gojsonschema.NewStringLoader(itemSchema)

// wireItem skips the model's id, which may arrive as any JSON number.
type wireItem struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
	Solution string   `json:"solution"`
}

// Rejected describes an item dropped during sanitising.
type Rejected struct {
	Index  int
	Reason string
}

// Sanitize decodes a JSON array of question items, keeps those that satisfy
// the item schema and quiz.Question.Validate, renumbers them and truncates
// the result to limit.
func Sanitize(raw []byte, limit int) ([]quiz.Question, []Rejected, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, nil, err
	}
	var (
		out      []quiz.Question
		rejected []Rejected
	)
	for i, item := range items {
		if limit > 0 && len(out) == limit {
			break
		}
		if reason := checkItem(item); reason != "" {
			rejected = append(rejected, Rejected{Index: i, Reason: reason})
			continue
		}
		var w wireItem
		if err := json.Unmarshal(item, &w); err != nil {
			rejected = append(rejected, Rejected{Index: i, Reason: err.Error()})
			continue
		}
		q := quiz.Question{Question: w.Question, Options: w.Options, Answer: w.Answer, Solution: w.Solution}
		if err := q.Validate(); err != nil {
			rejected = append(rejected, Rejected{Index: i, Reason: err.Error()})
			continue
		}
		q.ID = len(out) + 1
		out = append(out, q)
	}
	return out, rejected, nil
}

func checkItem(item json.RawMessage) string {
	result, err := gojsonschema.Validate(itemLoader, gojsonschema.NewBytesLoader(item))
	if err != nil {
		return err.Error()
	}
	if result.Valid() {
		return ""
	}
	var msgs []string
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}
