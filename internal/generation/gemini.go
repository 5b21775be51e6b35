package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-quiz/internal/gemini"
	"github.com/loqalabs/loqa-quiz/internal/quiz"
)

const systemPromptTemplate = `You are an expert quiz generator. Your task is to create a multiple-choice quiz based on the user's topic.
The quiz MUST adhere to the following rules:
1. Generate exactly %d distinct questions.
2. Each question MUST have exactly four options.
3. The 'answer' field MUST be one of the strings from the 'options' list.
4. The 'question', 'options', and 'solution' fields MUST use LaTeX syntax for all mathematical, chemical, and scientific expressions, enclosed in dollar signs ($...$ or $$...$$). For example: The equation for the period of a pendulum is $T = 2\pi\sqrt{\frac{L}{g}}$.
5. The difficulty level should be suitable for a %s audience.`

type geminiGenerator struct {
	client *gemini.Client
	model  string
}

func NewGeminiGenerator(client *gemini.Client, model string) Generator {
	return &geminiGenerator{client: client, model: model}
}

// BuildRequest renders the generateContent request for req.
func BuildRequest(req quiz.StartRequest) gemini.Request {
	system := gemini.UserText(fmt.Sprintf(systemPromptTemplate, req.QuestionCount, req.Difficulty))
	query := fmt.Sprintf("Generate a %d-question, multiple-choice quiz on the topic: %s. Difficulty: %s.",
		req.QuestionCount, req.Topic, req.Difficulty)
	return gemini.Request{
		Contents:          []gemini.Content{gemini.UserText(query)},
		SystemInstruction: &system,
		GenerationConfig: &gemini.GenerationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   responseSchema,
		},
	}
}

func (g *geminiGenerator) Generate(ctx context.Context, req quiz.StartRequest) ([]quiz.Question, error) {
	resp, err := g.client.GenerateContent(ctx, g.model, BuildRequest(req))
	if err != nil {
		var statusErr *gemini.StatusError
		if errors.As(err, &statusErr) {
			return nil, &quiz.GenerationError{Status: statusErr.Status, Err: err}
		}
		return nil, &quiz.GenerationError{Err: err}
	}
	part, ok := resp.FirstPart()
	if !ok || part.Text == "" {
		return nil, &quiz.GenerationError{Err: errors.New("API response was empty or malformed")}
	}
	questions, _, err := Sanitize([]byte(part.Text), req.QuestionCount)
	if err != nil {
		return nil, &quiz.GenerationError{Err: fmt.Errorf("parse quiz JSON: %w", err)}
	}
	return questions, nil
}
