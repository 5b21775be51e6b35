package narration

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-quiz/internal/gemini"
	"github.com/loqalabs/loqa-quiz/internal/quiz"
	"github.com/loqalabs/loqa-quiz/internal/wav"
)

var rateParam = regexp.MustCompile(`rate=(\d+)`)

type geminiSynth struct {
	client      *gemini.Client
	model       string
	voice       string
	defaultRate int
}

func NewGeminiSynth(client *gemini.Client, model, voice string, defaultRate int) Synthesizer {
	if defaultRate <= 0 {
		defaultRate = DefaultSampleRate
	}
	return &geminiSynth{client: client, model: model, voice: voice, defaultRate: defaultRate}
}

// BuildRequest renders the speech request for question text.
func BuildRequest(question, voice string) gemini.Request {
	return gemini.Request{
		Contents: []gemini.Content{gemini.UserText(Prompt(question))},
		GenerationConfig: &gemini.GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &gemini.SpeechConfig{
				VoiceConfig: gemini.VoiceConfig{
					PrebuiltVoiceConfig: gemini.PrebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
	}
}

func (s *geminiSynth) Synthesize(ctx context.Context, text string) (Audio, error) {
	resp, err := s.client.GenerateContent(ctx, s.model, BuildRequest(text, s.voice))
	if err != nil {
		var statusErr *gemini.StatusError
		if errors.As(err, &statusErr) {
			return Audio{}, &quiz.NarrationError{Status: statusErr.Status, Err: err}
		}
		return Audio{}, &quiz.NarrationError{Err: err}
	}
	part, ok := resp.FirstPart()
	if !ok || part.InlineData == nil || part.InlineData.Data == "" || !strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
		return Audio{}, &quiz.NarrationError{Err: errors.New("TTS response missing audio data")}
	}
	pcm, err := wav.DecodeBase64PCM(part.InlineData.Data)
	if err != nil {
		return Audio{}, quiz.NewPlaybackError(err)
	}
	return Audio{PCM: pcm, SampleRate: SampleRateFromMIME(part.InlineData.MIMEType, s.defaultRate)}, nil
}

// SampleRateFromMIME reads the rate parameter of a type such as
// "audio/L16;rate=24000", falling back to def.
func SampleRateFromMIME(mimeType string, def int) int {
	m := rateParam.FindStringSubmatch(mimeType)
	if m == nil {
		return def
	}
	rate, err := strconv.Atoi(m[1])
	if err != nil || rate <= 0 {
		return def
	}
	return rate
}
