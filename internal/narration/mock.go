package narration

import (
	"context"
	"math"
	"time"

	"github.com/loqalabs/loqa-quiz/internal/quiz"
)

type mockSynth struct {
	sampleRate int
	delay      time.Duration
}

// NewMockSynth returns a synthesizer that answers every request with a short
// 440 Hz tone whose length grows with the text.
func NewMockSynth(sampleRate int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &mockSynth{sampleRate: sampleRate, delay: 50 * time.Millisecond}
}

func (m *mockSynth) Synthesize(ctx context.Context, text string) (Audio, error) {
	select {
	case <-ctx.Done():
		return Audio{}, &quiz.NarrationError{Err: ctx.Err()}
	case <-time.After(m.delay):
	}
	words := len(SpeakableText(text)) / 6
	samples := m.sampleRate / 4 * (1 + min(words, 20))
	pcm := make([]int16, samples)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(m.sampleRate)))
	}
	return Audio{PCM: pcm, SampleRate: m.sampleRate}, nil
}
