package narration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os/exec"

	"github.com/goccy/go-json"
	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-quiz/internal/quiz"
	"github.com/loqalabs/loqa-quiz/internal/wav"
)

type execSynth struct {
	cmd        []string
	voice      string
	sampleRate int
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
}

// execResponse is one line of command output. Chunks are concatenated until
// a line with Final set or end of output.
type execResponse struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Final      bool   `json:"final"`
}

func NewExecSynth(command, voice string, sampleRate int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse narration command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("narration command empty")
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &execSynth{cmd: args, voice: voice, sampleRate: sampleRate}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, text string) (Audio, error) {
	input, err := json.Marshal(execRequest{Text: SpeakableText(text), Voice: e.voice, SampleRate: e.sampleRate})
	if err != nil {
		return Audio{}, &quiz.NarrationError{Err: err}
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return Audio{}, &quiz.NarrationError{Err: fmt.Errorf("narration command failed: %w", err)}
	}

	audio := Audio{SampleRate: e.sampleRate}
	var raw []byte
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return Audio{}, &quiz.NarrationError{Err: fmt.Errorf("decode narration output: %w", err)}
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			return Audio{}, quiz.NewPlaybackError(err)
		}
		raw = append(raw, chunk...)
		if resp.SampleRate > 0 {
			audio.SampleRate = resp.SampleRate
		}
		if resp.Final {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return Audio{}, &quiz.NarrationError{Err: err}
	}
	if len(raw) == 0 {
		return Audio{}, &quiz.NarrationError{Err: errors.New("narration command produced no audio")}
	}
	audio.PCM = wav.DecodePCM16(raw)
	return audio, nil
}
