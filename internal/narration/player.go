package narration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-quiz/internal/config"
	"github.com/loqalabs/loqa-quiz/internal/wav"
)

// Clip is a WAV-packed narration ready for playback.
type Clip struct {
	Attempt  string
	Question int
	WAV      []byte
	Duration time.Duration
}

// Player plays a clip and blocks until it finishes or ctx is cancelled.
// Cancellation halts playback immediately.
type Player interface {
	Play(ctx context.Context, clip Clip) error
}

// NewPlayer builds the player selected by cfg.Mode.
func NewPlayer(cfg config.PlayerConfig) (Player, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecPlayer(cfg.Command)
	case "file":
		return NewFilePlayer(cfg.Directory), nil
	case "null", "":
		return NullPlayer{}, nil
	default:
		return nil, fmt.Errorf("unknown player mode %q", cfg.Mode)
	}
}

type execPlayer struct {
	cmd []string
}

// NewExecPlayer pipes each clip into command, e.g. "aplay -q -".
func NewExecPlayer(command string) (Player, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("player command empty")
	}
	return &execPlayer{cmd: args}, nil
}

func (p *execPlayer) Play(ctx context.Context, clip Clip) error {
	cmd := exec.CommandContext(ctx, p.cmd[0], p.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(clip.WAV)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("player command failed: %w", err)
	}
	return nil
}

type filePlayer struct {
	dir string
}

// NewFilePlayer writes each clip to dir as <attempt>-q<N>.wav.
func NewFilePlayer(dir string) Player {
	return &filePlayer{dir: dir}
}

// FileName is the name a clip is stored under.
func FileName(clip Clip) string {
	return fmt.Sprintf("%s-q%d.wav", clip.Attempt, clip.Question+1)
}

func (p *filePlayer) Play(ctx context.Context, clip Clip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create narration directory: %w", err)
	}
	path := filepath.Join(p.dir, FileName(clip))
	if err := os.WriteFile(path, clip.WAV, 0o644); err != nil {
		return fmt.Errorf("write narration: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := wav.Inspect(f); err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	return nil
}

// NullPlayer discards audio and returns once the clip would have finished.
type NullPlayer struct{}

func (NullPlayer) Play(ctx context.Context, clip Clip) error {
	timer := time.NewTimer(clip.Duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
