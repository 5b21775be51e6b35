package engine

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/loqalabs/loqa-quiz/internal/protocol"
	"github.com/loqalabs/loqa-quiz/internal/quiz"
)

// Command decodes a named command payload and applies it. The HTTP API and
// the NATS command subjects share this entry point.
func (e *Engine) Command(ctx context.Context, name string, payload []byte) (protocol.Snapshot, error) {
	switch name {
	case protocol.CommandState:
		return e.Snapshot(), nil
	case protocol.CommandStart:
		var req quiz.StartRequest
		if err := decode(payload, &req); err != nil {
			return protocol.Snapshot{}, err
		}
		return e.Dispatch(ctx, quiz.Start{Request: req})
	case protocol.CommandNavigate:
		var req protocol.NavigateRequest
		if err := decode(payload, &req); err != nil {
			return protocol.Snapshot{}, err
		}
		ev, err := req.Event()
		if err != nil {
			return protocol.Snapshot{}, err
		}
		return e.Dispatch(ctx, ev)
	case protocol.CommandAnswer:
		var req protocol.AnswerRequest
		if err := decode(payload, &req); err != nil {
			return protocol.Snapshot{}, err
		}
		ev, err := req.Event()
		if err != nil {
			return protocol.Snapshot{}, err
		}
		return e.Dispatch(ctx, ev)
	case protocol.CommandSubmit:
		return e.Dispatch(ctx, quiz.Submit{})
	case protocol.CommandDismissScore:
		return e.Dispatch(ctx, quiz.DismissScore{})
	case protocol.CommandRestart:
		return e.Dispatch(ctx, quiz.Restart{})
	case protocol.CommandNarrate:
		return e.Narrate(ctx)
	case protocol.CommandStopNarration:
		return e.StopNarration(ctx)
	default:
		return protocol.Snapshot{}, &protocol.BadRequest{Err: fmt.Errorf("unknown command %q", name)}
	}
}

// decode accepts an empty payload as the zero value.
func decode(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &protocol.BadRequest{Err: fmt.Errorf("decode payload: %w", err)}
	}
	return nil
}
