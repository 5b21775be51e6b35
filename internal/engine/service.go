package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-quiz/internal/bus"
	"github.com/loqalabs/loqa-quiz/internal/protocol"
)

// Service exposes the engine's commands on NATS request subjects.
type Service struct {
	engine *Engine
	bus    *bus.Client
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	ready  bool
	logger *slog.Logger
}

func NewService(parent context.Context, engine *Engine, busClient *bus.Client, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		engine: engine,
		bus:    busClient,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(slog.String("component", "quiz-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectCommandPrefix+".*", s.handleCommand)
	if err != nil {
		return fmt.Errorf("subscribe quiz commands: %w", err)
	}
	s.sub = sub
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

// Close stops accepting commands, cancels those in flight and waits for
// their replies to be sent.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.ready = false
	s.mu.Unlock()
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	return ready && s.bus.Healthy()
}

func (s *Service) handleCommand(msg *nats.Msg) {
	name := strings.TrimPrefix(msg.Subject, protocol.SubjectCommandPrefix+".")
	data := append([]byte(nil), msg.Data...)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		defer cancel()

		var reply protocol.Reply
		snap, err := s.engine.Command(ctx, name, data)
		if err != nil {
			body, _ := protocol.Classify(err)
			reply.Error = &body
			s.logger.Debug("quiz command rejected", slog.String("command", name), slogError(err))
		} else {
			reply.Snapshot = &snap
		}
		if msg.Reply == "" {
			return
		}
		out, err := json.Marshal(reply)
		if err != nil {
			s.logger.Warn("failed to encode reply", slogError(err))
			return
		}
		if err := msg.Respond(out); err != nil {
			s.logger.Warn("failed to send reply", slogError(err))
		}
	}()
}
