package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-quiz/internal/bus"
	"github.com/loqalabs/loqa-quiz/internal/config"
	"github.com/loqalabs/loqa-quiz/internal/natsserver"
	"github.com/loqalabs/loqa-quiz/internal/protocol"
	"github.com/loqalabs/loqa-quiz/internal/quiz"
)

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	cfg := config.BusConfig{Enabled: true, Embedded: true, Port: -1, ConnectTimeout: 2000}
	ns, err := natsserver.Start(cfg, testLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(ns.Shutdown)
	cfg.Servers = []string{ns.ClientURL()}
	client, err := bus.Connect(context.Background(), cfg, "quiz-test", testLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func natsRequest(t *testing.T, nc *nats.Conn, command, payload string) protocol.Reply {
	t.Helper()
	msg, err := nc.Request(protocol.CommandSubject(command), []byte(payload), 2*time.Second)
	if err != nil {
		t.Fatalf("request %s: %v", command, err)
	}
	var reply protocol.Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return reply
}

func TestServiceCommandsOverNATS(t *testing.T) {
	client := startBus(t)

	states, err := client.Conn().SubscribeSync(protocol.SubjectState)
	if err != nil {
		t.Fatalf("subscribe state: %v", err)
	}

	eng := New(context.Background(), stubGenerator{questions: questions("A", "B")}, testLogger(), Options{Publisher: client})
	if err := eng.Start(); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(eng.Close)

	svc := NewService(context.Background(), eng, client, testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatalf("expected healthy service")
	}

	reply := natsRequest(t, client.Conn(), protocol.CommandStart, `{"topic":"Optics","questionCount":2}`)
	if reply.Error != nil || reply.Snapshot == nil || reply.Snapshot.Quiz.Mode != quiz.ModeLoading {
		t.Fatalf("unexpected start reply: %+v", reply)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		msg, err := states.NextMsg(time.Until(deadline))
		if err != nil {
			t.Fatalf("waiting for answering state: %v", err)
		}
		var snap protocol.Snapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			t.Fatalf("decode state: %v", err)
		}
		if snap.Quiz.Mode == quiz.ModeAnswering {
			break
		}
	}

	reply = natsRequest(t, client.Conn(), protocol.CommandAnswer, `{"option":"A"}`)
	if reply.Error != nil || !reply.Snapshot.Quiz.Options[0].Selected {
		t.Fatalf("unexpected answer reply: %+v", reply)
	}

	reply = natsRequest(t, client.Conn(), protocol.CommandNarrate, "")
	if reply.Error == nil || reply.Error.Code != protocol.CodeConflict {
		t.Fatalf("expected narration conflict, got %+v", reply)
	}

	reply = natsRequest(t, client.Conn(), "bogus", "")
	if reply.Error == nil || reply.Error.Code != protocol.CodeBadRequest {
		t.Fatalf("expected bad request, got %+v", reply)
	}

	reply = natsRequest(t, client.Conn(), protocol.CommandSubmit, "")
	if reply.Error != nil || reply.Snapshot.Quiz.Score == nil || reply.Snapshot.Quiz.Score.Correct != 1 {
		t.Fatalf("unexpected submit reply: %+v", reply)
	}
}

func TestServiceCloseDuringCommands(t *testing.T) {
	client := startBus(t)

	eng := New(context.Background(), stubGenerator{questions: questions("A")}, testLogger(), Options{})
	if err := eng.Start(); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(eng.Close)

	svc := NewService(context.Background(), eng, client, testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, _ = client.Conn().Request(protocol.CommandSubject(protocol.CommandState), nil, 200*time.Millisecond)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		svc.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("close did not return")
	}
	close(stop)
	wg.Wait()

	if svc.Healthy() {
		t.Fatalf("expected unhealthy service after close")
	}
	if _, err := client.Conn().Request(protocol.CommandSubject(protocol.CommandState), nil, 200*time.Millisecond); err == nil {
		t.Fatalf("expected no reply after close")
	}
	svc.Close()
}
