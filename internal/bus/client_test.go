package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrate/internal/config"
	"github.com/loqalabs/loqa-narrate/internal/natsserver"
	"github.com/loqalabs/loqa-narrate/internal/protocol"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startBus(t *testing.T) *Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestEmitPublishesOnEventSubject(t *testing.T) {
	client := startBus(t)

	sub, err := client.Conn().SubscribeSync(protocol.SubjectNarrationPrefix)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	client.Emit(protocol.WordChanged{SessionID: "s1", ChunkID: "chunk-0", WordIndex: 3, Text: "world."})

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	if msg.Subject != protocol.SubjectNarrationWord {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	var evt protocol.WordChanged
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.WordIndex != 3 || evt.Text != "world." {
		t.Fatalf("unexpected event %+v", evt)
	}
	if !client.Healthy() {
		t.Fatal("expected healthy connection")
	}
}

func TestRequestJSON(t *testing.T) {
	client := startBus(t)

	_, err := client.Conn().Subscribe("echo", func(msg *nats.Msg) {
		var req protocol.SynthesisRequest
		_ = json.Unmarshal(msg.Data, &req)
		data, _ := json.Marshal(protocol.SynthesisReply{ChunkID: req.ChunkID, Audio: []byte("ok")})
		_ = msg.Respond(data)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var reply protocol.SynthesisReply
	if err := client.RequestJSON(ctx, "echo", protocol.SynthesisRequest{ChunkID: "chunk-7"}, &reply); err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.ChunkID != "chunk-7" || string(reply.Audio) != "ok" {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestNilClientEmit(t *testing.T) {
	var c *Client
	c.Emit(protocol.StateChanged{State: "playing"})
	if c.Healthy() {
		t.Fatal("nil client is never healthy")
	}
}
