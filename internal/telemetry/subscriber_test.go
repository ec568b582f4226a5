package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 7 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func TestNewSubscriber_Defaults(t *testing.T) {
	s := NewSubscriber(Config{}, nil, zap.NewNop())
	def := DefaultConfig()
	if s.cfg.Topic != def.Topic {
		t.Errorf("Topic = %q, want %q", s.cfg.Topic, def.Topic)
	}
	if s.cfg.ClientID != def.ClientID {
		t.Errorf("ClientID = %q, want %q", s.cfg.ClientID, def.ClientID)
	}
	if s.cfg.Timeout != def.Timeout {
		t.Errorf("Timeout = %v, want %v", s.cfg.Timeout, def.Timeout)
	}
}

func TestDefaultConfig_Topic(t *testing.T) {
	if got := DefaultConfig().Topic; got != "log/nepenthes/nhome" {
		t.Errorf("Topic = %q, want log/nepenthes/nhome", got)
	}
}

func TestStart_NoBrokerIsNoop(t *testing.T) {
	s := NewSubscriber(Config{}, nil, zap.NewNop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Enabled() {
		t.Error("Enabled() = true without broker")
	}
	if !s.Connected() {
		t.Error("disabled subscriber should report connected")
	}
	s.Stop()
}

func TestConnected_FalseBeforeStart(t *testing.T) {
	s := NewSubscriber(Config{BrokerURL: "tcp://127.0.0.1:1"}, nil, zap.NewNop())
	if s.Connected() {
		t.Error("Connected() = true before Start")
	}
}

func TestHandleMessage_PassesPayload(t *testing.T) {
	var got []byte
	var deadline bool
	s := NewSubscriber(Config{}, func(ctx context.Context, payload []byte) error {
		got = payload
		_, deadline = ctx.Deadline()
		return nil
	}, zap.NewNop())

	before := testutil.ToFloat64(messagesTotal.WithLabelValues("ok"))
	s.handleMessage(nil, &fakeMessage{topic: "log/nepenthes/nhome", payload: []byte(`{"should_heartbeat":1}`)})

	if string(got) != `{"should_heartbeat":1}` {
		t.Errorf("payload = %s", got)
	}
	if !deadline {
		t.Error("handler context has no deadline")
	}
	if delta := testutil.ToFloat64(messagesTotal.WithLabelValues("ok")) - before; delta != 1 {
		t.Errorf("ok counter delta = %v, want 1", delta)
	}
}

func TestHandleMessage_HandlerErrorIsCounted(t *testing.T) {
	s := NewSubscriber(Config{}, func(context.Context, []byte) error {
		return errors.New("bad payload")
	}, zap.NewNop())

	before := testutil.ToFloat64(messagesTotal.WithLabelValues("error"))
	s.handleMessage(nil, &fakeMessage{topic: "t", payload: []byte("x")})

	if delta := testutil.ToFloat64(messagesTotal.WithLabelValues("error")) - before; delta != 1 {
		t.Errorf("error counter delta = %v, want 1", delta)
	}
}

func TestHandleMessage_StopCancelsContext(t *testing.T) {
	s := NewSubscriber(Config{}, nil, zap.NewNop())
	s.ctx, s.cancel = context.WithCancel(context.Background())

	done := make(chan error, 1)
	s.handler = func(ctx context.Context, _ []byte) error {
		s.Stop()
		select {
		case <-ctx.Done():
			done <- ctx.Err()
		case <-time.After(time.Second):
			done <- nil
		}
		return nil
	}
	s.handleMessage(nil, &fakeMessage{topic: "t"})

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("handler context error = %v, want context.Canceled", err)
	}
}
