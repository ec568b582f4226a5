// Package telemetry subscribes to the on-site logger's MQTT topic and hands
// each payload to a handler.
package telemetry

import (
	"context"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var messagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "telemetry_messages_total",
		Help: "Telemetry messages received by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(messagesTotal)
}

// handlerTimeout bounds one handler call.
const handlerTimeout = time.Minute

// Handler processes one telemetry payload.
type Handler func(ctx context.Context, payload []byte) error

// Subscriber feeds messages from one MQTT topic to a Handler. With no broker
// configured it is a no-op.
type Subscriber struct {
	cfg     Config
	handler Handler
	logger  *zap.Logger

	mu     sync.RWMutex
	client pahomqtt.Client
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSubscriber creates a Subscriber. Zero Timeout and empty Topic or
// ClientID take the defaults.
func NewSubscriber(cfg Config, handler Handler, logger *zap.Logger) *Subscriber {
	def := DefaultConfig()
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = def.ClientID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Subscriber{cfg: cfg, handler: handler, logger: logger}
}

// Enabled reports whether a broker is configured.
func (s *Subscriber) Enabled() bool {
	return s.cfg.BrokerURL != ""
}

// Start connects to the broker. The subscription is re-established on every
// reconnect. A failed first connection is logged and retried in the
// background.
func (s *Subscriber) Start(ctx context.Context) error {
	if !s.Enabled() {
		s.logger.Info("telemetry subscriber started (no-op: no broker configured)")
		return nil
	}

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	opts := pahomqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(s.cfg.Timeout).
		SetOnConnectHandler(s.subscribe).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			s.logger.Warn("telemetry broker connection lost", zap.Error(err))
		})

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password) //nolint:gosec // G101: config field
	}

	client := pahomqtt.NewClient(opts)
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	token := client.Connect()
	switch {
	case !token.WaitTimeout(s.cfg.Timeout):
		s.logger.Warn("telemetry broker connection timed out; will reconnect in background")
	case token.Error() != nil:
		s.logger.Warn("telemetry broker connection failed; will reconnect in background",
			zap.Error(token.Error()),
		)
	default:
		s.logger.Info("telemetry subscriber connected",
			zap.String("broker_url", s.cfg.BrokerURL),
			zap.String("topic", s.cfg.Topic),
		)
	}
	return nil
}

// Stop disconnects from the broker and cancels in-flight handlers.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
		s.logger.Info("telemetry subscriber disconnected")
	}
}

// Connected reports whether the broker connection is up. A disabled
// subscriber counts as connected.
func (s *Subscriber) Connected() bool {
	if !s.Enabled() {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil && s.client.IsConnected()
}

func (s *Subscriber) subscribe(client pahomqtt.Client) {
	token := client.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handleMessage)
	if !token.WaitTimeout(s.cfg.Timeout) {
		s.logger.Warn("telemetry subscribe timed out", zap.String("topic", s.cfg.Topic))
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Error("telemetry subscribe failed", zap.String("topic", s.cfg.Topic), zap.Error(err))
		return
	}
	s.logger.Info("telemetry subscribed", zap.String("topic", s.cfg.Topic), zap.Uint8("qos", s.cfg.QoS))
}

func (s *Subscriber) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	s.mu.RLock()
	parent := s.ctx
	s.mu.RUnlock()
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithTimeout(parent, handlerTimeout)
	defer cancel()

	if err := s.handler(ctx, msg.Payload()); err != nil {
		messagesTotal.WithLabelValues("error").Inc()
		s.logger.Error("telemetry message rejected",
			zap.String("topic", msg.Topic()),
			zap.Int("bytes", len(msg.Payload())),
			zap.Error(err),
		)
		return
	}
	messagesTotal.WithLabelValues("ok").Inc()
	s.logger.Debug("telemetry message handled",
		zap.String("topic", msg.Topic()),
		zap.Uint16("message_id", msg.MessageID()),
	)
}
