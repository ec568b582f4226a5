// Package notify delivers formatted alarms to people: Pushover for paging
// and an SNS topic for email fan-out.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

// PushoverConfig holds configuration for the Pushover channel.
type PushoverConfig struct {
	APIKey   string        `mapstructure:"api_key"`  //nolint:gosec // G101: config field name, not a credential
	UserKey  string        `mapstructure:"user_key"` //nolint:gosec // G101: config field name, not a credential
	URL      string        `mapstructure:"url"`
	Priority int           `mapstructure:"priority"`
	Retry    int           `mapstructure:"retry"`  // seconds between emergency re-alerts
	Expire   int           `mapstructure:"expire"` // seconds until re-alerting stops
	Sound    string        `mapstructure:"sound"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DefaultPushoverConfig returns emergency-priority defaults: re-alert every
// two minutes for fifteen minutes.
func DefaultPushoverConfig() PushoverConfig {
	return PushoverConfig{
		URL:      "https://api.pushover.net/1/messages.json",
		Priority: 2,
		Retry:    120,
		Expire:   900,
		Sound:    "Narita",
		Timeout:  10 * time.Second,
	}
}

// PushResult is the Pushover response. Body is the decoded JSON response,
// or {"raw": text} when the response is not JSON.
type PushResult struct {
	StatusCode int
	Body       any
}

// Pushover sends push notifications through the Pushover messages API.
type Pushover struct {
	cfg    PushoverConfig
	client *http.Client
	logger *zap.Logger
}

// NewPushover creates a Pushover sender. An empty URL, sound or timeout
// falls back to the default.
func NewPushover(cfg PushoverConfig, logger *zap.Logger) *Pushover {
	def := DefaultPushoverConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Sound == "" {
		cfg.Sound = def.Sound
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Pushover{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Send posts one message. Non-2xx responses are returned in the result, not
// as an error; only transport failures are errors.
func (p *Pushover) Send(ctx context.Context, title, message string) (*PushResult, error) {
	form := url.Values{}
	form.Set("token", p.cfg.APIKey)
	form.Set("user", p.cfg.UserKey)
	form.Set("title", title)
	form.Set("message", message)
	form.Set("priority", strconv.Itoa(p.cfg.Priority))
	form.Set("retry", strconv.Itoa(p.cfg.Retry))
	form.Set("expire", strconv.Itoa(p.cfg.Expire))
	form.Set("sound", p.cfg.Sound)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create pushover request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		sentTotal.WithLabelValues("pushover", "transport_error").Inc()
		p.logger.Warn("pushover delivery failed", zap.Error(err))
		return nil, fmt.Errorf("pushover request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		sentTotal.WithLabelValues("pushover", "transport_error").Inc()
		return nil, fmt.Errorf("read pushover response: %w", err)
	}

	result := &PushResult{StatusCode: resp.StatusCode, Body: decodeBody(raw)}
	if resp.StatusCode >= 400 {
		sentTotal.WithLabelValues("pushover", "rejected").Inc()
		p.logger.Warn("pushover returned error",
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("body", raw),
		)
		return result, nil
	}

	sentTotal.WithLabelValues("pushover", "ok").Inc()
	p.logger.Info("pushover delivered",
		zap.String("title", title),
		zap.Int("status_code", resp.StatusCode),
	)
	return result, nil
}

func decodeBody(raw []byte) any {
	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return map[string]string{"raw": string(raw)}
	}
	return body
}
