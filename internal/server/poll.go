package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"
)

// Poller invokes one function on a fixed interval, standing in for the
// scheduled rule that triggers it when deployed.
type Poller struct {
	funcs    FunctionSource
	name     string
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewPoller creates a Poller for the named function.
func NewPoller(funcs FunctionSource, name string, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		funcs:    funcs,
		name:     name,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run invokes the function immediately and then once per interval until ctx
// is done. A non-positive interval disables polling.
func (p *Poller) Run(ctx context.Context) {
	if p.interval <= 0 {
		p.logger.Info("poller disabled", zap.String("function", p.name))
		return
	}
	p.logger.Info("poller started",
		zap.String("function", p.name),
		zap.Duration("interval", p.interval),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped", zap.String("function", p.name))
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	event, err := json.Marshal(events.CloudWatchEvent{
		Version:    "0",
		DetailType: "Scheduled Event",
		Source:     "aws.events",
		Time:       p.now().UTC(),
		Detail:     json.RawMessage("{}"),
	})
	if err != nil {
		p.logger.Error("encoding scheduled event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	if _, err := p.funcs.Invoke(ctx, p.name, event); err != nil {
		p.logger.Warn("scheduled invocation failed",
			zap.String("function", p.name),
			zap.Error(err),
		)
	}
}
