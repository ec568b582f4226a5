// Package function provides the event-driven functions of the bridge and a
// registry that dispatches events to them by name.
package function

import (
	"context"
	"encoding/json"

	"github.com/HerbHall/nepenthes/internal/metrics"
	"github.com/HerbHall/nepenthes/internal/notify"
	"github.com/HerbHall/nepenthes/internal/switchbot"
)

// Function names.
const (
	NamePlugStatus = "plug-status"
	NamePlugOn     = "plug-on"
	NameLogPuller  = "log-puller"
	NamePushover   = "pushover"
	NameAlarmEmail = "alarm-email"
)

// Trigger kinds.
const (
	TriggerSchedule  = "schedule"
	TriggerSNS       = "sns"
	TriggerTelemetry = "telemetry"
)

// Function handles one triggering event and returns a JSON-serialisable result.
type Function interface {
	// Info returns the function's metadata.
	Info() Info

	// Invoke handles one event. A returned error fails the invocation.
	Invoke(ctx context.Context, event json.RawMessage) (any, error)
}

// Info describes a function.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Trigger     string `json:"trigger"`
}

// Response is the structured result of a function.
type Response struct {
	StatusCode int `json:"statusCode"`
	Body       any `json:"body"`
}

// MetricSink publishes one data point. Implemented by *metrics.Publisher.
type MetricSink interface {
	Publish(ctx context.Context, m metrics.Metric) error
}

// PlugController reads and drives plugs by name. Implemented by *switchbot.Plugs.
type PlugController interface {
	Status(ctx context.Context, name string) (*switchbot.DeviceStatus, error)
	Command(ctx context.Context, name string, cmd switchbot.Command) (json.RawMessage, error)
}

// Pager sends a push notification. Implemented by *notify.Pushover.
type Pager interface {
	Send(ctx context.Context, title, message string) (*notify.PushResult, error)
}

// TopicPublisher publishes to a fan-out topic. Implemented by *notify.Topic.
type TopicPublisher interface {
	Publish(ctx context.Context, subject, message string) (string, error)
}

// Compile-time interface guards.
var (
	_ MetricSink     = (*metrics.Publisher)(nil)
	_ PlugController = (*switchbot.Plugs)(nil)
	_ Pager          = (*notify.Pushover)(nil)
	_ TopicPublisher = (*notify.Topic)(nil)
)
