package function

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/HerbHall/nepenthes/internal/metrics"
	"github.com/HerbHall/nepenthes/internal/switchbot"
	"go.uber.org/zap"
)

// PlugStatus polls each configured plug and publishes Valid, Switch and
// Power metrics dimensioned by plug.
type PlugStatus struct {
	plugs     PlugController
	sink      MetricSink
	namespace string
	names     []string
	logger    *zap.Logger
}

// NewPlugStatus creates the plug-status function for the named plugs.
func NewPlugStatus(plugs PlugController, sink MetricSink, namespace string, names []string, logger *zap.Logger) *PlugStatus {
	return &PlugStatus{
		plugs:     plugs,
		sink:      sink,
		namespace: namespace,
		names:     names,
		logger:    logger,
	}
}

func (f *PlugStatus) Info() Info {
	return Info{
		Name:        NamePlugStatus,
		Description: "Polls plug status and publishes Valid, Switch and Power metrics",
		Trigger:     TriggerSchedule,
	}
}

// Invoke polls plugs in order. The first plug that cannot be read gets a
// Valid=0 data point and aborts the invocation with its error.
func (f *PlugStatus) Invoke(ctx context.Context, _ json.RawMessage) (any, error) {
	statuses := make(map[string]json.RawMessage, len(f.names))
	for _, name := range f.names {
		dims := []metrics.Dimension{{Name: "Plug", Value: metrics.StripSpaces(name)}}

		status, err := f.plugs.Status(ctx, name)
		if err != nil {
			f.logger.Error("plug status unavailable", zap.String("plug", name), zap.Error(err))
			err = fmt.Errorf("plug %q: %w", name, err)
			if pubErr := f.publish(ctx, "Valid", false, dims); pubErr != nil {
				return nil, errors.Join(err, pubErr)
			}
			return nil, err
		}
		f.logger.Debug("plug status",
			zap.String("plug", name),
			zap.String("power", status.Power),
			zap.Float64("electric_current", status.ElectricCurrent),
		)

		power := 0.0
		if status.On() {
			power = status.ElectricCurrent
		}
		for _, m := range []struct {
			name  string
			value any
		}{
			{"Valid", true},
			{"Switch", status.On()},
			{"Power", power},
		} {
			if err := f.publish(ctx, m.name, m.value, dims); err != nil {
				return nil, err
			}
		}
		statuses[name] = status.Raw
	}
	return Response{StatusCode: 200, Body: statuses}, nil
}

func (f *PlugStatus) publish(ctx context.Context, name string, value any, dims []metrics.Dimension) error {
	return f.sink.Publish(ctx, metrics.Metric{
		Namespace:  f.namespace,
		Name:       name,
		Value:      value,
		Unit:       metrics.UnitNone,
		Dimensions: dims,
	})
}

// PlugOn switches one plug on. It is wired to the alarm raised when the
// plug's host goes offline.
type PlugOn struct {
	plugs  PlugController
	device string
	logger *zap.Logger
}

// NewPlugOn creates the plug-on function for device.
func NewPlugOn(plugs PlugController, device string, logger *zap.Logger) *PlugOn {
	return &PlugOn{plugs: plugs, device: device, logger: logger}
}

func (f *PlugOn) Info() Info {
	return Info{
		Name:        NamePlugOn,
		Description: "Turns the configured plug on",
		Trigger:     TriggerSNS,
	}
}

// Invoke sends turnOn and returns the vendor response body.
func (f *PlugOn) Invoke(ctx context.Context, _ json.RawMessage) (any, error) {
	body, err := f.plugs.Command(ctx, f.device, switchbot.TurnOn)
	if err != nil {
		return nil, fmt.Errorf("turn on %q: %w", f.device, err)
	}
	f.logger.Info("plug turned on", zap.String("plug", f.device))
	return Response{StatusCode: 200, Body: body}, nil
}
