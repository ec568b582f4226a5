package function

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/HerbHall/nepenthes/internal/metrics"
	"go.uber.org/zap"
)

// Hours at which meter battery levels are sampled, within the first
// batteryWindowMinutes of the hour.
var batteryHours = map[int]bool{0: true, 6: true, 12: true, 18: true}

const batteryWindowMinutes = 15

// reading is one meter or plug entry of a telemetry payload.
type reading map[string]any

type versioned struct {
	V0 map[string]reading `json:"v0"`
}

// Telemetry is the payload produced by the on-site logger.
type Telemetry struct {
	ShouldHeartbeat any       `json:"should_heartbeat"`
	CoolerFrozen    any       `json:"cooler_frozen"`
	Meters          versioned `json:"meters"`
	Plugs           versioned `json:"plugs"`
}

// LogPuller turns a telemetry payload into metrics.
type LogPuller struct {
	sink      MetricSink
	namespace string
	logger    *zap.Logger
	now       func() time.Time
}

// NewLogPuller creates the log-puller function.
func NewLogPuller(sink MetricSink, namespace string, logger *zap.Logger) *LogPuller {
	return &LogPuller{sink: sink, namespace: namespace, logger: logger, now: time.Now}
}

func (f *LogPuller) Info() Info {
	return Info{
		Name:        NameLogPuller,
		Description: "Publishes heartbeat, meter and plug metrics from a telemetry payload",
		Trigger:     TriggerTelemetry,
	}
}

// Invoke publishes Heartbeat, CoolerFrozen when present, then every meter
// and plug sorted by alias. Readings that are not Valid only publish Valid.
func (f *LogPuller) Invoke(ctx context.Context, event json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(event))
	dec.UseNumber()
	var t Telemetry
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode telemetry: %w", err)
	}
	if t.ShouldHeartbeat == nil {
		return nil, fmt.Errorf("telemetry: missing should_heartbeat")
	}

	if err := f.publish(ctx, "Heartbeat", t.ShouldHeartbeat, metrics.UnitNone, time.Time{}, nil); err != nil {
		return nil, err
	}
	if t.CoolerFrozen != nil {
		if err := f.publish(ctx, "CoolerFrozen", t.CoolerFrozen, metrics.UnitNone, time.Time{}, nil); err != nil {
			return nil, err
		}
	}

	for _, alias := range sortedAliases(t.Meters.V0) {
		if err := f.meter(ctx, alias, t.Meters.V0[alias]); err != nil {
			return nil, err
		}
	}
	for _, alias := range sortedAliases(t.Plugs.V0) {
		if err := f.plug(ctx, alias, t.Plugs.V0[alias]); err != nil {
			return nil, err
		}
	}

	f.logger.Debug("telemetry published",
		zap.Int("meters", len(t.Meters.V0)),
		zap.Int("plugs", len(t.Plugs.V0)),
	)
	return Response{StatusCode: 200, Body: "ok"}, nil
}

func (f *LogPuller) meter(ctx context.Context, alias string, r reading) error {
	dims := []metrics.Dimension{{Name: "Meter", Value: alias}}
	valid, ts, err := f.header("meter", alias, r)
	if err != nil {
		return err
	}
	if err := f.publish(ctx, "Valid", valid, metrics.UnitNone, ts, dims); err != nil {
		return err
	}
	if !valid {
		return nil
	}

	if batteryHours[ts.Hour()] && ts.Minute() < batteryWindowMinutes {
		if err := f.field(ctx, "meter", alias, r, "BatteryVoltage", "Battery", metrics.UnitPercent, ts, dims); err != nil {
			return err
		}
	}
	if err := f.field(ctx, "meter", alias, r, "Humidity", "Humidity", metrics.UnitPercent, ts, dims); err != nil {
		return err
	}
	if err := f.field(ctx, "meter", alias, r, "Temperature", "Temperature", metrics.UnitNone, ts, dims); err != nil {
		return err
	}
	if _, ok := r["TemperatureDiff"]; ok {
		return f.field(ctx, "meter", alias, r, "TemperatureDiff", "TemperatureDiff", metrics.UnitNone, ts, dims)
	}
	return nil
}

func (f *LogPuller) plug(ctx context.Context, alias string, r reading) error {
	dims := []metrics.Dimension{{Name: "Plug", Value: alias}}
	valid, ts, err := f.header("plug", alias, r)
	if err != nil {
		return err
	}
	if err := f.publish(ctx, "Valid", valid, metrics.UnitNone, ts, dims); err != nil {
		return err
	}
	if !valid {
		return nil
	}
	if err := f.field(ctx, "plug", alias, r, "Switch", "Switch", metrics.UnitNone, ts, dims); err != nil {
		return err
	}
	return f.field(ctx, "plug", alias, r, "Power", "Power", metrics.UnitNone, ts, dims)
}

// header extracts the Valid flag and the reading timestamp.
func (f *LogPuller) header(kind, alias string, r reading) (bool, time.Time, error) {
	v, ok := r["Valid"]
	if !ok {
		return false, time.Time{}, fmt.Errorf("%s %q: missing Valid", kind, alias)
	}
	valid, err := truthy(v)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%s %q: Valid: %w", kind, alias, err)
	}

	ts := f.now()
	if raw, ok := r["Datetime"]; ok {
		s, isString := raw.(string)
		if !isString {
			return false, time.Time{}, fmt.Errorf("%s %q: Datetime is %T, want string", kind, alias, raw)
		}
		if ts, err = parseISO(s); err != nil {
			return false, time.Time{}, fmt.Errorf("%s %q: %w", kind, alias, err)
		}
	}
	return valid, ts, nil
}

func (f *LogPuller) field(ctx context.Context, kind, alias string, r reading, key, metric string, unit metrics.Unit, ts time.Time, dims []metrics.Dimension) error {
	v, ok := r[key]
	if !ok || v == nil {
		return fmt.Errorf("%s %q: missing %s", kind, alias, key)
	}
	return f.publish(ctx, metric, v, unit, ts, dims)
}

func (f *LogPuller) publish(ctx context.Context, name string, value any, unit metrics.Unit, ts time.Time, dims []metrics.Dimension) error {
	return f.sink.Publish(ctx, metrics.Metric{
		Namespace:  f.namespace,
		Name:       name,
		Value:      value,
		Unit:       unit,
		Timestamp:  ts,
		Dimensions: dims,
	})
}

func sortedAliases(m map[string]reading) []string {
	aliases := make([]string, 0, len(m))
	for alias := range m {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// truthy interprets a JSON bool or number as a flag.
func truthy(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case json.Number:
		f, err := b.Float64()
		if err != nil {
			return false, err
		}
		return f != 0, nil
	default:
		return false, fmt.Errorf("unsupported flag type %T", v)
	}
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// parseISO accepts ISO 8601 timestamps with or without an offset. Values
// without an offset are taken as UTC.
func parseISO(s string) (time.Time, error) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid Datetime %q", s)
}
