// Package metrics publishes single data points to CloudWatch.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Unit is a CloudWatch standard unit.
type Unit = types.StandardUnit

// Units used by the functions in this module.
const (
	UnitNone    Unit = types.StandardUnitNone
	UnitPercent Unit = types.StandardUnitPercent
)

// PutMetricDataAPI is the subset of the CloudWatch client used by Publisher.
type PutMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ PutMetricDataAPI = (*cloudwatch.Client)(nil)

// Dimension is one name/value tag on a data point.
type Dimension struct {
	Name  string
	Value string
}

// Metric is one data point. Value may be a bool or any Go numeric type.
// A zero Timestamp means now; nil Dimensions are omitted from the call.
type Metric struct {
	Namespace  string
	Name       string
	Value      any
	Unit       Unit
	Timestamp  time.Time
	Dimensions []Dimension
}

// PublishError reports a failed write to the metrics sink.
type PublishError struct {
	Namespace string
	Name      string
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("put metric %s/%s: %v", e.Namespace, e.Name, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

var publishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cloudwatch_put_metric_total",
		Help: "CloudWatch PutMetricData calls by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(publishedTotal)
}

// Publisher writes one metric per PutMetricData call. It never retries.
type Publisher struct {
	api    PutMetricDataAPI
	logger *zap.Logger
	now    func() time.Time
}

// NewPublisher creates a Publisher over api.
func NewPublisher(api PutMetricDataAPI, logger *zap.Logger) *Publisher {
	return &Publisher{api: api, logger: logger, now: time.Now}
}

// Publish sends m. Whitespace is stripped from the metric name and bool
// values are sent as 1 or 0. A sink failure is logged and returned as a
// *PublishError.
func (p *Publisher) Publish(ctx context.Context, m Metric) error {
	name := StripSpaces(m.Name)
	value, err := Float(m.Value)
	if err != nil {
		return fmt.Errorf("metric %s: %w", name, err)
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = p.now()
	}

	datum := types.MetricDatum{
		MetricName: aws.String(name),
		Timestamp:  aws.Time(ts),
		Value:      aws.Float64(value),
		Unit:       m.Unit,
	}
	if len(m.Dimensions) > 0 {
		datum.Dimensions = make([]types.Dimension, 0, len(m.Dimensions))
		for _, d := range m.Dimensions {
			datum.Dimensions = append(datum.Dimensions, types.Dimension{
				Name:  aws.String(d.Name),
				Value: aws.String(d.Value),
			})
		}
	}

	_, err = p.api.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.Namespace),
		MetricData: []types.MetricDatum{datum},
	})
	if err != nil {
		publishedTotal.WithLabelValues("error").Inc()
		p.logger.Error("failed to put metric",
			zap.String("namespace", m.Namespace),
			zap.String("metric", name),
			zap.Error(err),
		)
		return &PublishError{Namespace: m.Namespace, Name: name, Err: err}
	}

	publishedTotal.WithLabelValues("ok").Inc()
	p.logger.Debug("metric published",
		zap.String("metric", name),
		zap.Float64("value", value),
		zap.Int("dimensions", len(m.Dimensions)),
	)
	return nil
}

// StripSpaces removes every whitespace rune from s.
func StripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Float converts a metric value to the float64 CloudWatch expects.
func Float(v any) (float64, error) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("unsupported metric value type %T", v)
	}
}
