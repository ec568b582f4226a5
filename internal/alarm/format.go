// Package alarm renders CloudWatch alarm notifications delivered over SNS
// into a short title and a fixed-layout text body.
package alarm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

const (
	unknown       = "Unknown"
	fallbackTitle = "Alarm Notification"

	// StateOK is the recovery state. Paging channels skip it.
	StateOK = "OK"
)

var comparisonSymbols = map[string]string{
	"GreaterThanOrEqualToThreshold": ">=",
	"GreaterThanThreshold":          ">",
	"LessThanOrEqualToThreshold":    "<=",
	"LessThanThreshold":             "<",
	"GreaterThanUpperThreshold":     "> upper",
	"LessThanLowerThreshold":        "< lower",
}

// Formatted is a rendered notification. HasState is false when the alarm
// payload could not be decoded and the fallback rendering was used.
type Formatted struct {
	Title    string
	Body     string
	State    string
	HasState bool
}

// IsOK reports whether the alarm transitioned to the recovery state.
func (f Formatted) IsOK() bool {
	return f.HasState && f.State == StateOK
}

type payload struct {
	AlarmName       *string `json:"AlarmName"`
	NewStateValue   *string `json:"NewStateValue"`
	OldStateValue   *string `json:"OldStateValue"`
	NewStateReason  string  `json:"NewStateReason"`
	StateChangeTime string  `json:"StateChangeTime"`
	Trigger         trigger `json:"Trigger"`
}

type trigger struct {
	MetricName         *string         `json:"MetricName"`
	Dimensions         []dimension     `json:"Dimensions"`
	Threshold          json.RawMessage `json:"Threshold"`
	ComparisonOperator string          `json:"ComparisonOperator"`
	Statistic          string          `json:"Statistic"`
	Period             json.Number     `json:"Period"`
	DatapointsToAlarm  json.RawMessage `json:"DatapointsToAlarm"`
	EvaluationPeriods  json.RawMessage `json:"EvaluationPeriods"`
	TreatMissingData   string          `json:"TreatMissingData"`
}

type dimension struct {
	Name  *string `json:"name"`
	Value *string `json:"value"`
}

// EmptyMessage stands in for an SNS record that carries no Message at all.
const EmptyMessage = "{}"

// Format renders the alarm carried in the SNS message. A message that is
// not a JSON object, including an empty one, yields the subject (or a
// generic title) and the raw entity as the body, without a state.
func Format(sns events.SNSEntity) Formatted {
	var p payload
	if err := json.Unmarshal([]byte(sns.Message), &p); err != nil {
		title := sns.Subject
		if title == "" {
			title = fallbackTitle
		}
		return Formatted{Title: title, Body: entityString(sns)}
	}

	newState := orDefault(p.NewStateValue, unknown)
	oldState := orDefault(p.OldStateValue, unknown)
	t := p.Trigger

	lines := []string{
		fmt.Sprintf("State:     %s -> %s", oldState, newState),
		fmt.Sprintf("Time:      %s", p.StateChangeTime),
		fmt.Sprintf("Reason:    %s", p.NewStateReason),
		"",
		fmt.Sprintf("Metric:    %s", orDefault(t.MetricName, unknown)),
		fmt.Sprintf("Device:    %s", formatDimensions(t.Dimensions)),
		fmt.Sprintf("Condition: %s %s %s", t.Statistic, comparisonSymbol(t.ComparisonOperator), rawString(t.Threshold, "None")),
		fmt.Sprintf("Period:    %s (%s/%s datapoints)", FormatPeriod(periodSeconds(t.Period)),
			rawString(t.DatapointsToAlarm, ""), rawString(t.EvaluationPeriods, "")),
		fmt.Sprintf("Missing:   treated as %s", t.TreatMissingData),
	}

	return Formatted{
		Title:    newState + ": " + orDefault(p.AlarmName, unknown),
		Body:     strings.Join(lines, "\n"),
		State:    newState,
		HasState: true,
	}
}

// FormatPeriod renders seconds as whole hours, minutes or seconds using
// integer division.
func FormatPeriod(seconds int64) string {
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%dh", seconds/3600)
	case seconds >= 60:
		return fmt.Sprintf("%dm", seconds/60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func comparisonSymbol(op string) string {
	if sym, ok := comparisonSymbols[op]; ok {
		return sym
	}
	return op
}

func formatDimensions(dims []dimension) string {
	if len(dims) == 0 {
		return "None"
	}
	parts := make([]string, 0, len(dims))
	for _, d := range dims {
		parts = append(parts, fmt.Sprintf("%s (%s)", orDefault(d.Value, "?"), orDefault(d.Name, "?")))
	}
	return strings.Join(parts, ", ")
}

func periodSeconds(n json.Number) int64 {
	if n == "" {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, err := n.Float64()
	if err != nil {
		return 0
	}
	return int64(f)
}

// rawString renders a JSON scalar without quotes; absent or null values
// render as absent.
func rawString(raw json.RawMessage, absent string) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return absent
	}
	var str string
	if strings.HasPrefix(s, `"`) && json.Unmarshal(raw, &str) == nil {
		return str
	}
	return s
}

func orDefault(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func entityString(sns events.SNSEntity) string {
	b, err := json.Marshal(sns)
	if err != nil {
		return fmt.Sprintf("%+v", sns)
	}
	return string(b)
}
