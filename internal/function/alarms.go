package function

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/HerbHall/nepenthes/internal/alarm"
	"github.com/HerbHall/nepenthes/internal/notify"
	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"
)

// messageFields records which keys the first record's Sns object carries.
type messageFields struct {
	Records []struct {
		SNS map[string]json.RawMessage `json:"Sns"`
	} `json:"Records"`
}

// firstRecord decodes an SNS event and returns its first record's entity.
// A record without a Message key, or an event without records, carries an
// empty alarm object. A Message that is present but empty is kept as is.
func firstRecord(event json.RawMessage) (events.SNSEntity, error) {
	var e events.SNSEvent
	var fields messageFields
	if len(event) > 0 {
		if err := json.Unmarshal(event, &e); err != nil {
			return events.SNSEntity{}, fmt.Errorf("decode sns event: %w", err)
		}
		if err := json.Unmarshal(event, &fields); err != nil {
			return events.SNSEntity{}, fmt.Errorf("decode sns event: %w", err)
		}
	}
	if len(e.Records) == 0 {
		return events.SNSEntity{Message: alarm.EmptyMessage}, nil
	}
	entity := e.Records[0].SNS
	if _, ok := fields.Records[0].SNS["Message"]; !ok {
		entity.Message = alarm.EmptyMessage
	}
	return entity, nil
}

// Pushover pages the on-call person for alarm transitions. Recoveries are
// not paged.
type Pushover struct {
	pager  Pager
	logger *zap.Logger
}

// NewPushover creates the pushover function.
func NewPushover(pager Pager, logger *zap.Logger) *Pushover {
	return &Pushover{pager: pager, logger: logger}
}

func (f *Pushover) Info() Info {
	return Info{
		Name:        NamePushover,
		Description: "Pages alarm transitions through Pushover, skipping recoveries",
		Trigger:     TriggerSNS,
	}
}

func (f *Pushover) Invoke(ctx context.Context, event json.RawMessage) (any, error) {
	entity, err := firstRecord(event)
	if err != nil {
		return nil, err
	}
	formatted := alarm.Format(entity)

	if formatted.IsOK() {
		f.logger.Info("skipping pushover for OK state", zap.String("title", formatted.Title))
		return Response{StatusCode: 200, Body: "skipped OK state"}, nil
	}

	res, err := f.pager.Send(ctx, formatted.Title, formatted.Body)
	if err != nil {
		return nil, err
	}
	return Response{StatusCode: res.StatusCode, Body: res.Body}, nil
}

// AlarmEmail republishes alarms in readable form to the email topic.
type AlarmEmail struct {
	topic  TopicPublisher
	logger *zap.Logger
}

// NewAlarmEmail creates the alarm-email function.
func NewAlarmEmail(topic TopicPublisher, logger *zap.Logger) *AlarmEmail {
	return &AlarmEmail{topic: topic, logger: logger}
}

func (f *AlarmEmail) Info() Info {
	return Info{
		Name:        NameAlarmEmail,
		Description: "Publishes formatted alarms to the email topic",
		Trigger:     TriggerSNS,
	}
}

func (f *AlarmEmail) Invoke(ctx context.Context, event json.RawMessage) (any, error) {
	entity, err := firstRecord(event)
	if err != nil {
		return nil, err
	}
	formatted := alarm.Format(entity)

	id, err := f.topic.Publish(ctx, alarm.Truncate(formatted.Title, notify.MaxSubjectLength), formatted.Body)
	if err != nil {
		return nil, err
	}
	return Response{StatusCode: 200, Body: map[string]string{"MessageId": id}}, nil
}
