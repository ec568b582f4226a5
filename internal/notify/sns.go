package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// MaxSubjectLength is the longest subject SNS accepts.
const MaxSubjectLength = 100

// PublishAPI is the subset of the SNS client used by Topic.
type PublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

var _ PublishAPI = (*sns.Client)(nil)

// Topic publishes messages to one SNS topic.
type Topic struct {
	api    PublishAPI
	arn    string
	logger *zap.Logger
}

// NewTopic binds api to the topic arn.
func NewTopic(api PublishAPI, arn string, logger *zap.Logger) *Topic {
	return &Topic{api: api, arn: arn, logger: logger}
}

// Publish sends subject and message to the topic and returns the message id.
// Callers are responsible for keeping subject within MaxSubjectLength.
func (t *Topic) Publish(ctx context.Context, subject, message string) (string, error) {
	out, err := t.api.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(t.arn),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		sentTotal.WithLabelValues("sns", "error").Inc()
		t.logger.Error("sns publish failed", zap.String("topic_arn", t.arn), zap.Error(err))
		return "", fmt.Errorf("publish to %s: %w", t.arn, err)
	}

	id := aws.ToString(out.MessageId)
	sentTotal.WithLabelValues("sns", "ok").Inc()
	t.logger.Info("sns message published",
		zap.String("topic_arn", t.arn),
		zap.String("message_id", id),
	)
	return id, nil
}
