package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Notifier publishes domain events to an SNS topic.
type Notifier struct {
	SNS      SNSAPI
	TopicARN string
}

func NewNotifier(client SNSAPI, topicARN string) *Notifier {
	return &Notifier{SNS: client, TopicARN: topicARN}
}

// Publish sends v as JSON. eventType is attached as the "event_type" message
// attribute so subscribers can filter.
func (n *Notifier) Publish(ctx context.Context, eventType string, v any) error {
	if n.TopicARN == "" {
		return fmt.Errorf("sns publish: empty topic arn")
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = n.SNS.Publish(ctx, &sns.PublishInput{
		TopicArn: awsString(n.TopicARN),
		Message:  awsString(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"event_type": {DataType: awsString("String"), StringValue: awsString(eventType)},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", n.TopicARN, err)
	}
	return nil
}
