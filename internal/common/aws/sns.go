// internal/common/aws/sns.go
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// publisher is the slice of the SNS API the notifier needs.
type publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// TenantEvent is published when a tenant's provisioning reaches a terminal
// phase.
type TenantEvent struct {
	TenantName    string    `json:"tenantName"`
	TenantID      int64     `json:"tenantId,omitempty"`
	IdentityOrgID string    `json:"identityOrgId,omitempty"`
	Phase         string    `json:"phase"`
	Percent       int       `json:"percent"`
	FailureReason string    `json:"failureReason,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// SNSClient publishes tenant events to a single topic.
type SNSClient struct {
	client   publisher
	topicARN string
}

func NewSNSClient(ctx context.Context, region, topicARN string) (*SNSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return &SNSClient{client: sns.NewFromConfig(cfg), topicARN: topicARN}, nil
}

// NotifyTenantEvent publishes ev as JSON with the phase as a message
// attribute so subscriptions can filter on it.
func (s *SNSClient) NotifyTenantEvent(ctx context.Context, ev TenantEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal tenant event: %w", err)
	}

	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(fmt.Sprintf("Tenant %s %s", ev.TenantName, ev.Phase)),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"phase": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.Phase),
			},
			"tenantName": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.TenantName),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish tenant event: %w", err)
	}
	return nil
}
