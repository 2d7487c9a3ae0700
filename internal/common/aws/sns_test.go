package aws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	return &sns.PublishOutput{}, f.err
}

func TestNotifyTenantEvent(t *testing.T) {
	fake := &fakePublisher{}
	client := &SNSClient{client: fake, topicARN: "arn:aws:sns:eu-west-1:123:tenants"}

	err := client.NotifyTenantEvent(context.Background(), TenantEvent{
		TenantName: "acme",
		Phase:      "COMPLETED",
		Percent:    100,
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, fake.inputs, 1)

	in := fake.inputs[0]
	assert.Equal(t, "arn:aws:sns:eu-west-1:123:tenants", *in.TopicArn)
	assert.Equal(t, "COMPLETED", *in.MessageAttributes["phase"].StringValue)

	var ev TenantEvent
	require.NoError(t, json.Unmarshal([]byte(*in.Message), &ev))
	assert.Equal(t, "acme", ev.TenantName)
	assert.Equal(t, 100, ev.Percent)
}

func TestNotifyTenantEventError(t *testing.T) {
	client := &SNSClient{client: &fakePublisher{err: stderrors.New("throttled")}, topicARN: "arn"}
	err := client.NotifyTenantEvent(context.Background(), TenantEvent{TenantName: "acme", Phase: "FAILED"})
	assert.ErrorContains(t, err, "throttled")
}
