package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanRecordsAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	obs := New("tenant-provisioning-test", WithSpanProcessor(recorder))
	t.Cleanup(obs.Shutdown)

	_, span := obs.StartSpan(context.Background(), "tenant.setup.identity_org", attribute.String("tenantName", "acme"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "tenant.setup.identity_org", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.String("tenantName", "acme"))
}

func TestNilObservabilityIsSafe(t *testing.T) {
	var obs *Observability
	_, span := obs.StartSpan(context.Background(), "noop")
	span.End()
	obs.RecordJobProcessed(context.Background(), "tenant.setup", "ok")
	obs.Shutdown()
}
