package provisioning

import (
	"context"
	"time"
)

// NotifyTerminal publishes a terminal progress for tenantName. A nil
// notifier is a no-op.
func NotifyTerminal(ctx context.Context, n Notifier, tenantName string, ref TenantRef, p Progress) error {
	if n == nil || !p.Terminal() {
		return nil
	}

	occurred := p.UpdatedAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	return n.NotifyTenantEvent(ctx, TenantEvent{
		TenantName:    tenantName,
		TenantID:      ref.TenantID,
		IdentityOrgID: ref.IdentityOrgID,
		Phase:         string(p.Phase),
		Percent:       p.Percent,
		FailureReason: p.FailureReason,
		OccurredAt:    occurred,
	})
}
