package provisioning

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProgressStore keeps the last known progress per tenant, so a poller that
// re-attaches (after a restart or a job re-activation) never reports less
// than was already shown. Reset drops the snapshot when a new setup run
// starts for the name.
type ProgressStore interface {
	Load(ctx context.Context, tenantName string) (*Progress, error)
	Save(ctx context.Context, tenantName string, p Progress) error
	Reset(ctx context.Context, tenantName string) error
}

const progressKeyPrefix = "tenant:progress:"

// RedisProgressStore stores snapshots as JSON strings with a TTL.
type RedisProgressStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisProgressStore(client redis.Cmdable, ttl time.Duration) *RedisProgressStore {
	return &RedisProgressStore{client: client, ttl: ttl}
}

func progressKey(tenantName string) string {
	return progressKeyPrefix + tenantName
}

// Load returns nil without error when there is no snapshot.
func (s *RedisProgressStore) Load(ctx context.Context, tenantName string) (*Progress, error) {
	raw, err := s.client.Get(ctx, progressKey(tenantName)).Result()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load progress snapshot: %w", err)
	}

	var p Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode progress snapshot: %w", err)
	}
	return &p, nil
}

func (s *RedisProgressStore) Save(ctx context.Context, tenantName string, p Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode progress snapshot: %w", err)
	}
	if err := s.client.Set(ctx, progressKey(tenantName), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save progress snapshot: %w", err)
	}
	return nil
}

func (s *RedisProgressStore) Reset(ctx context.Context, tenantName string) error {
	if err := s.client.Del(ctx, progressKey(tenantName)).Err(); err != nil {
		return fmt.Errorf("failed to reset progress snapshot: %w", err)
	}
	return nil
}

// nopProgressStore is used when no Redis is configured.
type nopProgressStore struct{}

func (nopProgressStore) Load(context.Context, string) (*Progress, error) { return nil, nil }
func (nopProgressStore) Save(context.Context, string, Progress) error    { return nil }
func (nopProgressStore) Reset(context.Context, string) error             { return nil }
