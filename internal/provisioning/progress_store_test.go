package provisioning

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisProgressStore_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisProgressStore(client, time.Hour)
	ctx := context.Background()

	got, err := store.Load(ctx, "acme")
	require.NoError(t, err)
	assert.Nil(t, got)

	sub := 40
	want := Progress{
		Phase:      PhaseRunningMigrations,
		SubPercent: &sub,
		Percent:    39,
		RawMessage: "Running migrations 40%",
		UpdatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, store.Save(ctx, "acme", want))

	assert.True(t, mr.Exists("tenant:progress:acme"))
	assert.Equal(t, time.Hour, mr.TTL("tenant:progress:acme"))

	got, err = store.Load(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)
}

func TestRedisProgressStore_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisProgressStore(client, time.Minute)
	require.NoError(t, store.Save(context.Background(), "acme", Progress{Phase: PhaseInitializing, Percent: 25}))

	mr.FastForward(2 * time.Minute)

	got, err := store.Load(context.Background(), "acme")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisProgressStore_SaveError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	mr.SetError("READONLY You can't write against a read only replica.")

	store := NewRedisProgressStore(client, time.Minute)
	err := store.Save(context.Background(), "acme", Progress{Percent: 25})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save progress snapshot")
}

func TestRedisProgressStore_Load(t *testing.T) {
	tests := []struct {
		name    string
		expect  func(redismock.ClientMock)
		want    *Progress
		wantErr string
	}{
		{
			name:   "missing key",
			expect: func(m redismock.ClientMock) { m.ExpectGet("tenant:progress:acme").RedisNil() },
		},
		{
			name: "stored snapshot",
			expect: func(m redismock.ClientMock) {
				m.ExpectGet("tenant:progress:acme").SetVal(`{"phase":"LOADING_DEFAULT_DATA","percent":85}`)
			},
			want: &Progress{Phase: PhaseLoadingDefaultData, Percent: 85},
		},
		{
			name:    "redis error",
			expect:  func(m redismock.ClientMock) { m.ExpectGet("tenant:progress:acme").SetErr(stderrors.New("connection reset")) },
			wantErr: "failed to load progress snapshot",
		},
		{
			name:    "corrupt value",
			expect:  func(m redismock.ClientMock) { m.ExpectGet("tenant:progress:acme").SetVal("not json") },
			wantErr: "failed to decode progress snapshot",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := redismock.NewClientMock()
			tt.expect(mock)

			got, err := NewRedisProgressStore(client, time.Minute).Load(context.Background(), "acme")

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRedisProgressStore_SaveUsesTTL(t *testing.T) {
	client, mock := redismock.NewClientMock()
	p := Progress{Phase: PhaseCompleted, Percent: 100}
	data, _ := json.Marshal(p)

	mock.ExpectSet("tenant:progress:acme", data, 24*time.Hour).SetVal("OK")

	require.NoError(t, NewRedisProgressStore(client, 24*time.Hour).Save(context.Background(), "acme", p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisProgressStore_Reset(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisProgressStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "acme", Progress{Phase: PhaseFailed, Percent: 39, FailureReason: "disk quota exceeded"}))
	require.NoError(t, store.Reset(ctx, "acme"))
	assert.False(t, mr.Exists("tenant:progress:acme"))

	// resetting a missing snapshot is fine
	require.NoError(t, store.Reset(ctx, "acme"))

	got, err := store.Load(ctx, "acme")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisProgressStore_ResetError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectDel("tenant:progress:acme").SetErr(stderrors.New("connection refused"))

	err := NewRedisProgressStore(client, time.Hour).Reset(context.Background(), "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reset progress snapshot")
	assert.NoError(t, mock.ExpectationsWereMet())
}
