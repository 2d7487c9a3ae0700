package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
auth:
  keycloak:
    url: http://keycloak:8080
    realm: tenants
    client_id: provisioner
    client_secret: ${TEST_KC_SECRET}
application_service:
  base_url: http://app:8000
workers:
  tenant-setup:
    enabled: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_DefaultsAndExpansion(t *testing.T) {
	t.Setenv("TEST_KC_SECRET", "s3cret")

	cfg, err := LoadFromFile(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Auth.Keycloak.ClientSecret)
	assert.Equal(t, DefaultAdminGroupName, cfg.Provisioning.AdminGroupName)
	assert.Equal(t, 3*time.Second, GetDuration(cfg.Provisioning.PollInterval))
	assert.Equal(t, 30*time.Minute, GetDuration(cfg.Provisioning.AwaitTimeout))
	assert.Equal(t, DefaultCreateTimeout, cfg.ApplicationService.CreateTimeout)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.False(t, cfg.Database.Postgres.Enabled())
	assert.False(t, cfg.Database.Redis.Enabled())

	wc := cfg.Workers["tenant-setup"]
	assert.True(t, wc.Enabled)
	assert.Equal(t, 5, wc.MaxJobsActive)
	assert.Equal(t, 30000, wc.Timeout)
}

func TestLoadFromFile_SecretFromConventionalEnv(t *testing.T) {
	t.Setenv("APPLICATION_SERVICE_API_TOKEN", "tok")

	cfg, err := LoadFromFile(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.ApplicationService.APIToken)
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing keycloak url",
			body:    "application_service:\n  base_url: http://app\n",
			wantErr: "auth.keycloak.url is required",
		},
		{
			name: "missing application service",
			body: `
auth:
  keycloak:
    url: http://kc
    realm: r
    client_id: c
`,
			wantErr: "application_service.base_url is required",
		},
		{
			name: "postgres without database",
			body: minimalYAML + `
database:
  postgres:
    host: db
    user: app
`,
			wantErr: "database.postgres.database is required",
		},
		{
			name: "sns without topic",
			body: minimalYAML + `
notifications:
  sns:
    enabled: true
    region: eu-west-1
`,
			wantErr: "notifications.sns.topic_arn is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRequireBroker(t *testing.T) {
	assert.Error(t, RequireBroker(&Config{}))
	assert.NoError(t, RequireBroker(&Config{Camunda: CamundaConfig{BrokerAddress: "zeebe:26500"}}))
}

func TestGetWorkerConfig_Fallback(t *testing.T) {
	cfg := &Config{Workers: map[string]WorkerConfig{"a": {Enabled: false}}}

	assert.False(t, IsWorkerEnabled(cfg, "a"))
	assert.True(t, IsWorkerEnabled(cfg, "b"))
	assert.Equal(t, 5, GetWorkerConfig(cfg, "b").MaxJobsActive)
}

func TestPostgresConfig_GetDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "ledger", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=ledger sslmode=disable", p.GetDSN())
}
