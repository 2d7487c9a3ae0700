// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App                AppConfig                `mapstructure:"app"`
	Camunda            CamundaConfig            `mapstructure:"camunda"`
	Database           DatabaseConfig           `mapstructure:"database"`
	Workers            map[string]WorkerConfig  `mapstructure:"workers"`
	Auth               AuthConfig               `mapstructure:"auth"`
	ApplicationService ApplicationServiceConfig `mapstructure:"application_service"`
	Provisioning       ProvisioningConfig       `mapstructure:"provisioning"`
	Logging            LoggingConfig            `mapstructure:"logging"`
	Notifications      NotificationConfig       `mapstructure:"notifications"`
	Server             ServerConfig             `mapstructure:"server"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig backs the setup-run ledger. An empty Host disables it.
type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// Enabled reports whether a ledger database is configured.
func (p PostgresConfig) Enabled() bool { return p.Host != "" }

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig backs the progress snapshot store. An empty Address disables it.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Enabled() bool { return r.Address != "" }

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// --- Specific Configuration Sections ---

// KeycloakConfig holds the admin client credentials for the identity service.
type KeycloakConfig struct {
	URL            string `mapstructure:"url"`
	Realm          string `mapstructure:"realm"`
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type AuthConfig struct {
	Keycloak KeycloakConfig `mapstructure:"keycloak"`
}

// ApplicationServiceConfig configures the tenant API of the application service.
type ApplicationServiceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIToken       string `mapstructure:"api_token"`
	CreateTimeout  int    `mapstructure:"create_timeout"`  // milliseconds, create-tenant deadline
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds, every other call
}

// ProvisioningConfig tunes the setup saga and the progress poller.
type ProvisioningConfig struct {
	AdminGroupName     string `mapstructure:"admin_group_name"`
	AssignRetryBackoff int    `mapstructure:"assign_retry_backoff"` // milliseconds
	PollInterval       int    `mapstructure:"poll_interval"`        // milliseconds
	ProgressTTL        int    `mapstructure:"progress_ttl"`         // milliseconds
	AwaitTimeout       int    `mapstructure:"await_timeout"`        // milliseconds, await worker budget
}

// NotificationConfig holds settings for terminal provisioning notifications.
type NotificationConfig struct {
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		Region   string `mapstructure:"region"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
}

// ServerConfig is the worker manager's health and metrics listener.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
