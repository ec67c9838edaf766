package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Remote     RemoteConfig     `yaml:"remote"`
	Sync       SyncConfig       `yaml:"sync"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	Path         string `yaml:"path"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type RemoteConfig struct {
	Driver    string            `yaml:"driver"`
	Timeout   Duration          `yaml:"timeout"`
	Firestore FirestoreConfig   `yaml:"firestore"`
	Redis     RemoteRedisConfig `yaml:"redis"`
}

type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

type RemoteRedisConfig struct {
	Prefix string `yaml:"prefix"`
}

type SyncConfig struct {
	Workers                  int         `yaml:"workers"`
	Interval                 Duration    `yaml:"interval"`
	QueueInterval            Duration    `yaml:"queue_interval"`
	BatchSize                int         `yaml:"batch_size"`
	StuckTimeout             Duration    `yaml:"stuck_timeout"`
	SystemicFailureThreshold int         `yaml:"systemic_failure_threshold"`
	DefaultActor             string      `yaml:"default_actor"`
	DefaultStatusCode        string      `yaml:"default_status_code"`
	PullCursor               bool        `yaml:"pull_cursor"`
	CursorSkew               Duration    `yaml:"cursor_skew"`
	DeadLetterKey            string      `yaml:"dead_letter_key"`
	Retry                    RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries int      `yaml:"max_retries"`
	Step       Duration `yaml:"step"`
	MaxDelay   Duration `yaml:"max_delay"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; variables already in the environment win.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Remote.Driver {
	case "firestore":
		if c.Remote.Firestore.ProjectID == "" {
			return errors.New("remote.firestore.project_id is required")
		}
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("redis address is required for the redis remote driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported remote driver %q", c.Remote.Driver)
	}

	// The clamp must not be reached within the retry budget, or two attempts
	// would wait the same delay.
	retry := c.Sync.Retry
	if retry.MaxDelay > 0 {
		attempts := retry.MaxRetries
		if attempts < 1 {
			attempts = 1
		}
		if floor := time.Duration(retry.Step) * time.Duration(attempts); retry.MaxDelay.Std() < floor {
			return fmt.Errorf("sync.retry.max_delay must be at least %s (step x max_retries)", floor)
		}
	}

	for i, k := range c.API.Auth.APIKeys {
		if k.Key == "" {
			return fmt.Errorf("api key #%d is empty", i)
		}
		if k.Name == "" {
			return fmt.Errorf("api key #%d has no name", i)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "signalsync"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Remote.Driver == "" {
		c.Remote.Driver = "firestore"
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = Duration(10 * time.Second)
	}
	if c.Remote.Redis.Prefix == "" {
		c.Remote.Redis.Prefix = "docs"
	}

	if c.Sync.Workers <= 0 {
		c.Sync.Workers = 4
	}
	if c.Sync.QueueInterval == 0 {
		c.Sync.QueueInterval = Duration(5 * time.Second)
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = 20
	}
	if c.Sync.StuckTimeout == 0 {
		c.Sync.StuckTimeout = Duration(15 * time.Minute)
	}
	if c.Sync.SystemicFailureThreshold <= 0 {
		c.Sync.SystemicFailureThreshold = 5
	}
	if c.Sync.DefaultActor == "" {
		c.Sync.DefaultActor = "system"
	}
	if c.Sync.DefaultStatusCode == "" {
		c.Sync.DefaultStatusCode = "NOUVEAU"
	}
	if c.Sync.CursorSkew == 0 {
		c.Sync.CursorSkew = Duration(30 * time.Second)
	}
	if c.Sync.DeadLetterKey == "" {
		c.Sync.DeadLetterKey = "sync:deadletter"
	}
	if c.Sync.Retry.MaxRetries <= 0 {
		c.Sync.Retry.MaxRetries = 3
	}
	if c.Sync.Retry.Step == 0 {
		c.Sync.Retry.Step = Duration(5 * time.Minute)
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
