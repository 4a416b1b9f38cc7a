package tabula

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

// Config groups every setting of the data access layer.
type Config struct {
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Executor  ExecutorConfig  `json:"executor" yaml:"executor"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Reconcile ReconcileConfig `json:"reconcile" yaml:"reconcile"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host         string            `json:"host" yaml:"host"`
	Port         int               `json:"port" yaml:"port"`
	Database     string            `json:"database" yaml:"database"`
	Username     string            `json:"username" yaml:"username"`
	Password     string            `json:"password" yaml:"password"`
	Params       map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	Timeout      time.Duration     `json:"timeout" yaml:"timeout"`
	ReadTimeout  time.Duration     `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout time.Duration     `json:"writeTimeout" yaml:"writeTimeout"`
}

// DSN renders the connection string understood by the MySQL driver.
func (c DatabaseConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Timeout = c.Timeout
	cfg.ReadTimeout = c.ReadTimeout
	cfg.WriteTimeout = c.WriteTimeout
	if len(c.Params) > 0 {
		cfg.Params = make(map[string]string, len(c.Params))
		for k, v := range c.Params {
			cfg.Params[k] = v
		}
	}
	return cfg.FormatDSN()
}

// ExecutorConfig controls statement execution and connection supervision.
type ExecutorConfig struct {
	// ReconnectDelay is the wait between failed connection attempts.
	ReconnectDelay time.Duration `json:"reconnectDelay" yaml:"reconnectDelay"`
	// LostConnectionDelay is the wait before reconnecting after an established connection drops.
	LostConnectionDelay  time.Duration `json:"lostConnectionDelay" yaml:"lostConnectionDelay"`
	MaxReconnectAttempts int           `json:"maxReconnectAttempts" yaml:"maxReconnectAttempts"`
	PingTimeout          time.Duration `json:"pingTimeout" yaml:"pingTimeout"`
	// HealthCheckInterval is how often an established connection is pinged. Zero disables it.
	HealthCheckInterval time.Duration `json:"healthCheckInterval" yaml:"healthCheckInterval"`
	// TransactionalReads wraps every statement, reads included, in begin/commit.
	TransactionalReads bool `json:"transactionalReads" yaml:"transactionalReads"`
	// PublicRowKeys translates result column names to camelCase.
	PublicRowKeys bool `json:"publicRowKeys" yaml:"publicRowKeys"`
	// BreakerThreshold consecutive connection failures open the circuit breaker. Zero disables it.
	BreakerThreshold int           `json:"breakerThreshold" yaml:"breakerThreshold"`
	BreakerWindow    time.Duration `json:"breakerWindow" yaml:"breakerWindow"`
	BreakerOpenFor   time.Duration `json:"breakerOpenFor" yaml:"breakerOpenFor"`
}

// CacheConfig holds the cache engine defaults.
type CacheConfig struct {
	DefaultTTL     time.Duration `json:"defaultTTL" yaml:"defaultTTL"`
	CheckPeriod    time.Duration `json:"checkPeriod" yaml:"checkPeriod"`
	DeleteOnExpire bool          `json:"deleteOnExpire" yaml:"deleteOnExpire"`
}

// ReconcileConfig drives schema reconciliation at startup.
type ReconcileConfig struct {
	Mode           ReconcileMode `json:"mode" yaml:"mode"`
	DefinitionsDir string        `json:"definitionsDir,omitempty" yaml:"definitionsDir,omitempty"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level              string        `json:"level" yaml:"level"`
	Format             string        `json:"format" yaml:"format"`
	LogFullQuery       bool          `json:"logFullQuery" yaml:"logFullQuery"`
	SlowQueryThreshold time.Duration `json:"slowQueryThreshold" yaml:"slowQueryThreshold"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         3306,
			Timeout:      10 * time.Second,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Executor: ExecutorConfig{
			ReconnectDelay:       2 * time.Second,
			LostConnectionDelay:  10 * time.Second,
			MaxReconnectAttempts: 0,
			PingTimeout:          5 * time.Second,
			HealthCheckInterval:  30 * time.Second,
			TransactionalReads:   true,
			PublicRowKeys:        true,
			BreakerThreshold:     5,
			BreakerWindow:        30 * time.Second,
			BreakerOpenFor:       10 * time.Second,
		},
		Cache: CacheConfig{
			DefaultTTL:     10 * time.Minute,
			CheckPeriod:    30 * time.Second,
			DeleteOnExpire: true,
		},
		Reconcile: ReconcileConfig{
			Mode: ReconcileIgnore,
		},
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "json",
			SlowQueryThreshold: time.Second,
		},
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides connection and reconciliation settings from TABULA_* variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("TABULA_DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("TABULA_DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "database.port", Message: "TABULA_DB_PORT must be an integer"}
		}
		c.Database.Port = port
	}
	if v := os.Getenv("TABULA_DB_NAME"); v != "" {
		c.Database.Database = v
	}
	if v := os.Getenv("TABULA_DB_USER"); v != "" {
		c.Database.Username = v
	}
	if v := os.Getenv("TABULA_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("TABULA_RECONCILE_MODE"); v != "" {
		mode, err := ParseReconcileMode(v)
		if err != nil {
			return &ConfigError{Field: "reconcile.mode", Message: err.Error()}
		}
		c.Reconcile.Mode = mode
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return &ConfigError{Field: "database.host", Message: "must not be empty"}
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return &ConfigError{Field: "database.port", Message: "must be between 1 and 65535"}
	}
	if c.Executor.ReconnectDelay <= 0 {
		return &ConfigError{Field: "executor.reconnectDelay", Message: "must be greater than 0"}
	}
	if c.Executor.LostConnectionDelay <= 0 {
		return &ConfigError{Field: "executor.lostConnectionDelay", Message: "must be greater than 0"}
	}
	if c.Executor.MaxReconnectAttempts < 0 {
		return &ConfigError{Field: "executor.maxReconnectAttempts", Message: "must not be negative"}
	}
	if c.Cache.DefaultTTL <= 0 {
		return &ConfigError{Field: "cache.defaultTTL", Message: "must be greater than 0"}
	}
	if c.Cache.CheckPeriod <= 0 {
		return &ConfigError{Field: "cache.checkPeriod", Message: "must be greater than 0"}
	}
	if c.Reconcile.Mode < ReconcileIgnore || c.Reconcile.Mode > ReconcileRebuild {
		return &ConfigError{Field: "reconcile.mode", Message: "unknown mode"}
	}
	return nil
}
