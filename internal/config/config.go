package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fleetops/patchflow/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Remote    RemoteConfig    `yaml:"remote"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Catalog   CatalogConfig   `yaml:"catalog"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// SchedulerConfig holds patch scheduler settings
type SchedulerConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	SlicePacing    time.Duration `yaml:"slice_pacing"`
}

// RemoteConfig holds remote command channel settings
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	SubscriptionID string        `yaml:"subscription_id"`
	SubmitTimeout  time.Duration `yaml:"submit_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
}

// DiscoveryConfig holds discovery backend settings. MachineQuery and
// InventoryQuery are the query texts issued against the backend for the
// machine registry and the software inventory.
type DiscoveryConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	WorkspaceID    string        `yaml:"workspace_id"`
	MachineQuery   string        `yaml:"machine_query"`
	InventoryQuery string        `yaml:"inventory_query"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
}

// CatalogConfig locates the install-script catalog file
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// Load reads and parses the configuration file, then applies defaults for
// optional tuning knobs.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills optional tuning knobs that the file may omit.
func (c *Config) applyDefaults() {
	if c.Scheduler.MaxConcurrency <= 0 {
		c.Scheduler.MaxConcurrency = domain.DefaultMaxConcurrency
	}
	if c.Scheduler.SlicePacing <= 0 {
		c.Scheduler.SlicePacing = 1500 * time.Millisecond
	}
	if c.Remote.SubmitTimeout <= 0 {
		c.Remote.SubmitTimeout = 600 * time.Second
	}
	if c.Remote.PollInterval <= 0 {
		c.Remote.PollInterval = 10 * time.Second
	}
	if c.Remote.PollTimeout <= 0 {
		c.Remote.PollTimeout = 15 * time.Minute
	}
	if c.Discovery.MaxRetries <= 0 {
		c.Discovery.MaxRetries = 3
	}
	if c.Discovery.RetryDelay <= 0 {
		c.Discovery.RetryDelay = 5 * time.Second
	}
	if c.Discovery.QueryTimeout <= 0 {
		c.Discovery.QueryTimeout = 60 * time.Second
	}
}

// ValidateAPI checks the configuration needed by the API service.
func (c *Config) ValidateAPI() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return configErrorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.validateCore()
}

// ValidateWorker checks the configuration needed by the worker service.
func (c *Config) ValidateWorker() error {
	if c.RabbitMQ.Consumer.PrefetchCount <= 0 {
		return configErrorf("rabbitmq consumer prefetch_count must be greater than 0")
	}

	return c.validateCore()
}

// validateCore checks the settings both services depend on.
func (c *Config) validateCore() error {
	if c.Database.Host == "" {
		return configErrorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return configErrorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return configErrorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return configErrorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return configErrorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return configErrorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return configErrorf("rabbitmq queue name is required")
	}

	if c.Remote.BaseURL == "" {
		return configErrorf("remote base_url is required")
	}

	if c.Remote.SubscriptionID == "" {
		return configErrorf("remote subscription_id is required")
	}

	if c.Discovery.BaseURL == "" {
		return configErrorf("discovery base_url is required")
	}

	if c.Discovery.MachineQuery == "" {
		return configErrorf("discovery machine_query is required")
	}

	if c.Discovery.InventoryQuery == "" {
		return configErrorf("discovery inventory_query is required")
	}

	if c.Catalog.Path == "" {
		return configErrorf("catalog path is required")
	}

	return nil
}

func configErrorf(format string, args ...interface{}) error {
	return domain.Errorf(domain.KindConfiguration, "validate config", format, args...)
}
