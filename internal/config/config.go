package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
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
	Server     ServerConfig                  `yaml:"server"`
	Database   DatabaseConfig                `yaml:"database"`
	RabbitMQ   RabbitMQConfig                `yaml:"rabbitmq"`
	Redis      RedisConfig                   `yaml:"redis"`
	Logging    LoggingConfig                 `yaml:"logging"`
	App        AppConfig                     `yaml:"app"`
	Scheduler  SchedulerConfig               `yaml:"scheduler"`
	Validation ValidationConfig              `yaml:"validation"`
	Documents  map[string]DocumentTypeConfig `yaml:"documents"`
	Ingestion  IngestionConfig               `yaml:"ingestion"`
	OCR        OCRConfig                     `yaml:"ocr"`
	Blob       BlobConfig                    `yaml:"blob"`
	Tracing    TracingConfig                 `yaml:"tracing"`
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
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration.
// The exchange carries domain events; the queue receives job.enqueued wake-ups for the scheduler.
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
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
	Name               string `yaml:"name"`
	Durable            bool   `yaml:"durable"`
	AutoDelete         bool   `yaml:"auto_delete"`
	Exclusive          bool   `yaml:"exclusive"`
	DeadLetterExchange string `yaml:"dead_letter_exchange"`
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
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// RedisConfig holds the optional job lease store
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	LeaseTTL  time.Duration `yaml:"lease_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// SchedulerConfig holds the polling job scheduler settings
type SchedulerConfig struct {
	PollInterval    time.Duration    `yaml:"poll_interval"`
	BatchSize       int              `yaml:"batch_size"`
	Concurrency     int              `yaml:"concurrency"`
	MaxRetries      int              `yaml:"max_retries"`
	AutoRetry       bool             `yaml:"auto_retry"`
	JobTimeout      time.Duration    `yaml:"job_timeout"`
	StaleSweep      string           `yaml:"stale_sweep"`
	ShutdownTimeout time.Duration    `yaml:"shutdown_timeout"`
	FetchRetry      FetchRetryConfig `yaml:"fetch_retry"`
}

// FetchRetryConfig controls backoff for pending-job fetches inside one poll tick
type FetchRetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       float64       `yaml:"jitter"`
}

// ValidationConfig holds the field catalog and formatting gate
type ValidationConfig struct {
	FormattingThreshold float64                     `yaml:"formatting_threshold"`
	BlockOnCritical     bool                        `yaml:"block_on_critical"`
	DefaultRule         domain.FieldRule            `yaml:"default_rule"`
	Fields              map[string]domain.FieldRule `yaml:"fields"`
}

// DocumentTypeConfig describes one supported document type
type DocumentTypeConfig struct {
	Priority  int           `yaml:"priority"`
	Mandatory bool          `yaml:"mandatory"`
	Queries   []QueryConfig `yaml:"queries"`
}

// QueryConfig is one OCR question asked of a document
type QueryConfig struct {
	Text      string           `yaml:"text"`
	Alias     string           `yaml:"alias"`
	Page      int              `yaml:"page"`
	FieldType domain.FieldType `yaml:"field_type"`
}

// IngestionConfig holds upload checks and the upload gate
type IngestionConfig struct {
	MaxFileSizeMB     int      `yaml:"max_file_size_mb"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	UploadConcurrency int      `yaml:"upload_concurrency"`
}

// OCRConfig holds the OCR service client settings
type OCRConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
}

// BlobConfig selects where uploaded documents are stored
type BlobConfig struct {
	Backend  string    `yaml:"backend"`
	LocalDir string    `yaml:"local_dir"`
	OSS      OSSConfig `yaml:"oss"`
}

// OSSConfig holds Aliyun OSS credentials
type OSSConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`
	Bucket          string `yaml:"bucket"`
}

// TracingConfig enables OTLP export when Endpoint is set
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Load reads and parses the configuration file on top of Default()
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return config, nil
}

// ValidateAPIConfig checks the settings the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Ingestion.MaxFileSizeMB <= 0 {
		return fmt.Errorf("ingestion max_file_size_mb must be greater than 0")
	}

	if c.Ingestion.UploadConcurrency <= 0 {
		return fmt.Errorf("ingestion upload_concurrency must be greater than 0")
	}

	return c.validateBlob()
}

// ValidateWorkerConfig checks the settings the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler concurrency must be greater than 0")
	}

	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler batch_size must be greater than 0")
	}

	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler poll_interval must be greater than 0")
	}

	if c.Scheduler.JobTimeout <= 0 {
		return fmt.Errorf("scheduler job_timeout must be greater than 0")
	}

	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler max_retries must not be negative")
	}

	if c.Scheduler.ShutdownTimeout <= 0 {
		return fmt.Errorf("scheduler shutdown_timeout must be greater than 0")
	}

	if c.Validation.FormattingThreshold < 0 || c.Validation.FormattingThreshold > 100 {
		return fmt.Errorf("validation formatting_threshold must be between 0 and 100")
	}

	if c.OCR.BaseURL == "" {
		return fmt.Errorf("ocr base_url is required")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}

	return c.validateBlob()
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if !c.RabbitMQ.Enabled {
		return nil
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

func (c *Config) validateBlob() error {
	switch c.Blob.Backend {
	case "local":
		if c.Blob.LocalDir == "" {
			return fmt.Errorf("blob local_dir is required for the local backend")
		}
	case "oss":
		if c.Blob.OSS.Endpoint == "" || c.Blob.OSS.Bucket == "" {
			return fmt.Errorf("blob oss endpoint and bucket are required for the oss backend")
		}
	default:
		return fmt.Errorf("unknown blob backend: %q", c.Blob.Backend)
	}
	return nil
}

// Catalog returns the field rule catalog used by validation
func (c *Config) Catalog() domain.Catalog {
	return domain.Catalog{
		Rules:   c.Validation.Fields,
		Default: c.Validation.DefaultRule,
	}
}

// ExtractionPriority returns the queue priority for a document type
func (c *Config) ExtractionPriority(documentType string) int {
	if d, ok := c.Documents[documentType]; ok && d.Priority > 0 {
		return d.Priority
	}
	return domain.PriorityDefaultExtraction
}

// QueriesFor returns the OCR queries for a document type, filtered to page when page > 0
func (c *Config) QueriesFor(documentType string, page int) []QueryConfig {
	d, ok := c.Documents[documentType]
	if !ok {
		return nil
	}
	if page <= 0 {
		return d.Queries
	}

	var out []QueryConfig
	for _, q := range d.Queries {
		if q.Page == page {
			out = append(out, q)
		}
	}
	return out
}

// PagesFor lists the distinct query pages of a document type in ascending order
func (c *Config) PagesFor(documentType string) []int {
	d, ok := c.Documents[documentType]
	if !ok {
		return nil
	}

	seen := map[int]bool{}
	var pages []int
	for _, q := range d.Queries {
		if q.Page > 0 && !seen[q.Page] {
			seen[q.Page] = true
			pages = append(pages, q.Page)
		}
	}
	sort.Ints(pages)
	return pages
}

// MandatoryDocuments lists document types flagged mandatory
func (c *Config) MandatoryDocuments() []string {
	var out []string
	for name, d := range c.Documents {
		if d.Mandatory {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
