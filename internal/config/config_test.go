package config

import (
	"testing"
	"time"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
		{
			name:      "invalid tolerance literal",
			filePath:  "testdata/bad_tolerance.yaml",
			wantErr:   true,
			errString: "invalid tolerance",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "recon_db", cfg.Database.Database)
				assert.Equal(t, "recon.events", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "recon.scheduler.wakeups", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "recon-worker-service", cfg.App.Name)
			}
		})
	}
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 20, cfg.Scheduler.BatchSize)
	assert.False(t, cfg.Scheduler.AutoRetry)
	assert.Equal(t, "@every 1m", cfg.Scheduler.StaleSweep, "unset keys keep defaults")
	assert.Equal(t, 5, cfg.Scheduler.FetchRetry.MaxAttempts)
	assert.Equal(t, 5, cfg.Ingestion.UploadConcurrency)
	assert.Equal(t, 50, cfg.Ingestion.MaxFileSizeMB)
	assert.Equal(t, 75.0, cfg.Validation.FormattingThreshold)
	assert.True(t, cfg.Validation.BlockOnCritical)

	income := cfg.Catalog().Rule("ANNUAL_INCOME")
	assert.Equal(t, domain.FieldTypeCurrency, income.Type())
	assert.InDelta(t, 0.02, income.Tolerance.For(income.Type()), 1e-9)
	assert.Equal(t, 0.9, income.Threshold())

	tax := cfg.Catalog().Rule("PROPERTY_TAX")
	assert.True(t, tax.Tolerance.Exact)
	assert.Equal(t, 0.0, tax.Tolerance.For(domain.FieldTypeCurrency))
	assert.True(t, tax.IsImportant(), "non-critical currency fields are important")
	assert.Equal(t, domain.DefaultSimilarityThreshold, tax.Threshold())

	dob := cfg.Catalog().Rule("APPLICANT_DOB")
	assert.True(t, dob.Critical, "built-in rules survive a partial fields map")

	assert.Equal(t, 5, cfg.ExtractionPriority("tax_return"))
	assert.Equal(t, 1, cfg.ExtractionPriority("mortgage_application"))
	assert.Equal(t, domain.PriorityDefaultExtraction, cfg.ExtractionPriority("unheard_of"))
}

func TestConfig_QueriesAndPages(t *testing.T) {
	cfg := Default()

	assert.Equal(t, []int{1, 2, 3}, cfg.PagesFor("mortgage_application"))
	assert.Equal(t, []int{1}, cfg.PagesFor("bank_statement"))
	assert.Nil(t, cfg.PagesFor("generic_document"))

	page2 := cfg.QueriesFor("mortgage_application", 2)
	require.Len(t, page2, 3)
	for _, q := range page2 {
		assert.Equal(t, 2, q.Page)
	}
	assert.Len(t, cfg.QueriesFor("mortgage_application", 0), 14)
	assert.Equal(t, []string{"mortgage_application", "t4_form"}, cfg.MandatoryDocuments())
}

func TestCatalog_UnknownField(t *testing.T) {
	rule := Default().Catalog().Rule("FAVOURITE_COLOUR")

	assert.Equal(t, domain.FieldTypeText, rule.Type())
	assert.Equal(t, 0.8, rule.Tolerance.For(rule.Type()))
	assert.Equal(t, 0.7, rule.Threshold())
	assert.False(t, rule.Critical)
	assert.False(t, rule.IsImportant())
}

func validAPIConfig() *Config {
	cfg := Default()
	cfg.Server.Port = 8080
	cfg.Database.Host = "localhost"
	cfg.Database.Database = "recon_db"
	cfg.RabbitMQ.Enabled = true
	cfg.RabbitMQ.Host = "localhost"
	return cfg
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name: "rabbitmq disabled skips its checks",
			mutate: func(c *Config) {
				c.RabbitMQ.Enabled = false
				c.RabbitMQ.Host = ""
			},
			wantErr: false,
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "unknown blob backend",
			mutate:    func(c *Config) { c.Blob.Backend = "s3" },
			wantErr:   true,
			errString: "unknown blob backend",
		},
		{
			name: "oss backend without bucket",
			mutate: func(c *Config) {
				c.Blob.Backend = "oss"
				c.Blob.OSS.Endpoint = "oss-cn-hangzhou.aliyuncs.com"
			},
			wantErr:   true,
			errString: "endpoint and bucket are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAPIConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Scheduler.Concurrency = 0 },
			wantErr:   true,
			errString: "scheduler concurrency must be greater than 0",
		},
		{
			name:      "zero job timeout",
			mutate:    func(c *Config) { c.Scheduler.JobTimeout = 0 },
			wantErr:   true,
			errString: "scheduler job_timeout must be greater than 0",
		},
		{
			name:      "threshold above 100",
			mutate:    func(c *Config) { c.Validation.FormattingThreshold = 120 },
			wantErr:   true,
			errString: "formatting_threshold",
		},
		{
			name:      "missing ocr url",
			mutate:    func(c *Config) { c.OCR.BaseURL = "" },
			wantErr:   true,
			errString: "ocr base_url is required",
		},
		{
			name: "redis enabled without addr",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Addr = ""
			},
			wantErr:   true,
			errString: "redis addr is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAPIConfig()
			cfg.OCR.BaseURL = "http://localhost:9000"
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
