package config

import (
	"time"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
)

// Default returns a configuration with every tunable set to its default value
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		RabbitMQ: RabbitMQConfig{
			Port:       5672,
			VHost:      "/",
			Exchange:   ExchangeConfig{Name: "recon.events", Type: "topic", Durable: true},
			Queue:      QueueConfig{Name: "recon.scheduler.wakeups", Durable: true, DeadLetterExchange: "recon.events.dlx"},
			RoutingKey: "job.enqueued",
			Connection: ConnectionConfig{
				RetryAttempts:     5,
				RetryInterval:     2 * time.Second,
				Heartbeat:         10 * time.Second,
				ConnectionTimeout: 30 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts:     3,
				RetryInterval:     500 * time.Millisecond,
				BackoffMultiplier: 2,
			},
			Consumer: ConsumerConfig{PrefetchCount: 10},
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "recon:lock:job:",
			LeaseTTL:  10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		App: AppConfig{
			Name:        "mortgage-recon",
			Version:     "dev",
			Environment: "development",
		},
		Scheduler: SchedulerConfig{
			PollInterval:    5 * time.Second,
			BatchSize:       10,
			Concurrency:     3,
			MaxRetries:      domain.DefaultMaxRetries,
			AutoRetry:       true,
			JobTimeout:      5 * time.Minute,
			StaleSweep:      "@every 1m",
			ShutdownTimeout: 30 * time.Second,
			FetchRetry: FetchRetryConfig{
				MaxAttempts:  5,
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     5 * time.Second,
				Multiplier:   2.0,
				Jitter:       0.1,
			},
		},
		Validation: ValidationConfig{
			FormattingThreshold: 80,
			DefaultRule:         domain.DefaultFieldRule(),
			Fields:              DefaultFieldRules(),
		},
		Documents: DefaultDocuments(),
		Ingestion: IngestionConfig{
			MaxFileSizeMB:     50,
			AllowedExtensions: []string{".pdf", ".png", ".jpg", ".jpeg", ".tiff", ".tif"},
			UploadConcurrency: 5,
		},
		OCR: OCRConfig{
			Timeout:   2 * time.Minute,
			RateLimit: 5,
			Burst:     5,
		},
		Blob: BlobConfig{
			Backend:  "local",
			LocalDir: "data/uploads",
		},
		Tracing: TracingConfig{
			ServiceName: "mortgage-recon",
			SampleRatio: 1.0,
		},
	}
}

// applyDefaults fills zero values a config file may have cleared
func (c *Config) applyDefaults() {
	d := Default()

	if c.Scheduler.PollInterval <= 0 {
		c.Scheduler.PollInterval = d.Scheduler.PollInterval
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = d.Scheduler.BatchSize
	}
	if c.Scheduler.Concurrency <= 0 {
		c.Scheduler.Concurrency = d.Scheduler.Concurrency
	}
	if c.Scheduler.StaleSweep == "" {
		c.Scheduler.StaleSweep = d.Scheduler.StaleSweep
	}
	if c.Ingestion.UploadConcurrency <= 0 {
		c.Ingestion.UploadConcurrency = d.Ingestion.UploadConcurrency
	}
	if len(c.Ingestion.AllowedExtensions) == 0 {
		c.Ingestion.AllowedExtensions = d.Ingestion.AllowedExtensions
	}
	if c.Validation.DefaultRule.ValidationType == "" {
		c.Validation.DefaultRule = d.Validation.DefaultRule
	}
	if c.Validation.Fields == nil {
		c.Validation.Fields = map[string]domain.FieldRule{}
	}
	for name, rule := range c.Validation.Fields {
		if rule.ValidationType == "" {
			rule.ValidationType = domain.FieldTypeText
		}
		c.Validation.Fields[name] = rule
	}
	if c.Documents == nil {
		c.Documents = d.Documents
	}
}

// DefaultFieldRules is the built-in field catalog
func DefaultFieldRules() map[string]domain.FieldRule {
	text := func(tol, sim float64) domain.FieldRule {
		return domain.FieldRule{
			ValidationType:      domain.FieldTypeText,
			Tolerance:           domain.ToleranceOf(tol),
			SimilarityThreshold: sim,
		}
	}
	exact := func(vt domain.FieldType) domain.FieldRule {
		return domain.FieldRule{
			ValidationType:      vt,
			Tolerance:           domain.ExactTolerance(),
			Critical:            true,
			SimilarityThreshold: 1.0,
		}
	}
	currency := func(tol, sim float64, critical bool) domain.FieldRule {
		return domain.FieldRule{
			ValidationType:      domain.FieldTypeCurrency,
			Tolerance:           domain.ToleranceOf(tol),
			Critical:            critical,
			SimilarityThreshold: sim,
		}
	}

	return map[string]domain.FieldRule{
		"APPLICANT_FIRST_NAME": text(0.8, 0.7),
		"APPLICANT_LAST_NAME":  text(0.8, 0.7),
		"APPLICANT_DOB":        exact(domain.FieldTypeDate),
		"APPLICANT_SIN":        exact(domain.FieldTypeText),
		"APPLICANT_ADDRESS":    text(0.7, 0.6),
		"APPLICANT_PHONE":      text(0.8, 0.7),
		"APPLICANT_EMAIL":      text(0.9, 0.8),
		"ANNUAL_INCOME":        currency(0.05, 0.8, true),
		"EMPLOYMENT_STATUS":    text(0.8, 0.7),
		"EMPLOYER_NAME":        text(0.7, 0.6),
		"COAPP_FIRST_NAME":     text(0.8, 0.7),
		"COAPP_LAST_NAME":      text(0.8, 0.7),
		"COAPP_DOB":            exact(domain.FieldTypeDate),
		"COAPP_SIN":            exact(domain.FieldTypeText),
		"COAPP_ANNUAL_INCOME":  currency(0.05, 0.8, true),
		"ACCOUNT_HOLDER":       text(0.8, 0.7),
		"ACCOUNT_NUMBER":       text(0.9, 0.8),
		"BEGINNING_BALANCE":    currency(0.1, 0.7, false),
		"ENDING_BALANCE":       currency(0.1, 0.7, false),
		"CREDIT_SCORE": {
			ValidationType:      domain.FieldTypeNumber,
			Tolerance:           domain.ToleranceOf(0.05),
			Critical:            true,
			SimilarityThreshold: 0.8,
		},
		"ASSESSED_VALUE": currency(0.1, 0.7, false),
	}
}

// DefaultDocuments is the built-in document catalog. Priorities follow document importance,
// 1 being the most urgent.
func DefaultDocuments() map[string]DocumentTypeConfig {
	q := func(page int, ft domain.FieldType, alias, text string) QueryConfig {
		return QueryConfig{Text: text, Alias: alias, Page: page, FieldType: ft}
	}

	return map[string]DocumentTypeConfig{
		"mortgage_application": {
			Priority:  1,
			Mandatory: true,
			Queries: []QueryConfig{
				q(1, domain.FieldTypeText, "APPLICANT_FIRST_NAME", "What is the applicant's first name?"),
				q(1, domain.FieldTypeText, "APPLICANT_LAST_NAME", "What is the applicant's last name?"),
				q(1, domain.FieldTypeDate, "APPLICANT_DOB", "What is the applicant's date of birth?"),
				q(1, domain.FieldTypeText, "APPLICANT_SIN", "What is the applicant's social insurance number?"),
				q(1, domain.FieldTypeText, "APPLICANT_ADDRESS", "What is the applicant's current address?"),
				q(1, domain.FieldTypeText, "APPLICANT_PHONE", "What is the applicant's phone number?"),
				q(1, domain.FieldTypeText, "APPLICANT_EMAIL", "What is the applicant's email address?"),
				q(2, domain.FieldTypeText, "EMPLOYMENT_STATUS", "What is the applicant's employment status?"),
				q(2, domain.FieldTypeText, "EMPLOYER_NAME", "What is the applicant's employer name?"),
				q(2, domain.FieldTypeCurrency, "ANNUAL_INCOME", "What is the applicant's annual income?"),
				q(3, domain.FieldTypeText, "COAPP_FIRST_NAME", "What is the co-applicant's first name?"),
				q(3, domain.FieldTypeText, "COAPP_LAST_NAME", "What is the co-applicant's last name?"),
				q(3, domain.FieldTypeDate, "COAPP_DOB", "What is the co-applicant's date of birth?"),
				q(3, domain.FieldTypeCurrency, "COAPP_ANNUAL_INCOME", "What is the co-applicant's annual income?"),
			},
		},
		"t4_form": {
			Priority:  2,
			Mandatory: true,
			Queries: []QueryConfig{
				q(1, domain.FieldTypeText, "APPLICANT_FIRST_NAME", "What is the employee's first name?"),
				q(1, domain.FieldTypeText, "APPLICANT_LAST_NAME", "What is the employee's last name?"),
				q(1, domain.FieldTypeText, "APPLICANT_SIN", "What is the employee's social insurance number?"),
				q(1, domain.FieldTypeText, "EMPLOYER_NAME", "What is the employer's name?"),
				q(1, domain.FieldTypeCurrency, "ANNUAL_INCOME", "What is the employment income in box 14?"),
			},
		},
		"employment_letter": {
			Priority: 2,
			Queries: []QueryConfig{
				q(1, domain.FieldTypeText, "APPLICANT_FIRST_NAME", "What is the employee's first name?"),
				q(1, domain.FieldTypeText, "APPLICANT_LAST_NAME", "What is the employee's last name?"),
				q(1, domain.FieldTypeText, "EMPLOYER_NAME", "What is the name of the employer?"),
				q(1, domain.FieldTypeText, "EMPLOYMENT_STATUS", "What is the employment status?"),
				q(1, domain.FieldTypeCurrency, "ANNUAL_INCOME", "What is the annual salary?"),
			},
		},
		"bank_statement": {
			Priority: 3,
			Queries: []QueryConfig{
				q(1, domain.FieldTypeText, "ACCOUNT_HOLDER", "Who is the account holder?"),
				q(1, domain.FieldTypeText, "ACCOUNT_NUMBER", "What is the account number?"),
				q(1, domain.FieldTypeCurrency, "BEGINNING_BALANCE", "What is the beginning balance?"),
				q(1, domain.FieldTypeCurrency, "ENDING_BALANCE", "What is the ending balance?"),
				q(1, domain.FieldTypeText, "APPLICANT_ADDRESS", "What is the account holder's address?"),
			},
		},
		"pay_stub": {
			Priority: 3,
			Queries: []QueryConfig{
				q(1, domain.FieldTypeText, "EMPLOYER_NAME", "What is the employer name?"),
				q(1, domain.FieldTypeCurrency, "ANNUAL_INCOME", "What is the year to date gross pay?"),
			},
		},
		"credit_report": {
			Priority: 4,
			Queries: []QueryConfig{
				q(1, domain.FieldTypeNumber, "CREDIT_SCORE", "What is the credit score?"),
				q(1, domain.FieldTypeDate, "APPLICANT_DOB", "What is the date of birth?"),
			},
		},
		"property_assessment": {
			Priority: 4,
			Queries: []QueryConfig{
				q(1, domain.FieldTypeCurrency, "ASSESSED_VALUE", "What is the total assessed value?"),
				q(1, domain.FieldTypeText, "APPLICANT_ADDRESS", "What is the property address?"),
			},
		},
		"insurance_document": {Priority: 5},
		"generic_document":   {Priority: 6},
	}
}
