package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	LLM      LLMConfig      `toml:"llm"`
	Mail     MailConfig     `toml:"mail"`
	Storage  StorageConfig  `toml:"storage"`
	Database DatabaseConfig `toml:"database"`
	Tenant   TenantConfig   `toml:"tenant"`
	Poller   PollerConfig   `toml:"poller"`
	Ops      OpsConfig      `toml:"ops"`
	Log      LogConfig      `toml:"log"`
}

// LLMConfig holds text-generation backend configuration
type LLMConfig struct {
	APIKey        string        `toml:"api_key"`
	Endpoint      string        `toml:"endpoint"` // Azure endpoint; empty means api.openai.com
	APIVersion    string        `toml:"api_version"`
	Deployment    string        `toml:"deployment"`
	Timeout       time.Duration `toml:"timeout"`
	RatePerMinute int           `toml:"rate_per_minute"`
}

// MailConfig holds mailbox configuration
type MailConfig struct {
	Server         string `toml:"server"`
	User           string `toml:"user"`
	Password       string `toml:"password"`
	Mailbox        string `toml:"mailbox"`
	SubjectFilter  string `toml:"subject_filter"`
	AttachmentsDir string `toml:"attachments_dir"`
}

// StorageConfig holds object-storage and archival PDF configuration
type StorageConfig struct {
	AccessKey     string        `toml:"access_key"`
	SecretKey     string        `toml:"secret_key"`
	Region        string        `toml:"region"`
	Bucket        string        `toml:"bucket"`
	Folder        string        `toml:"folder"`
	PDFDir        string        `toml:"pdf_dir"`
	UploadTimeout time.Duration `toml:"upload_timeout"`
}

// DatabaseConfig holds document-store configuration
type DatabaseConfig struct {
	URL              string        `toml:"url"`
	Name             string        `toml:"name"`
	Collection       string        `toml:"collection"`
	MaxConns         int32         `toml:"max_conns"`
	MinConns         int32         `toml:"min_conns"`
	MaxConnLifetime  time.Duration `toml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `toml:"max_conn_idle_time"`
	DialTimeout      time.Duration `toml:"dial_timeout"`
	StatementTimeout time.Duration `toml:"statement_timeout"`
}

// TenantConfig scopes stored records to an organization
type TenantConfig struct {
	ClusterID string `toml:"cluster_id"`
	UserID    string `toml:"user_id"`
}

// PollerConfig holds control-loop configuration
type PollerConfig struct {
	Interval       time.Duration `toml:"interval"`
	MessageTimeout time.Duration `toml:"message_timeout"`
	// MaxAttempts bounds transient failures per message before a Failed record is stored; 0 retries forever
	MaxAttempts int `toml:"max_attempts"`
}

// OpsConfig holds the health/metrics listeners; empty addresses disable them
type OpsConfig struct {
	Addr     string `toml:"addr"`
	GRPCAddr string `toml:"grpc_addr"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			APIVersion: "2024-06-01",
			Deployment: "gpt-4o-mini",
			Timeout:    60 * time.Second,
		},
		Mail: MailConfig{
			Mailbox:        "INBOX",
			SubjectFilter:  "permit request",
			AttachmentsDir: "attachments",
		},
		Storage: StorageConfig{
			Region:        "ap-south-1",
			Folder:        "uploads/",
			PDFDir:        "gmail_pdfs",
			UploadTimeout: 60 * time.Second,
		},
		Database: DatabaseConfig{
			Name:            "permits",
			Collection:      "file_details",
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Poller: PollerConfig{
			Interval:       5 * time.Second,
			MessageTimeout: 5 * time.Minute,
			MaxAttempts:    5,
		},
		Ops: OpsConfig{
			Addr: ":9090",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration: defaults, then the optional TOML file named by
// CONFIG_FILE, then environment variables (a .env file is read first if present).
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, NewAppError(CodeConfig, fmt.Sprintf("decode %s", path), err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(c *Config) {
	c.LLM.APIKey = getEnv("AZURE_OPENAI_API_KEY", getEnv("OPENAI_API_KEY", c.LLM.APIKey))
	c.LLM.Endpoint = getEnv("AZURE_OPENAI_ENDPOINT", c.LLM.Endpoint)
	c.LLM.APIVersion = getEnv("AZURE_OPENAI_API_VERSION", c.LLM.APIVersion)
	c.LLM.Deployment = getEnv("AZURE_OPENAI_DEPLOYMENT", getEnv("OPENAI_MODEL", c.LLM.Deployment))
	c.LLM.Timeout = getEnvAsDuration("LLM_TIMEOUT", c.LLM.Timeout)
	c.LLM.RatePerMinute = getEnvAsInt("LLM_RATE_PER_MINUTE", c.LLM.RatePerMinute)

	c.Mail.Server = getEnv("IMAP_SERVER", c.Mail.Server)
	c.Mail.User = getEnv("EMAIL_USER", c.Mail.User)
	c.Mail.Password = getEnv("EMAIL_PASS", c.Mail.Password)
	c.Mail.Mailbox = getEnv("IMAP_MAILBOX", c.Mail.Mailbox)
	c.Mail.SubjectFilter = getEnv("SUBJECT_FILTER", c.Mail.SubjectFilter)
	c.Mail.AttachmentsDir = getEnv("ATTACHMENTS_DIR", c.Mail.AttachmentsDir)

	c.Storage.AccessKey = getEnv("AWS_ACCESS_KEY", c.Storage.AccessKey)
	c.Storage.SecretKey = getEnv("AWS_SECRET_KEY", c.Storage.SecretKey)
	c.Storage.Region = getEnv("REGION", c.Storage.Region)
	c.Storage.Bucket = getEnv("S3_BUCKET", c.Storage.Bucket)
	c.Storage.Folder = getEnv("S3_FOLDER", c.Storage.Folder)
	c.Storage.PDFDir = getEnv("PDF_DIR", c.Storage.PDFDir)
	c.Storage.UploadTimeout = getEnvAsDuration("UPLOAD_TIMEOUT", c.Storage.UploadTimeout)

	c.Database.URL = getEnv("DOC_STORE_URL", getEnv("MONGO_URI", c.Database.URL))
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.Collection = getEnv("FILE_DETAILS", c.Database.Collection)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)
	c.Database.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Database.StatementTimeout)

	c.Tenant.ClusterID = getEnv("CLUSTER_ID", c.Tenant.ClusterID)
	c.Tenant.UserID = getEnv("USER_ID", c.Tenant.UserID)

	c.Poller.Interval = getEnvAsDuration("POLL_INTERVAL", c.Poller.Interval)
	c.Poller.MessageTimeout = getEnvAsDuration("MESSAGE_TIMEOUT", c.Poller.MessageTimeout)
	c.Poller.MaxAttempts = getEnvAsInt("MAX_ATTEMPTS", c.Poller.MaxAttempts)

	c.Ops.Addr = getEnvAllowEmpty("OPS_ADDR", c.Ops.Addr)
	c.Ops.GRPCAddr = getEnvAllowEmpty("OPS_GRPC_ADDR", c.Ops.GRPCAddr)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty lets an explicitly empty variable override the default (used to disable listeners).
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the settings the daemon cannot run without
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return NewAppError(CodeConfig, "AZURE_OPENAI_API_KEY or OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.Mail.Server == "" || c.Mail.User == "" || c.Mail.Password == "" {
		return NewAppError(CodeConfig, "IMAP_SERVER, EMAIL_USER and EMAIL_PASS are required", ErrInvalidInput)
	}
	if c.Storage.Bucket == "" {
		return NewAppError(CodeConfig, "S3_BUCKET is required", ErrInvalidInput)
	}
	return c.ValidateStore()
}

// ValidateStore validates only the document-store settings (used by the export tool).
func (c *Config) ValidateStore() error {
	if c.Database.URL == "" {
		return NewAppError(CodeConfig, "DOC_STORE_URL is required", ErrInvalidInput)
	}
	if c.Database.Collection == "" {
		return NewAppError(CodeConfig, "FILE_DETAILS must not be empty", ErrInvalidInput)
	}
	return nil
}
