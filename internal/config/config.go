package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/minerva/colocmap/internal/blobstore"
	"github.com/minerva/colocmap/internal/heatmap"
	"github.com/minerva/colocmap/internal/notifications"
)

const defaultJWTSecret = "change-me-in-production"

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Neo4j         Neo4jConfig         `yaml:"neo4j"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Heatmap       HeatmapConfig       `yaml:"heatmap"`
	Exports       ExportsConfig       `yaml:"exports"`
}

type AuthConfig struct {
	JWTSecret          string        `yaml:"jwt_secret"`
	AccessTokenExpiry  time.Duration `yaml:"access_token_expiry"`
	RefreshTokenExpiry time.Duration `yaml:"refresh_token_expiry"`
	// Seeded on startup when no user with this email exists.
	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
}

type NotificationsConfig struct {
	MinLevel notifications.Level `yaml:"min_level"`
	Slack    SlackNotifyConfig   `yaml:"slack"`
	Email    EmailNotifyConfig   `yaml:"email"`
}

type SlackNotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type EmailNotifyConfig struct {
	Enabled  bool     `yaml:"enabled"`
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	CORSAllowOrigin string        `yaml:"cors_allow_origin"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Neo4jConfig is optional: with an empty URI the interaction graph is off.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type StorageConfig struct {
	// ExportURL is where finished exports are written, e.g.
	// s3://lab-exports/colocmap or file:///var/lib/colocmap/exports.
	ExportURL     string      `yaml:"export_url"`
	// ImportSources limits the bucket URLs the API imports matrices from,
	// e.g. s3://lab-data/matrices. Empty allows any s3, gs or azblob URL.
	ImportSources []string    `yaml:"import_sources"`
	S3            S3Config    `yaml:"s3"`
	GCS           GCSConfig   `yaml:"gcs"`
	Azure         AzureConfig `yaml:"azure"`
}

type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AssumeRoleARN   string `yaml:"assume_role_arn"`
	ExternalID      string `yaml:"external_id"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	// KMSKeyID turns on SSE-KMS for exports written to S3.
	KMSKeyID        string `yaml:"kms_key_id"`
}

type AzureConfig struct {
	AccountURL   string `yaml:"account_url"`
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type GCSConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

type HeatmapConfig struct {
	Title              string `yaml:"title"`
	Subtitle           string `yaml:"subtitle"`
	HideTooltipOnLeave bool   `yaml:"hide_tooltip_on_leave"`
}

type ExportsConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StaleTimeout time.Duration `yaml:"stale_timeout"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.CORSAllowOrigin == "" {
		c.Server.CORSAllowOrigin = "*"
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.User == "" {
		c.Database.User = "colocmap"
	}
	if c.Database.Database == "" {
		c.Database.Database = "colocmap"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}

	if c.Storage.ExportURL == "" {
		c.Storage.ExportURL = "file:///tmp/colocmap/exports"
	}

	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = defaultJWTSecret
		slog.Warn("using default JWT secret, set auth.jwt_secret in production")
	}
	if c.Auth.AccessTokenExpiry == 0 {
		c.Auth.AccessTokenExpiry = 15 * time.Minute
	}
	if c.Auth.RefreshTokenExpiry == 0 {
		c.Auth.RefreshTokenExpiry = 7 * 24 * time.Hour
	}

	if c.Notifications.MinLevel == "" {
		c.Notifications.MinLevel = notifications.LevelInfo
	}
	if c.Notifications.Email.SMTPPort == 0 {
		c.Notifications.Email.SMTPPort = 587
	}

	if c.Heatmap.Title == "" {
		c.Heatmap.Title = heatmap.DefaultTitle
	}
	if c.Heatmap.Subtitle == "" {
		c.Heatmap.Subtitle = heatmap.DefaultSubtitle
	}

	if c.Exports.Workers == 0 {
		c.Exports.Workers = 2
	}
	if c.Exports.PollInterval == 0 {
		c.Exports.PollInterval = time.Second
	}
	if c.Exports.StaleTimeout == 0 {
		c.Exports.StaleTimeout = 30 * time.Minute
	}
	if c.Exports.CacheTTL == 0 {
		c.Exports.CacheTTL = 10 * time.Minute
	}
}

func (c *Config) Validate() error {
	if _, err := blobstore.ParseURL(c.Storage.ExportURL); err != nil {
		return fmt.Errorf("storage.export_url: %w", err)
	}
	for _, src := range c.Storage.ImportSources {
		if _, err := blobstore.ParseURL(src); err != nil {
			return fmt.Errorf("storage.import_sources: %w", err)
		}
	}
	if c.Exports.Workers < 0 {
		return fmt.Errorf("exports.workers must not be negative, got %d", c.Exports.Workers)
	}
	switch c.Notifications.MinLevel {
	case notifications.LevelInfo, notifications.LevelWarning, notifications.LevelError:
	default:
		return fmt.Errorf("notifications.min_level: unknown level %q", c.Notifications.MinLevel)
	}
	if (c.Auth.AdminEmail == "") != (c.Auth.AdminPassword == "") {
		return errors.New("auth.admin_email and auth.admin_password must be set together")
	}
	return nil
}

// BlobOptions maps the storage section onto blobstore credentials.
func (c StorageConfig) BlobOptions() blobstore.Options {
	return blobstore.Options{
		S3: blobstore.S3Options{
			Region:          c.S3.Region,
			Endpoint:        c.S3.Endpoint,
			AssumeRoleARN:   c.S3.AssumeRoleARN,
			ExternalID:      c.S3.ExternalID,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			KMSKeyID:        c.S3.KMSKeyID,
		},
		GCS: blobstore.GCSOptions{
			CredentialsFile: c.GCS.CredentialsFile,
		},
		Azure: blobstore.AzureOptions{
			AccountURL:   c.Azure.AccountURL,
			TenantID:     c.Azure.TenantID,
			ClientID:     c.Azure.ClientID,
			ClientSecret: c.Azure.ClientSecret,
		},
	}
}

func (c NotificationsConfig) ServiceConfig() notifications.Config {
	return notifications.Config{
		Slack: notifications.SlackConfig{
			Enabled:    c.Slack.Enabled,
			WebhookURL: c.Slack.WebhookURL,
			Channel:    c.Slack.Channel,
			Username:   "colocmap",
			MinLevel:   c.MinLevel,
		},
		Email: notifications.EmailConfig{
			Enabled:  c.Email.Enabled,
			SMTPHost: c.Email.SMTPHost,
			SMTPPort: c.Email.SMTPPort,
			Username: c.Email.Username,
			Password: c.Email.Password,
			From:     c.Email.From,
			To:       c.Email.To,
			MinLevel: c.MinLevel,
		},
	}
}
