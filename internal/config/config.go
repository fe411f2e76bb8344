// Package config loads the immutable process configuration: a YAML file
// layered under environment variable overrides, validated once at
// startup and passed explicitly through constructors.
package config

import (
	"encoding/json"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/mailflow/internal/errs"
)

// Config holds all configuration for the dispatcher process.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	AWS         AWSConfig         `yaml:"aws"`
	Routing     RoutingConfig     `yaml:"routing"`
	Security    SecurityConfig    `yaml:"security"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	Retention   RetentionConfig   `yaml:"retention"`
	Queues      QueuesConfig      `yaml:"queues"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Worker      WorkerConfig      `yaml:"worker"`
}

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the listen host, with container detection.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// AWSConfig holds region and optional static credentials. Empty keys
// fall through to the default credential chain (IAM role on ECS).
type AWSConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Route maps one app name to its destination queue.
type Route struct {
	QueueURL string   `yaml:"queue_url"`
	Enabled  bool     `yaml:"enabled"`
	Aliases  []string `yaml:"aliases"`
}

// RoutingConfig drives the inbound routing resolver.
type RoutingConfig struct {
	Domains         []string         `yaml:"domains"`
	Routes          map[string]Route `yaml:"routes"`
	DefaultQueueURL string           `yaml:"default_queue_url"`
	UnknownQueueURL string           `yaml:"unknown_queue_url"`
	RawEmailsBucket string           `yaml:"raw_emails_bucket"`
}

// SecurityConfig drives the inbound security gate and rate limiter.
type SecurityConfig struct {
	RequireSPF                bool     `yaml:"require_spf"`
	RequireDKIM               bool     `yaml:"require_dkim"`
	RequireDMARC              bool     `yaml:"require_dmarc"`
	MaxEmailsPerSenderPerHour int      `yaml:"max_emails_per_sender_per_hour"`
	AllowedSenderDomains      []string `yaml:"allowed_sender_domains"`
}

// AttachmentsConfig drives attachment materialization.
type AttachmentsConfig struct {
	Bucket              string   `yaml:"bucket"`
	PresignedTTLSeconds int64    `yaml:"presigned_ttl_seconds"`
	MaxSizeBytes        int64    `yaml:"max_size_bytes"`
	AllowedContentTypes []string `yaml:"allowed_content_types"`
	BlockedContentTypes []string `yaml:"blocked_content_types"`
}

// PresignedTTL returns the presigned URL lifetime as a duration.
func (c AttachmentsConfig) PresignedTTL() time.Duration {
	return time.Duration(c.PresignedTTLSeconds) * time.Second
}

// RetentionConfig is storage-tier policy, recorded here for operators;
// the dispatchers never delete objects themselves.
type RetentionConfig struct {
	RawEmailsDays   int `yaml:"raw_emails_days"`
	AttachmentsDays int `yaml:"attachments_days"`
	LogsDays        int `yaml:"logs_days"`
}

// QueuesConfig names the operational queues.
type QueuesConfig struct {
	IngressURL  string `yaml:"ingress_url"`
	OutboundURL string `yaml:"outbound_url"`
	DLQURL      string `yaml:"dlq_url"`
}

// IdempotencyConfig drives the duplicate-send store.
type IdempotencyConfig struct {
	Table      string `yaml:"table"`
	TTLSeconds int64  `yaml:"ttl_seconds"`
}

// TTL returns the idempotency record lifetime as a duration.
func (c IdempotencyConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RateLimitConfig selects and configures the sender rate limiter
// backend ("dynamodb" or "redis").
type RateLimitConfig struct {
	Backend       string `yaml:"backend"`
	Table         string `yaml:"table"`
	RedisURL      string `yaml:"redis_url"`
	WindowSeconds int64  `yaml:"window_seconds"`
}

// Window returns the rate-limit window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// MetricsConfig holds the metrics sink settings.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	Enabled   bool   `yaml:"enabled"`
}

// WorkerConfig holds poller settings.
type WorkerConfig struct {
	PollWaitSeconds  int32 `yaml:"poll_wait_seconds"`
	MaxMessages      int32 `yaml:"max_messages"`
	HeartbeatSeconds int   `yaml:"heartbeat_seconds"`
}

// Load reads and parses the configuration file and applies defaults.
// An empty path yields defaults only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.Security.MaxEmailsPerSenderPerHour == 0 {
		cfg.Security.MaxEmailsPerSenderPerHour = 100
	}
	if cfg.Attachments.PresignedTTLSeconds == 0 {
		cfg.Attachments.PresignedTTLSeconds = 7 * 24 * 3600
	}
	if cfg.Attachments.MaxSizeBytes == 0 {
		cfg.Attachments.MaxSizeBytes = 35 * 1024 * 1024
	}
	if cfg.Idempotency.TTLSeconds == 0 {
		cfg.Idempotency.TTLSeconds = 86400
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "dynamodb"
	}
	if cfg.RateLimit.WindowSeconds == 0 {
		cfg.RateLimit.WindowSeconds = 3600
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "Mailflow/API"
	}
	if cfg.Worker.PollWaitSeconds == 0 {
		cfg.Worker.PollWaitSeconds = 20
	}
	if cfg.Worker.MaxMessages == 0 {
		cfg.Worker.MaxMessages = 10
	}
	if cfg.Worker.HeartbeatSeconds == 0 {
		cfg.Worker.HeartbeatSeconds = 30
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first, so secrets can live in .env
// locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("ROUTING_MAP"); v != "" {
		routes, err := parseRoutingMap(v)
		if err != nil {
			return nil, err
		}
		cfg.Routing.Routes = routes
	}
	if v := os.Getenv("ALLOWED_DOMAINS"); v != "" {
		cfg.Security.AllowedSenderDomains = splitCSV(v)
	}
	if v := os.Getenv("ROUTING_DOMAINS"); v != "" {
		cfg.Routing.Domains = splitCSV(v)
	}
	if v := os.Getenv("DEFAULT_QUEUE_URL"); v != "" {
		cfg.Routing.DefaultQueueURL = v
	}
	if v := os.Getenv("RAW_EMAILS_BUCKET"); v != "" {
		cfg.Routing.RawEmailsBucket = v
	}
	if v := os.Getenv("ATTACHMENTS_BUCKET"); v != "" {
		cfg.Attachments.Bucket = v
	}
	if v := os.Getenv("OUTBOUND_QUEUE_URL"); v != "" {
		cfg.Queues.OutboundURL = v
	}
	if v := os.Getenv("INGRESS_QUEUE_URL"); v != "" {
		cfg.Queues.IngressURL = v
	}
	if v := os.Getenv("IDEMPOTENCY_TABLE"); v != "" {
		cfg.Idempotency.Table = v
	}
	if v := os.Getenv("DLQ_URL"); v != "" {
		cfg.Queues.DLQURL = v
	}
	if v := os.Getenv("PRESIGNED_URL_EXPIRATION_SECONDS"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
			cfg.Attachments.PresignedTTLSeconds = secs
		}
	}
	if v := os.Getenv("MAX_ATTACHMENT_SIZE_BYTES"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil && size > 0 {
			cfg.Attachments.MaxSizeBytes = size
		}
	}
	if v := os.Getenv("CLOUDWATCH_NAMESPACE"); v != "" {
		cfg.Metrics.Namespace = v
	}
	if v := os.Getenv("MAX_EMAILS_PER_SENDER_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Security.MaxEmailsPerSenderPerHour = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_BACKEND"); v != "" {
		cfg.RateLimit.Backend = v
	}
	if v := os.Getenv("RATE_LIMIT_TABLE"); v != "" {
		cfg.RateLimit.Table = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RateLimit.RedisURL = v
	}

	return cfg, nil
}

// parseRoutingMap decodes the ROUTING_MAP env var, a JSON mapping of
// app name to queue URL.
func parseRoutingMap(raw string) (map[string]Route, error) {
	var flat map[string]string
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		return nil, errs.Wrap(errs.Config, err, "parsing ROUTING_MAP")
	}
	routes := make(map[string]Route, len(flat))
	for app, queueURL := range flat {
		routes[app] = Route{QueueURL: queueURL, Enabled: true}
	}
	return routes, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate checks the invariants the pipelines rely on. Called once at
// startup; the config is read-only afterwards.
func (c *Config) Validate() error {
	if len(c.Routing.Domains) == 0 {
		return errs.New(errs.Config, "no routing domains configured")
	}
	for app, route := range c.Routing.Routes {
		if !validQueueURL(route.QueueURL) {
			return errs.New(errs.Config, "route %q has invalid queue url %q", app, route.QueueURL)
		}
	}
	if c.Routing.DefaultQueueURL != "" && !validQueueURL(c.Routing.DefaultQueueURL) {
		return errs.New(errs.Config, "invalid default queue url %q", c.Routing.DefaultQueueURL)
	}
	if c.Attachments.Bucket == "" {
		return errs.New(errs.Config, "attachments bucket not configured")
	}
	if c.Attachments.MaxSizeBytes <= 0 {
		return errs.New(errs.Config, "attachment max size must be positive")
	}
	if c.Security.MaxEmailsPerSenderPerHour <= 0 {
		return errs.New(errs.Config, "sender rate limit must be positive")
	}
	return nil
}

func validQueueURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != ""
}
