package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Redis    RedisConfig    `json:"redis"`
	Postgres PostgresConfig `json:"postgres"`
	Webhook  WebhookConfig  `json:"webhook"`
	Upstream UpstreamConfig `json:"upstream"`
	Worker   WorkerConfig   `json:"worker"`
	Cache    CacheConfig    `json:"cache"`
	Tiers    []TierConfig   `json:"tiers"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
	JWTSecret   string `json:"jwt_secret"`
	JWTExpiry   int    `json:"jwt_expiry_hours"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func (r RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type WebhookConfig struct {
	// VerificationCode is echoed back during the subscriber verification handshake
	VerificationCode string `json:"verification_code"`
	// SignatureSecret signs event payloads (HMAC-SHA256)
	SignatureSecret string `json:"signature_secret"`
}

type UpstreamConfig struct {
	BaseURL string `json:"base_url"`
	// FifteenMinLimit and DailyLimit are the provider's published
	// ceilings, shared across all subjects
	FifteenMinLimit int `json:"fifteen_min_limit"`
	DailyLimit      int `json:"daily_limit"`
	TimeoutSeconds  int `json:"timeout_seconds"`
}

func (u UpstreamConfig) Timeout() time.Duration {
	if u.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(u.TimeoutSeconds) * time.Second
}

type WorkerConfig struct {
	IntervalSeconds    int `json:"interval_seconds"`
	MaxBatch           int `json:"max_batch"`
	CallsPerJob        int `json:"calls_per_job"`
	MaxAttempts        int `json:"max_attempts"`
	BackoffBaseSeconds int `json:"backoff_base_seconds"`
	FailedSinkCap      int `json:"failed_sink_cap"`
}

func (w WorkerConfig) Interval() time.Duration {
	if w.IntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(w.IntervalSeconds) * time.Second
}

func (w WorkerConfig) BackoffBase() time.Duration {
	if w.BackoffBaseSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(w.BackoffBaseSeconds) * time.Second
}

type CacheConfig struct {
	// ComplianceCeilingHours bounds how long raw time-series payloads
	// may be retained, in any storage form
	ComplianceCeilingHours int `json:"compliance_ceiling_hours"`
	RawStreamTTLMinutes    int `json:"raw_stream_ttl_minutes"`
}

func (c CacheConfig) ComplianceCeiling() time.Duration {
	if c.ComplianceCeilingHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.ComplianceCeilingHours) * time.Hour
}

// RawStreamTTL never exceeds the compliance ceiling, whatever the file says
func (c CacheConfig) RawStreamTTL() time.Duration {
	ttl := time.Duration(c.RawStreamTTLMinutes) * time.Minute
	if ttl <= 0 || ttl > c.ComplianceCeiling() {
		return c.ComplianceCeiling()
	}
	return ttl
}

type TierConfig struct {
	Name            string `json:"name"`
	RequestsPerHour int    `json:"requests_per_hour"`
}

func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	// Secrets come from the environment, never from the file
	if v := os.Getenv("WEBHOOK_SIGNATURE_SECRET"); v != "" {
		config.Webhook.SignatureSecret = v
	}
	if v := os.Getenv("WEBHOOK_VERIFICATION_CODE"); v != "" {
		config.Webhook.VerificationCode = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		config.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		config.Postgres.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		config.Server.JWTSecret = v
	}

	if config.Webhook.SignatureSecret == "" {
		return nil, fmt.Errorf("webhook signature secret is not configured")
	}

	return &config, nil
}

// TierLimit resolves the hourly quota for a tier name. Unknown tiers
// fall back to the first (lowest) configured tier.
func (c *Config) TierLimit(name string) int {
	for _, t := range c.Tiers {
		if t.Name == name {
			return t.RequestsPerHour
		}
	}
	if len(c.Tiers) > 0 {
		return c.Tiers[0].RequestsPerHour
	}
	return 60
}

// LowestTier is what expired subscriptions downgrade to at read time.
func (c *Config) LowestTier() string {
	if len(c.Tiers) > 0 {
		return c.Tiers[0].Name
	}
	return "free"
}
