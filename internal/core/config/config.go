package config

import (
	"time"

	"github.com/vietddude/cloudlink/internal/core/domain"
	"github.com/vietddude/cloudlink/internal/infra/notify"
	"github.com/vietddude/cloudlink/internal/infra/provider"
	"github.com/vietddude/cloudlink/internal/infra/provider/drive"
	"github.com/vietddude/cloudlink/internal/infra/provider/s3"
	redisclient "github.com/vietddude/cloudlink/internal/infra/redis"
	"github.com/vietddude/cloudlink/internal/infra/storage/postgres"
	"github.com/vietddude/cloudlink/internal/resilience/health"
	"github.com/vietddude/cloudlink/internal/resilience/ratelimit"
	"github.com/vietddude/cloudlink/internal/resilience/refresh"
	"github.com/vietddude/cloudlink/internal/resilience/tracker"
)

// Provider client types.
const (
	TypeDrive = "drive"
	TypeS3    = "s3"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Redis      redisclient.Config `yaml:"redis"`    // empty url = in-process store
	Database   postgres.Config    `yaml:"database"` // empty url = in-process store
	Logging    LoggingConfig      `yaml:"logging"`
	Providers  []ProviderConfig   `yaml:"providers"`
	RateLimits RateLimitConfig    `yaml:"rate_limits"`
	Health     health.Config      `yaml:"health"`
	Refresh    RefreshConfig      `yaml:"refresh"`
	Alerts     tracker.Config     `yaml:"alerts"`
	Notify     notify.Config      `yaml:"notify"`
}

// ServerConfig holds HTTP and gRPC listener settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // 0 = disabled
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ProviderConfig holds settings for one storage provider.
type ProviderConfig struct {
	Name            domain.Provider        `yaml:"name"`
	Type            string                 `yaml:"type"` // drive, s3
	OAuth           drive.Config           `yaml:"oauth"`
	S3              s3.Config              `yaml:"s3"`
	QuotaRetryDelay time.Duration          `yaml:"quota_retry_delay"`
	Breaker         provider.BreakerConfig `yaml:"breaker"`
}

// RateLimitConfig holds the hourly operation ceilings.
type RateLimitConfig struct {
	RefreshPerHour      int64         `yaml:"refresh_per_hour"`
	ConnectivityPerHour int64         `yaml:"connectivity_per_hour"`
	Window              time.Duration `yaml:"window"`
}

// Rules converts the ceilings to limiter rules.
func (c RateLimitConfig) Rules() map[domain.Operation]ratelimit.Rule {
	return map[domain.Operation]ratelimit.Rule{
		domain.OpTokenRefresh:      {Max: c.RefreshPerHour, Window: c.Window},
		domain.OpConnectivityCheck: {Max: c.ConnectivityPerHour, Window: c.Window},
	}
}

// RefreshConfig holds the refresh orchestrator settings and the proactive scan period.
type RefreshConfig struct {
	refresh.Config `yaml:",inline"`
	ScanInterval   time.Duration `yaml:"scan_interval"`
}
