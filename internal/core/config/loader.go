package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/cloudlink/internal/core/domain"
	"github.com/vietddude/cloudlink/internal/infra/provider"
	"github.com/vietddude/cloudlink/internal/resilience/health"
	"github.com/vietddude/cloudlink/internal/resilience/refresh"
	"github.com/vietddude/cloudlink/internal/resilience/tracker"
)

// Default returns the configuration used when a key is absent from the file.
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{Port: 8080},
		RateLimits: RateLimitConfig{
			RefreshPerHour:      10,
			ConnectivityPerHour: 20,
			Window:              time.Hour,
		},
		Health: health.DefaultConfig(),
		Refresh: RefreshConfig{
			Config:       refresh.DefaultConfig(),
			ScanInterval: 5 * time.Minute,
		},
		Alerts: tracker.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration over the defaults.
func Parse(data []byte) (*AppConfig, error) {
	cfg := Default()
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.RateLimits.Window == 0 {
		cfg.RateLimits.Window = time.Hour
	}

	seen := make(map[domain.Provider]bool, len(cfg.Providers))
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Name == "" {
			return nil, fmt.Errorf("provider %d: name is required", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("provider %s: configured twice", p.Name)
		}
		seen[p.Name] = true

		if p.Type == "" {
			p.Type = defaultType(p.Name)
		}
		if p.Type != TypeDrive && p.Type != TypeS3 {
			return nil, fmt.Errorf("provider %s: unknown type %q", p.Name, p.Type)
		}
		if p.Type != defaultType(p.Name) {
			return nil, fmt.Errorf("provider %s: type %q does not serve it", p.Name, p.Type)
		}
		if p.Breaker.FailureThreshold == 0 {
			p.Breaker = provider.DefaultBreakerConfig()
		}
	}

	return cfg, nil
}

func defaultType(p domain.Provider) string {
	switch p {
	case domain.ProviderAmazonS3:
		return TypeS3
	case domain.ProviderGoogleDrive:
		return TypeDrive
	}
	return ""
}
