// Package config owns the server-level configuration: where the HTTP
// listener binds, how logging behaves, where specification documents live on
// disk, and which backend serves the conditional-loader cache.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds every server-level option.
type Config struct {
	Server ServerConfig `koanf:"server"`
}

// ServerConfig collects the bootstrap knobs for the service.
type ServerConfig struct {
	Listen    ListenConfig      `koanf:"listen"`
	Logging   LoggingConfig     `koanf:"logging"`
	Specs     SpecsConfig       `koanf:"specs"`
	Cache     LoaderCacheConfig `koanf:"cache"`
	Templates TemplatesConfig   `koanf:"templates"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// SpecsConfig announces how specification documents are sourced. Folder and
// file are mutually exclusive; Watch enables fsnotify-driven reloads.
type SpecsConfig struct {
	SpecsFolder string `koanf:"specsFolder"`
	SpecsFile   string `koanf:"specsFile"`
	Watch       bool   `koanf:"watch"`
}

// TemplatesConfig controls environment interpolation for template-rendered
// specification files (*.tmpl).
type TemplatesConfig struct {
	TemplatesAllowEnv   bool     `koanf:"templatesAllowEnv"`
	TemplatesAllowedEnv []string `koanf:"templatesAllowedEnv"`
}

// LoaderCacheConfig selects the conditional-loader cache backend.
type LoaderCacheConfig struct {
	Backend    string           `koanf:"backend"`
	TTLSeconds int              `koanf:"ttlSeconds"`
	Epoch      int              `koanf:"epoch"`
	Redis      RedisCacheConfig `koanf:"redis"`
}

// RedisCacheConfig carries the redis/valkey connection settings.
type RedisCacheConfig struct {
	Address  string              `koanf:"address"`
	Username string              `koanf:"username"`
	Password string              `koanf:"password"`
	DB       int                 `koanf:"db"`
	TLS      RedisTLSCacheConfig `koanf:"tls"`
}

// RedisTLSCacheConfig controls TLS toward redis.
type RedisTLSCacheConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// Validate enforces invariants that keep the runtime predictable before
// serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Specs.SpecsFolder != "" && c.Server.Specs.SpecsFile != "" {
		return errors.New("config: specsFolder and specsFile are mutually exclusive")
	}
	if c.Server.Cache.TTLSeconds < 0 {
		return fmt.Errorf("config: server.cache.ttlSeconds invalid: %d", c.Server.Cache.TTLSeconds)
	}
	if c.Server.Cache.Epoch < 0 {
		return fmt.Errorf("config: server.cache.epoch invalid: %d", c.Server.Cache.Epoch)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend))
	switch backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: server.cache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: server.cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	return nil
}

// DefaultConfig returns the baseline values.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
			Specs: SpecsConfig{
				SpecsFolder: "./specs",
				Watch:       true,
			},
			Cache: LoaderCacheConfig{
				Backend:    "memory",
				TTLSeconds: 30,
				Epoch:      1,
			},
		},
	}
}
