// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader builds a Config with precedence ENV > file > defaults.
type Loader struct {
	configPath string
}

// NewLoader creates a configuration loader. configPath may be empty, in
// which case only defaults and environment variables apply.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load resolves the effective configuration and validates it.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.mergeFile(&cfg); err != nil {
			return Config{}, err
		}
	}
	l.mergeEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// fileConfig mirrors Config for YAML decoding. Durations are Go duration
// strings ("120s"); pointers distinguish "absent" from zero values.
type fileConfig struct {
	Listen          *string `yaml:"listen"`
	DefaultCacheTTL *string `yaml:"defaultCacheTTL"`
	DenyCacheTTL    *string `yaml:"denyCacheTTL"`
	ColdStartTTL    *string `yaml:"coldStartTTL"`
	ColdStartGrace  *string `yaml:"coldStartGrace"`
	KeyTokenTTL     *string `yaml:"keyTokenTTL"`
	KeyTokenSecret  *string `yaml:"keyTokenSecret"`
	KeyEndpointBase *string `yaml:"keyEndpointBase"`
	MaxCacheSize    *int    `yaml:"maxCacheSize"`
	StalenessWindow *string `yaml:"stalenessWindow"`
	JanitorInterval *string `yaml:"janitorInterval"`
	MetricsInterval *string `yaml:"metricsInterval"`
	DenyByDefault   *bool   `yaml:"denyByDefault"`
	AllowInsecure   *bool   `yaml:"allowInsecure"`
	RedisAddr       *string `yaml:"redisAddr"`
	RedisPassword   *string `yaml:"redisPassword"`
	RedisDB         *int    `yaml:"redisDB"`
}

func (l *Loader) mergeFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	// Strict decoding so typos in keys fail loudly instead of silently
	// falling back to defaults.
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", l.configPath, err)
	}

	setString(fc.Listen, &cfg.ListenAddr)
	setString(fc.KeyTokenSecret, &cfg.KeyTokenSecret)
	setString(fc.KeyEndpointBase, &cfg.KeyEndpointBase)
	setString(fc.RedisAddr, &cfg.RedisAddr)
	setString(fc.RedisPassword, &cfg.RedisPassword)
	setInt(fc.MaxCacheSize, &cfg.MaxCacheSize)
	setInt(fc.RedisDB, &cfg.RedisDB)
	setBool(fc.DenyByDefault, &cfg.DenyByDefault)
	setBool(fc.AllowInsecure, &cfg.AllowInsecure)

	for _, d := range []struct {
		key string
		src *string
		dst *time.Duration
	}{
		{"defaultCacheTTL", fc.DefaultCacheTTL, &cfg.DefaultCacheTTL},
		{"denyCacheTTL", fc.DenyCacheTTL, &cfg.DenyCacheTTL},
		{"coldStartTTL", fc.ColdStartTTL, &cfg.ColdStartTTL},
		{"coldStartGrace", fc.ColdStartGrace, &cfg.ColdStartGrace},
		{"keyTokenTTL", fc.KeyTokenTTL, &cfg.KeyTokenTTL},
		{"stalenessWindow", fc.StalenessWindow, &cfg.StalenessWindow},
		{"janitorInterval", fc.JanitorInterval, &cfg.JanitorInterval},
		{"metricsInterval", fc.MetricsInterval, &cfg.MetricsInterval},
	} {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("parse config file %s: %s: %w", l.configPath, d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(src *string, dst *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(src *int, dst *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(src *bool, dst *bool) {
	if src != nil {
		*dst = *src
	}
}

func (l *Loader) mergeEnv(cfg *Config) {
	envString("EDGEAUTH_LISTEN", &cfg.ListenAddr)
	envDuration("EDGEAUTH_DEFAULT_CACHE_TTL", &cfg.DefaultCacheTTL)
	envDuration("EDGEAUTH_DENY_CACHE_TTL", &cfg.DenyCacheTTL)
	envDuration("EDGEAUTH_COLD_START_TTL", &cfg.ColdStartTTL)
	envDuration("EDGEAUTH_COLD_START_GRACE", &cfg.ColdStartGrace)
	envDuration("EDGEAUTH_KEY_TOKEN_TTL", &cfg.KeyTokenTTL)
	envString("EDGEAUTH_KEY_TOKEN_SECRET", &cfg.KeyTokenSecret)
	envString("EDGEAUTH_KEY_ENDPOINT_BASE", &cfg.KeyEndpointBase)
	envInt("EDGEAUTH_MAX_CACHE_SIZE", &cfg.MaxCacheSize)
	envDuration("EDGEAUTH_STALENESS_WINDOW", &cfg.StalenessWindow)
	envDuration("EDGEAUTH_JANITOR_INTERVAL", &cfg.JanitorInterval)
	envDuration("EDGEAUTH_METRICS_INTERVAL", &cfg.MetricsInterval)
	envBool("EDGEAUTH_DENY_BY_DEFAULT", &cfg.DenyByDefault)
	envBool("EDGEAUTH_ALLOW_INSECURE", &cfg.AllowInsecure)
	envString("EDGEAUTH_REDIS_ADDR", &cfg.RedisAddr)
	envString("EDGEAUTH_REDIS_PASSWORD", &cfg.RedisPassword)
	envInt("EDGEAUTH_REDIS_DB", &cfg.RedisDB)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
