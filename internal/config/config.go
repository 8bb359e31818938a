// SPDX-License-Identifier: MIT

// Package config holds the static configuration of the edge authorization
// service: cache TTLs, key-token lifetime, cache bounds and the background
// task intervals. Values load with precedence ENV > file > defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the immutable runtime configuration. It is built once at startup
// and passed by value to the components that need it.
type Config struct {
	// ListenAddr is the bind address of the HTTP surface.
	ListenAddr string

	// DefaultCacheTTL is the TTL for cached allow decisions and sanitized
	// manifests.
	DefaultCacheTTL time.Duration

	// DenyCacheTTL bounds how long a deny decision may stay cached.
	DenyCacheTTL time.Duration

	// ColdStartTTL is the reduced TTL for allows granted during the
	// cold-start grace window.
	ColdStartTTL time.Duration

	// ColdStartGrace is the window after startup during which allows are
	// cached with ColdStartTTL. Zero disables the grace window.
	ColdStartGrace time.Duration

	// KeyTokenTTL is the lifetime of issued key tokens. Hard-capped at 60s.
	KeyTokenTTL time.Duration

	// KeyTokenSecret signs key tokens (HMAC-SHA256). Required, min 32 bytes.
	KeyTokenSecret string

	// KeyEndpointBase is the path prefix key URIs are rewritten to.
	KeyEndpointBase string

	// MaxCacheSize bounds the authorization and manifest caches.
	MaxCacheSize int

	// StalenessWindow rejects requests whose timestamp deviates from the
	// server clock by more than this, in either direction.
	StalenessWindow time.Duration

	// JanitorInterval is the period of the expired-entry sweep.
	JanitorInterval time.Duration

	// MetricsInterval is the period of the metrics snapshot emitter.
	MetricsInterval time.Duration

	// DenyByDefault must stay true in production: any path that cannot
	// positively prove entitlement denies. AllowInsecure is the only way
	// to turn it off, and exists for local experiments only.
	DenyByDefault bool
	AllowInsecure bool

	// RedisAddr switches the authorization cache to Redis when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

const maxKeyTokenTTL = 60 * time.Second

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		ListenAddr:      ":8090",
		DefaultCacheTTL: 300 * time.Second,
		DenyCacheTTL:    60 * time.Second,
		ColdStartTTL:    30 * time.Second,
		ColdStartGrace:  0,
		KeyTokenTTL:     60 * time.Second,
		KeyEndpointBase: "/keys",
		MaxCacheSize:    10000,
		StalenessWindow: 30 * time.Second,
		JanitorInterval: 60 * time.Second,
		MetricsInterval: 30 * time.Second,
		DenyByDefault:   true,
	}
}

// Validate rejects configurations that would weaken the security posture or
// break the latency contract.
func (c Config) Validate() error {
	if c.KeyTokenTTL <= 0 || c.KeyTokenTTL > maxKeyTokenTTL {
		return fmt.Errorf("keyTokenTTL must be in (0s, %s], got %s", maxKeyTokenTTL, c.KeyTokenTTL)
	}
	if len(c.KeyTokenSecret) < 32 {
		return fmt.Errorf("keyTokenSecret must be at least 32 bytes, got %d", len(c.KeyTokenSecret))
	}
	if c.MaxCacheSize <= 0 {
		return fmt.Errorf("maxCacheSize must be positive, got %d", c.MaxCacheSize)
	}
	if c.DefaultCacheTTL <= 0 {
		return fmt.Errorf("defaultCacheTTL must be positive, got %s", c.DefaultCacheTTL)
	}
	if c.DenyCacheTTL <= 0 {
		return fmt.Errorf("denyCacheTTL must be positive, got %s", c.DenyCacheTTL)
	}
	if c.StalenessWindow <= 0 {
		return fmt.Errorf("stalenessWindow must be positive, got %s", c.StalenessWindow)
	}
	if !c.DenyByDefault && !c.AllowInsecure {
		return fmt.Errorf("denyByDefault=false requires allowInsecure=true")
	}
	return nil
}
