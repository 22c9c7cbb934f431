// Package config provides externally injected tunables so deployment
// environments can trade availability against consistency.
package config

import (
	"os"
	"strconv"
	"time"
)

// minCacheRefreshInterval lower-bounds the offline snapshot refresh
// so a misconfigured fleet cannot create a refresh storm.
const minCacheRefreshInterval = time.Minute

// Config holds all tunable parameters. Construct with Default and
// override from the environment with FromEnv; nothing reads env vars
// at use sites.
type Config struct {
	DataDir    string
	ListenAddr string

	RemoteBaseURL string
	TerminalID    string
	APIKey        string

	MaxRetries        int
	RetryDelay        time.Duration
	PushTimeout       time.Duration
	DrainTimeout      time.Duration
	ValidationTimeout time.Duration

	DrainInterval        time.Duration
	RetryInterval        time.Duration
	CacheRefreshInterval time.Duration
	PingInterval         time.Duration
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir:              "./data",
		ListenAddr:           "localhost:8091",
		RemoteBaseURL:        "http://localhost:9000",
		TerminalID:           "terminal-1",
		MaxRetries:           3,
		RetryDelay:           5 * time.Second,
		PushTimeout:          10 * time.Second,
		DrainTimeout:         60 * time.Second,
		ValidationTimeout:    5 * time.Second,
		DrainInterval:        30 * time.Second,
		RetryInterval:        time.Minute,
		CacheRefreshInterval: 15 * time.Minute,
		PingInterval:         15 * time.Second,
	}
}

// FromEnv returns the default configuration with environment
// overrides applied.
func FromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("POS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("POS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("POS_REMOTE_URL"); v != "" {
		cfg.RemoteBaseURL = v
	}
	if v := os.Getenv("POS_TERMINAL_ID"); v != "" {
		cfg.TerminalID = v
	}
	if v := os.Getenv("POS_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v, ok := envInt("POS_MAX_RETRIES"); ok {
		cfg.MaxRetries = v
	}
	if v, ok := envDuration("POS_RETRY_DELAY"); ok {
		cfg.RetryDelay = v
	}
	if v, ok := envDuration("POS_PUSH_TIMEOUT"); ok {
		cfg.PushTimeout = v
	}
	if v, ok := envDuration("POS_DRAIN_TIMEOUT"); ok {
		cfg.DrainTimeout = v
	}
	if v, ok := envDuration("POS_VALIDATION_TIMEOUT"); ok {
		cfg.ValidationTimeout = v
	}
	if v, ok := envDuration("POS_DRAIN_INTERVAL"); ok {
		cfg.DrainInterval = v
	}
	if v, ok := envDuration("POS_RETRY_INTERVAL"); ok {
		cfg.RetryInterval = v
	}
	if v, ok := envDuration("POS_CACHE_REFRESH_INTERVAL"); ok {
		cfg.CacheRefreshInterval = v
	}
	if v, ok := envDuration("POS_PING_INTERVAL"); ok {
		cfg.PingInterval = v
	}

	cfg.Clamp()
	return cfg
}

// Clamp enforces hard bounds on intervals.
func (c *Config) Clamp() {
	if c.CacheRefreshInterval < minCacheRefreshInterval {
		c.CacheRefreshInterval = minCacheRefreshInterval
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
