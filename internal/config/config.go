// Package config assembles the server configuration from component defaults
// and environment overrides.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/whisper/dm-server/internal/messaging"
	"github.com/whisper/dm-server/internal/session"
	"github.com/whisper/dm-server/internal/storage"
	"github.com/whisper/dm-server/internal/ws"
)

// Config is the full server configuration.
type Config struct {
	Server     ws.ServerConfig
	Heartbeat  ws.HeartbeatConfig
	Storage    storage.Config
	NATS       messaging.NATSConfig
	RedisAddr  string
	SessionTTL time.Duration
	ServerName string
	BcryptCost int
	RateLimit  bool // disable for load tests driven from a single address
}

// Load returns the defaults overridden by any set environment variables.
// Malformed values are ignored and leave the default in place.
func Load() *Config {
	cfg := &Config{
		Server:     ws.DefaultServerConfig(),
		Heartbeat:  ws.DefaultHeartbeatConfig(),
		Storage:    storage.DefaultConfig(),
		NATS:       messaging.DefaultNATSConfig(),
		RedisAddr:  "localhost:6379",
		SessionTTL: session.DefaultTTL,
		BcryptCost: 10,
		RateLimit:  true,
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if n, ok := positiveInt("MAX_CONNECTIONS"); ok {
		cfg.Server.MaxConnections = n
	}
	if d, ok := duration("AUTH_TIMEOUT"); ok {
		cfg.Server.AuthTimeout = d
	}
	if d, ok := duration("WRITE_TIMEOUT"); ok {
		cfg.Server.WriteTimeout = d
	}
	if d, ok := duration("HEARTBEAT_INTERVAL"); ok {
		cfg.Heartbeat.Interval = d
	}

	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("AUTO_MIGRATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Storage.AutoMigrate = b
		}
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if d, ok := duration("SESSION_TTL"); ok {
		cfg.SessionTTL = d
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}

	cfg.ServerName, _ = os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		cfg.ServerName = v
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "dm-1"
	}
	cfg.NATS.Name = cfg.ServerName

	if n, ok := positiveInt("BCRYPT_COST"); ok {
		cfg.BcryptCost = n
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RateLimit = b
		}
	}

	return cfg
}

func positiveInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func duration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
