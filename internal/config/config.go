// Package config loads Doorway's configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for a Doorway process.
type Config struct {
	Port      int
	Version   string
	DevMode   bool
	Role      Role
	NodeID    string
	Region    string

	StorageURL      string
	ConductorURLs   []string
	AutoAssign      bool

	RedisURL  string
	PgURL     string

	JWT       JWTConfig
	Signal    SignalConfig
	Telemetry TelemetryConfig
}

// Role is the writer/reader distinction used by the readiness probe
// (spec.md §6 "/ready").
type Role string

const (
	RoleWriter Role = "writer"
	RoleReader Role = "reader"
)

type JWTConfig struct {
	Secret          string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
}

// SignalConfig configures the SBD relay (spec.md §4.12, §9).
type SignalConfig struct {
	IdleTimeoutMS int
	RateLimitKbps int
	MaxClients    int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("DOORWAY_PORT", 8787),
		Version: envStr("DOORWAY_VERSION", "0.1.0"),
		DevMode: envBool("DOORWAY_DEV_MODE", false),
		Role:    Role(envStr("DOORWAY_ROLE", string(RoleWriter))),
		NodeID:  envStr("DOORWAY_NODE_ID", ""),
		Region:  envStr("DOORWAY_REGION", ""),

		StorageURL:    envStr("DOORWAY_STORAGE_URL", ""),
		ConductorURLs: envList("DOORWAY_CONDUCTOR_URLS"),
		AutoAssign:    envBool("DOORWAY_AUTO_ASSIGN", true),

		RedisURL: envStr("DOORWAY_REDIS_URL", ""),
		PgURL:    envStr("DOORWAY_PG_URL", ""),

		JWT: JWTConfig{
			Secret:     envStr("DOORWAY_JWT_SECRET", ""),
			AccessTTL:  envDuration("DOORWAY_JWT_ACCESS_TTL", time.Hour),
			RefreshTTL: envDuration("DOORWAY_JWT_REFRESH_TTL", 7*24*time.Hour),
		},
		Signal: SignalConfig{
			IdleTimeoutMS: envInt("DOORWAY_SIGNAL_IDLE_TIMEOUT_MS", 60_000),
			RateLimitKbps: envInt("DOORWAY_SIGNAL_RATE_LIMIT_KBPS", 1_000),
			MaxClients:    envInt("DOORWAY_SIGNAL_MAX_CLIENTS", 32_768),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "doorway"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
