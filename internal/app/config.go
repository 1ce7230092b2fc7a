package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/tabsession/pkg/jwtx"
	"github.com/aussiebroadwan/tabsession/pkg/session"
	"github.com/aussiebroadwan/tabsession/pkg/tabsync"
	"github.com/aussiebroadwan/tabsession/pkg/tabsync/sockbus"
)

// Bus kinds accepted by SESSION_BUS.
const (
	BusMemory = "memory"
	BusSocket = "socket"
	BusNone   = "none"
)

type Config struct {
	APIBaseURL string // Auth API base URL (default: http://localhost:8080)
	Origin     string // Application origin the cookie mirror is bound to (default: APIBaseURL)
	DBFile     string // Durable credential store; empty disables durable storage (default: ./session.db)

	Channel string // Cross-tab channel name (default: auth)
	Bus     string // Cross-tab bus kind: memory, socket, none (default: memory)
	BusAddr string // Broker address for the socket bus, network://address (default: unix:///tmp/tabsession.sock)

	RefreshThreshold time.Duration // Renew access tokens this close to expiry (default: 60s)
	RefreshTimeout   time.Duration // Bound on one renewal (default: 15s)
	LogoutTimeout    time.Duration // Bound on the remote logout call (default: 5s)
	HTTPTimeout      time.Duration // Auth API client timeout (default: 10s)
	RateLimitRPS     float64       // Client side auth API throttle, 0 disables (default: 0)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	ShutdownGracePeriod time.Duration // Broker shutdown timeout (default: 10s)

	BrokerEventsPerMinute int // Per-tab publish limit on the broker, 0 disables (default: 600)
	BrokerEventBurst      int // Burst allowance above that limit (default: 100)
}

func LoadConfig() Config {
	cfg := Config{
		APIBaseURL: getEnvOrDefault("SESSION_API_BASE_URL", "http://localhost:8080"),
		Origin:     os.Getenv("SESSION_ORIGIN"),
		DBFile:     getEnvOrDefault("SESSION_DB_FILE", "session.db"),

		Channel: getEnvOrDefault("SESSION_CHANNEL", tabsync.DefaultChannel),
		Bus:     strings.ToLower(getEnvOrDefault("SESSION_BUS", BusMemory)),
		BusAddr: getEnvOrDefault("SESSION_BUS_ADDR", "unix:///tmp/tabsession.sock"),

		RefreshThreshold: getEnvDurationOrDefault("SESSION_REFRESH_THRESHOLD", jwtx.DefaultRefreshThreshold),
		RefreshTimeout:   getEnvDurationOrDefault("SESSION_REFRESH_TIMEOUT", session.DefaultRefreshTimeout),
		LogoutTimeout:    getEnvDurationOrDefault("SESSION_LOGOUT_TIMEOUT", session.DefaultLogoutTimeout),
		HTTPTimeout:      getEnvDurationOrDefault("SESSION_HTTP_TIMEOUT", 10*time.Second),
		RateLimitRPS:     getEnvFloatOrDefault("SESSION_RATE_LIMIT_RPS", 0),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),

		BrokerEventsPerMinute: getEnvIntOrDefault("SESSION_BROKER_EVENTS_PER_MINUTE", sockbus.DefaultPeerLimit.EventsPerWindow),
		BrokerEventBurst:      getEnvIntOrDefault("SESSION_BROKER_EVENT_BURST", sockbus.DefaultPeerLimit.Burst),
	}

	if cfg.Origin == "" {
		cfg.Origin = cfg.APIBaseURL
	}

	return cfg
}

// BusEndpoint splits BusAddr into a net.Dial network and address, e.g.
// "unix:///run/tabs.sock" or "tcp://127.0.0.1:7707".
func (cfg Config) BusEndpoint() (network, address string, err error) {
	network, address, ok := strings.Cut(cfg.BusAddr, "://")
	if !ok || address == "" {
		return "", "", fmt.Errorf("invalid SESSION_BUS_ADDR %q: want network://address", cfg.BusAddr)
	}

	switch network {
	case "unix", "tcp", "tcp4", "tcp6":
		return network, address, nil
	default:
		return "", "", fmt.Errorf("invalid SESSION_BUS_ADDR %q: unsupported network %q", cfg.BusAddr, network)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
