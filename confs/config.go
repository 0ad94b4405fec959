package confs

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config is the runtime configuration of the fleet server.
type Config struct {
	ListenAddr string

	DBDriver   string // postgres | sqlite
	SQLitePath string
	DBLogLevel string

	// PollInterval is the expected device polling period; the liveness
	// thresholds default to multiples of it.
	PollInterval time.Duration
	StaleAfter   time.Duration
	DeadAfter    time.Duration

	// StrictRegistration rejects sync/heartbeat from unknown devices instead
	// of auto-registering them.
	StrictRegistration bool

	RateLimitRPS     float64
	RateLimitBurst   int
	RateLimitIdleTTL time.Duration

	NATSURL           string
	NATSSubjectPrefix string

	MonitorInterval time.Duration

	LogLevel  string
	LogFormat string
}

// LoadConfig loads environment variables from a .env file if present
// and validates essential settings when needed.
func LoadConfig() (Config, error) {
	// Load .env if it exists; ignore error if file not found
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("warning: could not load .env: %v", err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment.
func FromEnv() (Config, error) {
	var errs []string
	dur := func(key string, def time.Duration) time.Duration {
		v, err := time.ParseDuration(getenv(key, def.String()))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return def
		}
		return v
	}

	cfg := Config{
		ListenAddr:        getenv("LISTEN_ADDR", "0.0.0.0:3536"),
		DBDriver:          strings.ToLower(getenv("DB_DRIVER", "postgres")),
		SQLitePath:        getenv("SQLITE_PATH", "signage-fleet.db"),
		DBLogLevel:        getenv("DB_LOG_LEVEL", "warn"),
		PollInterval:      dur("POLL_INTERVAL", 30*time.Second),
		NATSURL:           getenv("NATS_URL", ""),
		NATSSubjectPrefix: getenv("NATS_SUBJECT_PREFIX", "screens"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		LogFormat:         getenv("LOG_FORMAT", "json"),
	}
	cfg.StaleAfter = dur("STALE_AFTER", 3*cfg.PollInterval)
	cfg.DeadAfter = dur("DEAD_AFTER", 6*cfg.PollInterval)
	cfg.MonitorInterval = dur("MONITOR_INTERVAL", cfg.PollInterval)
	cfg.RateLimitIdleTTL = dur("RATE_LIMIT_IDLE_TTL", 10*time.Minute)

	strict, err := strconv.ParseBool(getenv("STRICT_REGISTRATION", "true"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("STRICT_REGISTRATION: %v", err))
		strict = true
	}
	cfg.StrictRegistration = strict

	rps, err := strconv.ParseFloat(getenv("RATE_LIMIT_RPS", "2"), 64)
	if err != nil {
		errs = append(errs, fmt.Sprintf("RATE_LIMIT_RPS: %v", err))
	}
	cfg.RateLimitRPS = rps

	burst, err := strconv.Atoi(getenv("RATE_LIMIT_BURST", "10"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("RATE_LIMIT_BURST: %v", err))
	}
	cfg.RateLimitBurst = burst

	if len(errs) > 0 {
		return cfg, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.StaleAfter <= 0 || c.StaleAfter >= c.DeadAfter {
		return fmt.Errorf("STALE_AFTER (%s) must be positive and below DEAD_AFTER (%s)", c.StaleAfter, c.DeadAfter)
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}

// MarshalZerologObject logs the operational settings. Connection URLs may
// carry credentials, so only their presence is reported.
func (c Config) MarshalZerologObject(e *zerolog.Event) {
	e.Str("listen", c.ListenAddr).
		Str("db_driver", c.DBDriver).
		Dur("poll_interval", c.PollInterval).
		Dur("stale_after", c.StaleAfter).
		Dur("dead_after", c.DeadAfter).
		Bool("strict_registration", c.StrictRegistration).
		Float64("rate_limit_rps", c.RateLimitRPS).
		Int("rate_limit_burst", c.RateLimitBurst).
		Dur("monitor_interval", c.MonitorInterval).
		Bool("nats_enabled", c.NATSURL != "").
		Str("log_level", c.LogLevel)
}

func getenv(k, d string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return d
}
