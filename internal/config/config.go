package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ride-simulator/internal/sim"
	"ride-simulator/internal/trip"
)

type Config struct {
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string
	LogFormat   string

	Simulation         sim.Config
	Timings            trip.Timings
	DriverStartMeters  float64
	DriverStartBearing float64 // degrees
	TerminalRetention  time.Duration
	SinkBuffer         int

	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisGeoKey   string

	DatabaseURL string
	// JournalDBName replaces the database named in DatabaseURL when set.
	JournalDBName string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		MetricsAddr:       os.Getenv("METRICS_ADDR"), // empty disables the metrics server
		LogLevel:          getenvDefault("LOG_LEVEL", "info"),
		LogFormat:         getenvDefault("LOG_FORMAT", "json"),
		NATSURL:           os.Getenv("NATS_URL"),
		NATSSubjectPrefix: getenvDefault("NATS_SUBJECT_PREFIX", "trips"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisGeoKey:       os.Getenv("REDIS_GEO_KEY"),
		JournalDBName:     os.Getenv("JOURNAL_DB_NAME"),
	}

	var err error
	if cfg.Simulation.StepMeters, err = floatEnv("SIM_STEP_METERS", 100, positive); err != nil {
		return nil, err
	}
	if cfg.Simulation.TickInterval, err = millisEnv("SIM_TICK_INTERVAL_MS", time.Second, false); err != nil {
		return nil, err
	}
	if cfg.Simulation.ArrivalThresholdMeters, err = floatEnv("SIM_ARRIVAL_THRESHOLD_METERS", 100, nonNegative); err != nil {
		return nil, err
	}
	if cfg.Timings.SearchDelay, err = millisEnv("SEARCH_DELAY_MS", 2*time.Second, true); err != nil {
		return nil, err
	}
	if cfg.Timings.AssignDelay, err = millisEnv("ASSIGN_DELAY_MS", 3*time.Second, true); err != nil {
		return nil, err
	}
	if cfg.DriverStartMeters, err = floatEnv("DRIVER_START_DISTANCE_METERS", 1500, nonNegative); err != nil {
		return nil, err
	}
	if cfg.DriverStartBearing, err = floatEnv("DRIVER_START_BEARING_DEG", 45, anyFloat); err != nil {
		return nil, err
	}

	// Terminal trip retention (seconds); 0 keeps finished trips until released
	if v := os.Getenv("TERMINAL_RETENTION_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec < 0 {
			return nil, fmt.Errorf("invalid TERMINAL_RETENTION_SEC: %q", v)
		}
		cfg.TerminalRetention = time.Duration(sec) * time.Second
	} else {
		cfg.TerminalRetention = 10 * time.Minute
	}

	if v := os.Getenv("SINK_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid SINK_BUFFER: %q", v)
		}
		cfg.SinkBuffer = n
	} else {
		cfg.SinkBuffer = 1024
	}

	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid REDIS_DB: %q", v)
		}
		cfg.RedisDB = n
	}

	// Debug logging for NATS publish subjects
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	switch strings.ToLower(cfg.LogFormat) {
	case "json", "text":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT: %q", cfg.LogFormat)
	}

	// Journal DSN: prefer DATABASE_URL / PG_DSN, else build from PG* vars when PGDATABASE is set.
	// Empty disables the journal.
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if cfg.DatabaseURL == "" {
		if db := os.Getenv("PGDATABASE"); db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}

	if err := cfg.Simulation.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type floatCheck func(float64) bool

func positive(f float64) bool    { return f > 0 }
func nonNegative(f float64) bool { return f >= 0 }
func anyFloat(float64) bool      { return true }

func floatEnv(key string, def float64, ok floatCheck) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || !ok(f) {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func millisEnv(key string, def time.Duration, allowZero bool) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || ms < 0 || (ms == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
