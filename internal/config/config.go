package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultListenAddr       = ":8080"
	defaultDBDriver         = "sqlite"
	defaultDBDSN            = "gantry.db"
	defaultWorkDir          = "./data/work"
	defaultContextDBPath    = "./data/contextvars"
	defaultContextTTL       = 7 * 24 * time.Hour
	defaultNATSPrefix       = "gantry"
	defaultMaxWorkers       = 4
	defaultJanitorSchedule  = "@hourly"
	defaultWorkDirRetention = 72 * time.Hour

	envListenAddr       = "GANTRY_LISTEN_ADDR"
	envDBDriver         = "GANTRY_DB_DRIVER"
	envDBDSN            = "GANTRY_DB_DSN"
	envWorkDir          = "GANTRY_WORK_DIR"
	envContextDBPath    = "GANTRY_CONTEXT_DB_PATH"
	envContextTTL       = "GANTRY_CONTEXT_TTL"
	envDockerEndpoint   = "GANTRY_DOCKER_ENDPOINT"
	envKnownHosts       = "GANTRY_SSH_KNOWN_HOSTS"
	envNATSURL          = "GANTRY_NATS_URL"
	envNATSPrefix       = "GANTRY_NATS_SUBJECT_PREFIX"
	envMaxWorkers       = "GANTRY_MAX_WORKERS"
	envJanitorSchedule  = "GANTRY_JANITOR_SCHEDULE"
	envWorkDirRetention = "GANTRY_WORK_DIR_RETENTION"
	envSeedFile         = "GANTRY_SEED_FILE"
	envLogLevel         = "GANTRY_LOG_LEVEL"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBDriver   string
	DBDSN      string

	WorkDir       string
	ContextDBPath string
	ContextTTL    time.Duration

	// DockerEndpoint is empty to use the DOCKER_HOST environment.
	DockerEndpoint string

	// KnownHostsFile verifies storage host keys when set.
	KnownHostsFile string

	// NATSURL is empty when the NATS intake is disabled.
	NATSURL           string
	NATSSubjectPrefix string
	MaxWorkers        int

	JanitorSchedule  string
	WorkDirRetention time.Duration

	SeedFile string
	LogLevel slog.Level
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory, if present, fills in
// variables that are not already set.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:        defaultListenAddr,
		DBDriver:          defaultDBDriver,
		DBDSN:             defaultDBDSN,
		WorkDir:           defaultWorkDir,
		ContextDBPath:     defaultContextDBPath,
		ContextTTL:        defaultContextTTL,
		NATSSubjectPrefix: defaultNATSPrefix,
		MaxWorkers:        defaultMaxWorkers,
		JanitorSchedule:   defaultJanitorSchedule,
		WorkDirRetention:  defaultWorkDirRetention,
		LogLevel:          slog.LevelInfo,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBDriver); v != "" {
		cfg.DBDriver = strings.ToLower(v)
	}
	if v := os.Getenv(envDBDSN); v != "" {
		cfg.DBDSN = v
	}
	if v := os.Getenv(envWorkDir); v != "" {
		cfg.WorkDir = v
	}
	if v := os.Getenv(envContextDBPath); v != "" {
		cfg.ContextDBPath = v
	}
	cfg.ContextTTL = parseDuration(os.Getenv(envContextTTL), cfg.ContextTTL)
	cfg.DockerEndpoint = os.Getenv(envDockerEndpoint)
	cfg.KnownHostsFile = os.Getenv(envKnownHosts)
	cfg.NATSURL = os.Getenv(envNATSURL)
	if v := os.Getenv(envNATSPrefix); v != "" {
		cfg.NATSSubjectPrefix = v
	}
	if v := os.Getenv(envMaxWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxWorkers = n
		}
	}
	if v := os.Getenv(envJanitorSchedule); v != "" {
		cfg.JanitorSchedule = v
	}
	cfg.WorkDirRetention = parseDuration(os.Getenv(envWorkDirRetention), cfg.WorkDirRetention)
	cfg.SeedFile = os.Getenv(envSeedFile)
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	return cfg
}

// parseDuration returns def when s is empty or not a valid positive
// duration.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
