package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Addr      string
	AuthToken string

	LogLevel  string
	LogFormat string

	StateDir string

	// StoreBackend selects the realtime record store shared with devices:
	// "memory" (single node, simulator) or "nats" (JetStream KV bucket).
	StoreBackend string
	NATSURL      string
	NATSBucket   string

	// DefaultDeadline bounds command acknowledgement when a request does
	// not carry its own deadline.
	DefaultDeadline time.Duration

	// SimDevices lists device targets served by the built-in simulator;
	// empty disables it.
	SimDevices []string

	ShutdownGrace time.Duration
}

const (
	defaultAddr          = "0.0.0.0:7080"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultStoreBackend  = "memory"
	defaultNATSURL       = "nats://localhost:4222"
	defaultNATSBucket    = "paddylink-commands"
	defaultDeadline      = 120 * time.Second
	defaultShutdownGrace = 5 * time.Second
)

func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

func getEnvList(key string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var items []string
	for _, item := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// Parse builds the configuration.
// Priority: CLI flags > environment variables > .env file > defaults.
func Parse() (*Config, error) {
	// .env is optional; check the working directory then the user config dir.
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "paddylink", ".env"))
	}
	_ = godotenv.Load(envFiles...)

	cfg := &Config{
		Addr:            getEnvString("PADDYLINK_ADDR", defaultAddr),
		AuthToken:       getEnvString("PADDYLINK_AUTH_TOKEN", ""),
		LogLevel:        getEnvString("PADDYLINK_LOG_LEVEL", defaultLogLevel),
		LogFormat:       getEnvString("PADDYLINK_LOG_FORMAT", defaultLogFormat),
		StateDir:        getEnvString("PADDYLINK_STATE_DIR", ""),
		StoreBackend:    getEnvString("PADDYLINK_STORE", defaultStoreBackend),
		NATSURL:         getEnvString("PADDYLINK_NATS_URL", defaultNATSURL),
		NATSBucket:      getEnvString("PADDYLINK_NATS_BUCKET", defaultNATSBucket),
		DefaultDeadline: getEnvDuration("PADDYLINK_DEFAULT_DEADLINE", defaultDeadline),
		SimDevices:      getEnvList("PADDYLINK_SIM_DEVICES"),
		ShutdownGrace:   getEnvDuration("PADDYLINK_SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	var addr, logLevel, logFormat, stateDir, storeBackend, natsURL, simDevices string
	var defaultDeadlineFlag, shutdownGrace time.Duration

	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	flag.StringVar(&stateDir, "state-dir", "", "Directory to store the history database")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	flag.StringVar(&storeBackend, "store", "", "Record store backend (memory, nats)")
	flag.StringVar(&natsURL, "nats-url", "", "NATS server URL for the nats backend")
	flag.StringVar(&simDevices, "simulate", "", "Comma-separated device targets to simulate")
	flag.DurationVar(&defaultDeadlineFlag, "default-deadline", 0, "Default command acknowledgement deadline")
	flag.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")

	flag.Parse()

	if addr != "" {
		cfg.Addr = addr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if storeBackend != "" {
		cfg.StoreBackend = storeBackend
	}
	if natsURL != "" {
		cfg.NATSURL = natsURL
	}
	if simDevices != "" {
		cfg.SimDevices = nil
		for _, item := range strings.Split(simDevices, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				cfg.SimDevices = append(cfg.SimDevices, trimmed)
			}
		}
	}
	if defaultDeadlineFlag > 0 {
		cfg.DefaultDeadline = defaultDeadlineFlag
	}
	if shutdownGrace > 0 {
		cfg.ShutdownGrace = shutdownGrace
	}

	switch cfg.StoreBackend {
	case "memory", "nats":
	default:
		return nil, fmt.Errorf("invalid store backend %q (want memory or nats)", cfg.StoreBackend)
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	return cfg, nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "paddylink")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
