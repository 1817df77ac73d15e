package flowline

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	defaultListenAddr      = ":8090"
	defaultLogLevel        = "info"
	defaultWorkerCount     = 4
	defaultPollInterval    = 500 * time.Millisecond
	defaultSweepInterval   = time.Minute
	defaultNodeRetries     = DefaultMaxNodeRetries
	defaultBaseRetryDelay  = 5 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Config is the daemon configuration, loaded from FLOWLINE_* environment
// variables.
type Config struct {
	DatabaseURL     string
	ListenAddr      string
	LogLevel        string
	WorkerCount     int
	PollInterval    time.Duration
	SweepInterval   time.Duration
	NodeRetries     int
	BaseRetryDelay  time.Duration
	ShutdownTimeout time.Duration

	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string
}

func LoadConfigFromEnv() (Config, error) {
	workerCount, err := parseEnvInt("FLOWLINE_WORKER_COUNT", defaultWorkerCount)
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := parseEnvDuration("FLOWLINE_POLL_INTERVAL_MS", time.Millisecond, defaultPollInterval)
	if err != nil {
		return Config{}, err
	}
	sweepInterval, err := parseEnvDuration("FLOWLINE_SWEEP_INTERVAL_SECONDS", time.Second, defaultSweepInterval)
	if err != nil {
		return Config{}, err
	}
	nodeRetries, err := parseEnvInt("FLOWLINE_NODE_RETRIES", defaultNodeRetries)
	if err != nil {
		return Config{}, err
	}
	baseRetryDelay, err := parseEnvDuration("FLOWLINE_RETRY_DELAY_SECONDS", time.Second, defaultBaseRetryDelay)
	if err != nil {
		return Config{}, err
	}
	shutdownTimeout, err := parseEnvDuration("FLOWLINE_SHUTDOWN_TIMEOUT_SECONDS", time.Second, defaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DatabaseURL:     os.Getenv("FLOWLINE_DATABASE_URL"),
		ListenAddr:      getEnv("FLOWLINE_LISTEN_ADDR", defaultListenAddr),
		LogLevel:        getEnv("FLOWLINE_LOG_LEVEL", defaultLogLevel),
		WorkerCount:     workerCount,
		PollInterval:    pollInterval,
		SweepInterval:   sweepInterval,
		NodeRetries:     nodeRetries,
		BaseRetryDelay:  baseRetryDelay,
		ShutdownTimeout: shutdownTimeout,
		OpenAIAPIKey:    os.Getenv("FLOWLINE_OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("FLOWLINE_ANTHROPIC_API_KEY"),
		GeminiAPIKey:    os.Getenv("FLOWLINE_GEMINI_API_KEY"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("FLOWLINE_DATABASE_URL is required")
	}
	if c.ListenAddr == "" {
		return errors.New("listen address cannot be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.LogLevel)
	}
	if c.WorkerCount <= 0 {
		return errors.New("worker count must be > 0")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be > 0")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be > 0")
	}
	if c.NodeRetries < 0 {
		return errors.New("node retries must be >= 0")
	}
	if c.BaseRetryDelay <= 0 {
		return errors.New("retry delay must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be > 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	return v
}

func parseEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}

	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}

	return out, nil
}

func parseEnvDuration(key string, unit time.Duration, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}

	return time.Duration(n) * unit, nil
}
