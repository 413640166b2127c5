package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds worker configuration
type Config struct {
	AWSRegion string

	InfluxEndpoint  string
	InfluxPort      int
	InfluxDatabase  string
	InfluxSecretARN string

	DataBucket       string
	FetchNewsContent bool

	APIKeysSecretARN string

	MassiveBaseURL      string
	MassiveWSURL        string
	MassiveDelayedWSURL string

	DefaultWatchlist []string

	HealthCheckPort int
	EnableRealtime  bool
	EnableScheduler bool
	LogLevel        string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		AWSRegion:           getEnv("AWS_REGION", "us-west-2"),
		InfluxEndpoint:      getEnv("INFLUXDB_ENDPOINT", ""),
		InfluxPort:          getEnvAsInt("INFLUXDB_PORT", 8181),
		InfluxDatabase:      getEnv("INFLUXDB_DATABASE", "market_data"),
		InfluxSecretARN:     getEnv("INFLUXDB_SECRET_ARN", ""),
		DataBucket:          getEnv("DATA_BUCKET", ""),
		FetchNewsContent:    getEnvAsBool("FETCH_NEWS_CONTENT", false),
		APIKeysSecretARN:    getEnv("API_KEYS_SECRET_ARN", "wavepilot/api-keys"),
		MassiveBaseURL:      getEnv("MASSIVE_BASE_URL", "https://api.massive.com"),
		MassiveWSURL:        getEnv("MASSIVE_WS_URL", "wss://socket.massive.com/stocks"),
		MassiveDelayedWSURL: getEnv("MASSIVE_DELAYED_WS_URL", "wss://delayed.massive.com/stocks"),
		DefaultWatchlist:    getEnvAsList("DEFAULT_WATCHLIST", "AAPL,TSLA,NVDA,AMZN,GOOGL"),
		HealthCheckPort:     getEnvAsInt("HEALTH_CHECK_PORT", 8080),
		EnableRealtime:      getEnvAsBool("ENABLE_REALTIME", true),
		EnableScheduler:     getEnvAsBool("ENABLE_SCHEDULER", true),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// InfluxURL returns the full URL of the time-series store, or "" when not configured
func (c *Config) InfluxURL() string {
	if c.InfluxEndpoint == "" {
		return ""
	}
	if strings.Contains(c.InfluxEndpoint, "://") {
		return fmt.Sprintf("%s:%d", c.InfluxEndpoint, c.InfluxPort)
	}
	return fmt.Sprintf("http://%s:%d", c.InfluxEndpoint, c.InfluxPort)
}

// Validate checks if required configuration is present.
// Missing stores degrade the worker rather than stopping it, so only
// values that would make the process useless are hard errors here.
func (c *Config) Validate() error {
	if c.HealthCheckPort <= 0 || c.HealthCheckPort > 65535 {
		return fmt.Errorf("HEALTH_CHECK_PORT out of range: %d", c.HealthCheckPort)
	}
	if c.MassiveBaseURL == "" {
		return fmt.Errorf("MASSIVE_BASE_URL is required")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
