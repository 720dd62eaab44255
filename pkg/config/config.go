package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	API struct {
		BaseURL string
		Timeout time.Duration
	}
	Auth struct {
		Phone    string
		Password string
		UserType string // DRIVER or PARENT
	}
	Control struct {
		Port int
	}
	Metrics struct {
		Port int
	}
	Tracker struct {
		MinInterval     time.Duration
		MinMovement     float64 // meters
		GeocodeDistance float64 // meters
		SourcePath      string  // JSON-lines position feed; empty means stdin
	}
	Socket struct {
		AutoReconnect  bool
		BackoffInitial time.Duration
		BackoffMax     time.Duration
		MaxRetries     int
	}
	Maps struct {
		Key string // optional override; normally fetched from the backend
	}
}

// Load reads the env file (if present) and builds the agent configuration
// from the environment.
func Load(filename string) (*Config, error) {
	if filename != "" {
		// Missing env file is fine; real deployments inject the environment.
		_ = godotenv.Load(filename)
	}

	cfg := &Config{}
	cfg.API.BaseURL = strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:3005/api/v1"), "/")
	cfg.API.Timeout = getEnvAsDuration("API_TIMEOUT_MS", 15*time.Second)

	cfg.Auth.Phone = getEnv("AUTH_PHONE", "")
	cfg.Auth.Password = getEnv("AUTH_PASSWORD", "")
	cfg.Auth.UserType = strings.ToUpper(getEnv("AUTH_USER_TYPE", "DRIVER"))
	if cfg.Auth.UserType != "DRIVER" && cfg.Auth.UserType != "PARENT" {
		return nil, fmt.Errorf("invalid AUTH_USER_TYPE %q: must be DRIVER or PARENT", cfg.Auth.UserType)
	}

	cfg.Control.Port = getEnvAsInt("CONTROL_PORT", 8090)
	cfg.Metrics.Port = getEnvAsInt("METRICS_PORT", 9102)

	cfg.Tracker.MinInterval = getEnvAsDuration("TRACKER_MIN_INTERVAL_MS", time.Second)
	cfg.Tracker.MinMovement = getEnvAsFloat("TRACKER_MIN_MOVEMENT_M", 1.5)
	cfg.Tracker.GeocodeDistance = getEnvAsFloat("TRACKER_GEOCODE_DISTANCE_M", 50)
	cfg.Tracker.SourcePath = getEnv("TRACKER_SOURCE_PATH", "")

	cfg.Socket.AutoReconnect = getEnvAsBool("SOCKET_AUTO_RECONNECT", true)
	cfg.Socket.BackoffInitial = getEnvAsDuration("SOCKET_BACKOFF_INITIAL_MS", time.Second)
	cfg.Socket.BackoffMax = getEnvAsDuration("SOCKET_BACKOFF_MAX_MS", 30*time.Second)
	cfg.Socket.MaxRetries = getEnvAsInt("SOCKET_MAX_RETRIES", 0) // 0 = unlimited

	cfg.Maps.Key = getEnv("MAPS_API_KEY", "")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

// getEnvAsDuration reads an integer number of milliseconds.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil && value > 0 {
		return time.Duration(value) * time.Millisecond
	}
	return fallback
}
