// Package config loads the client and dev-server configuration from
// environment variables. A .env file, when present, is loaded by the binary
// before Load runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every section.
type Config struct {
	Client ClientConfig
	Mock   MockConfig
}

// Load reads all sections from the environment.
func Load() (*Config, error) {
	client, err := loadClientConfig()
	if err != nil {
		return nil, err
	}

	mock, err := loadMockConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Client: client, Mock: mock}, nil
}

// ClientConfig describes how the sync client reaches the backend.
type ClientConfig struct {
	BaseURL    string
	PushURL    string
	NotebookID string
	Mode       string
	SubMode    string
	WebSearch  bool
	Timeout    time.Duration
}

func loadClientConfig() (ClientConfig, error) {
	webSearch, err := parseBoolEnv("THREADSYNC_WEB_SEARCH", false)
	if err != nil {
		return ClientConfig{}, err
	}

	timeoutSeconds := 15
	if override, err := parseOptionalIntEnv("THREADSYNC_TIMEOUT"); err != nil {
		return ClientConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return ClientConfig{}, fmt.Errorf("invalid THREADSYNC_TIMEOUT value: %d", *override)
		}
		timeoutSeconds = *override
	}

	baseURL := getEnvOrDefault("THREADSYNC_BASE_URL", "http://localhost:8080")
	pushURL := strings.TrimSpace(os.Getenv("THREADSYNC_PUSH_URL"))
	if pushURL == "" {
		pushURL = derivePushURL(baseURL)
	}

	return ClientConfig{
		BaseURL:    baseURL,
		PushURL:    pushURL,
		NotebookID: strings.TrimSpace(os.Getenv("THREADSYNC_NOTEBOOK_ID")),
		Mode:       strings.TrimSpace(os.Getenv("THREADSYNC_MODE")),
		SubMode:    strings.TrimSpace(os.Getenv("THREADSYNC_SUB_MODE")),
		WebSearch:  webSearch,
		Timeout:    time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// MockConfig describes the bundled dev backend.
type MockConfig struct {
	Addr       string
	ReplyDelay time.Duration
}

func loadMockConfig() (MockConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return MockConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = ":" + port
	}

	delayMillis := 300
	if override, err := parseOptionalIntEnv("MOCK_REPLY_DELAY_MS"); err != nil {
		return MockConfig{}, err
	} else if override != nil {
		if *override < 0 {
			return MockConfig{}, fmt.Errorf("invalid MOCK_REPLY_DELAY_MS value: %d", *override)
		}
		delayMillis = *override
	}

	return MockConfig{
		Addr:       addr,
		ReplyDelay: time.Duration(delayMillis) * time.Millisecond,
	}, nil
}

// derivePushURL rewrites an http(s) base into its ws(s) counterpart.
func derivePushURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
