package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config aggregates the daemon's settings.
type Config struct {
	Server   ServerConfig
	API      APIConfig
	Realtime RealtimeConfig
	Session  SessionConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	apiCfg, err := loadAPIConfig()
	if err != nil {
		return nil, err
	}

	realtime, err := loadRealtimeConfig(apiCfg.BaseURL)
	if err != nil {
		return nil, err
	}

	sessionCfg, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, API: apiCfg, Realtime: realtime, Session: sessionCfg}, nil
}

// ServerConfig describes the local status API listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("INBOXD_STATUS_PORT"))
	if port == "" {
		port = "7171"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":7171" or "127.0.0.1:7171" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid INBOXD_STATUS_PORT value: %q", port)
	}

	return ServerConfig{Addr: "127.0.0.1:" + port}, nil
}

// APIConfig describes the remote helpdesk REST endpoint.
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

func loadAPIConfig() (APIConfig, error) {
	baseURL := strings.TrimSpace(os.Getenv("INBOXD_API_URL"))
	if baseURL == "" {
		return APIConfig{}, fmt.Errorf("INBOXD_API_URL is required")
	}

	timeoutSeconds := 15
	if override, err := parseOptionalIntEnv("INBOXD_API_TIMEOUT"); err != nil {
		return APIConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return APIConfig{}, fmt.Errorf("INBOXD_API_TIMEOUT must be positive, got %d", *override)
		}
		timeoutSeconds = *override
	}

	return APIConfig{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// RealtimeConfig describes the persistent notification channel.
type RealtimeConfig struct {
	URL          string
	MaxRetries   int
	PingInterval time.Duration
}

func loadRealtimeConfig(apiBaseURL string) (RealtimeConfig, error) {
	wsURL := strings.TrimSpace(os.Getenv("INBOXD_WS_URL"))
	if wsURL == "" {
		wsURL = deriveWebsocketURL(apiBaseURL)
	}

	maxRetries := 5
	if override, err := parseOptionalIntEnv("INBOXD_WS_MAX_RETRIES"); err != nil {
		return RealtimeConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return RealtimeConfig{}, fmt.Errorf("INBOXD_WS_MAX_RETRIES must be positive, got %d", *override)
		}
		maxRetries = *override
	}

	pingSeconds := 30
	if override, err := parseOptionalIntEnv("INBOXD_WS_PING_INTERVAL"); err != nil {
		return RealtimeConfig{}, err
	} else if override != nil && *override > 0 {
		pingSeconds = *override
	}

	return RealtimeConfig{
		URL:          wsURL,
		MaxRetries:   maxRetries,
		PingInterval: time.Duration(pingSeconds) * time.Second,
	}, nil
}

// deriveWebsocketURL maps the REST base URL onto the conventional /ws
// endpoint when no explicit websocket URL is configured.
func deriveWebsocketURL(apiBaseURL string) string {
	wsURL := apiBaseURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	return strings.TrimRight(wsURL, "/") + "/ws"
}

// SessionConfig describes where the durable session record lives.
type SessionConfig struct {
	Path string
}

func loadSessionConfig() (SessionConfig, error) {
	path := strings.TrimSpace(os.Getenv("INBOXD_SESSION_FILE"))
	if path != "" {
		return SessionConfig{Path: path}, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return SessionConfig{}, fmt.Errorf("resolve home directory for session file: %w", err)
	}
	return SessionConfig{Path: filepath.Join(home, ".inboxd", "session.json")}, nil
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
