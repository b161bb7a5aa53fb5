package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerURL        string
	WSURL            string
	LinkBase         string
	Username         string
	ValidateTimeout  time.Duration
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	PresenceInterval time.Duration
	SendBuffer       int
	TrustRoomLinks   bool
	LogLevel         slog.Level
}

func Load() (*Config, error) {
	validateTimeout, err := time.ParseDuration(getEnv("VALIDATE_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("VALIDATE_TIMEOUT: %w", err)
	}
	handshakeTimeout, err := time.ParseDuration(getEnv("HANDSHAKE_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("HANDSHAKE_TIMEOUT: %w", err)
	}
	requestTimeout, err := time.ParseDuration(getEnv("REQUEST_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("REQUEST_TIMEOUT: %w", err)
	}
	presenceInterval, err := time.ParseDuration(getEnv("PRESENCE_INTERVAL", "2s"))
	if err != nil {
		return nil, fmt.Errorf("PRESENCE_INTERVAL: %w", err)
	}
	sendBuffer, err := strconv.Atoi(getEnv("SEND_BUFFER", "16"))
	if err != nil {
		return nil, fmt.Errorf("SEND_BUFFER: %w", err)
	}
	trustLinks, err := strconv.ParseBool(getEnv("TRUST_ROOM_LINKS", "false"))
	if err != nil {
		return nil, fmt.Errorf("TRUST_ROOM_LINKS: %w", err)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	serverURL := strings.TrimSuffix(getEnv("CHAT_SERVER_URL", "http://localhost:8000"), "/")
	cfg := &Config{
		ServerURL:        serverURL,
		WSURL:            getEnv("CHAT_WS_URL", DeriveWSURL(serverURL)),
		LinkBase:         getEnv("CHAT_LINK_BASE", serverURL+"/"),
		Username:         os.Getenv("CHAT_USERNAME"),
		ValidateTimeout:  validateTimeout,
		HandshakeTimeout: handshakeTimeout,
		RequestTimeout:   requestTimeout,
		PresenceInterval: presenceInterval,
		SendBuffer:       sendBuffer,
		TrustRoomLinks:   trustLinks,
		LogLevel:         level,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("CHAT_SERVER_URL must be an http(s) url, got %q", c.ServerURL)
	}

	u, err = url.Parse(c.WSURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("CHAT_WS_URL must be a ws(s) url, got %q", c.WSURL)
	}

	if _, err := url.Parse(c.LinkBase); err != nil {
		return fmt.Errorf("CHAT_LINK_BASE: %w", err)
	}

	if c.ValidateTimeout <= 0 {
		return fmt.Errorf("VALIDATE_TIMEOUT must be greater than 0")
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("HANDSHAKE_TIMEOUT must be greater than 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be greater than 0")
	}
	if c.PresenceInterval <= 0 {
		return fmt.Errorf("PRESENCE_INTERVAL must be greater than 0")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be greater than 0")
	}

	return nil
}

// DeriveWSURL maps an http(s) server url onto its ws(s) counterpart.
func DeriveWSURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://")
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://")
	default:
		return serverURL
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
