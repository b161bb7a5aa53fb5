package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	unset(t, "CHAT_SERVER_URL", "CHAT_WS_URL", "CHAT_LINK_BASE", "CHAT_USERNAME", "VALIDATE_TIMEOUT",
		"HANDSHAKE_TIMEOUT", "REQUEST_TIMEOUT", "PRESENCE_INTERVAL", "SEND_BUFFER",
		"TRUST_ROOM_LINKS", "LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerURL != "http://localhost:8000" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.WSURL != "ws://localhost:8000" {
		t.Errorf("WSURL = %q", cfg.WSURL)
	}
	if cfg.LinkBase != "http://localhost:8000/" {
		t.Errorf("LinkBase = %q", cfg.LinkBase)
	}
	if cfg.ValidateTimeout != 10*time.Second || cfg.HandshakeTimeout != 10*time.Second {
		t.Errorf("Unexpected timeouts: %v %v", cfg.ValidateTimeout, cfg.HandshakeTimeout)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.PresenceInterval != 2*time.Second {
		t.Errorf("PresenceInterval = %v", cfg.PresenceInterval)
	}
	if cfg.SendBuffer != 16 {
		t.Errorf("SendBuffer = %d", cfg.SendBuffer)
	}
	if cfg.TrustRoomLinks {
		t.Error("Expected room links to be untrusted by default")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHAT_SERVER_URL", "https://chat.example.com/")
	unset(t, "CHAT_WS_URL", "CHAT_LINK_BASE")
	t.Setenv("CHAT_USERNAME", "alice")
	t.Setenv("TRUST_ROOM_LINKS", "true")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SEND_BUFFER", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServerURL != "https://chat.example.com" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.WSURL != "wss://chat.example.com" {
		t.Errorf("WSURL = %q", cfg.WSURL)
	}
	if cfg.Username != "alice" || !cfg.TrustRoomLinks || cfg.SendBuffer != 4 {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"VALIDATE_TIMEOUT": "soon",
		"SEND_BUFFER":      "0",
		"CHAT_SERVER_URL":  "localhost:8000",
		"CHAT_WS_URL":      "http://localhost:8000",
		"TRUST_ROOM_LINKS": "maybe",
		"LOG_LEVEL":        "loud",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Errorf("Expected error for %s=%q", key, value)
			}
		})
	}
}

func TestDeriveWSURL(t *testing.T) {
	if got := DeriveWSURL("http://localhost:8000"); got != "ws://localhost:8000" {
		t.Errorf("got %q", got)
	}
	if got := DeriveWSURL("https://chat.example.com"); got != "wss://chat.example.com" {
		t.Errorf("got %q", got)
	}
}

// unset removes keys for the duration of the test.
func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}
