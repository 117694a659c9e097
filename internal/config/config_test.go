package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"THREADSYNC_BASE_URL", "THREADSYNC_PUSH_URL", "THREADSYNC_NOTEBOOK_ID",
		"THREADSYNC_MODE", "THREADSYNC_SUB_MODE", "THREADSYNC_WEB_SEARCH",
		"THREADSYNC_TIMEOUT", "PORT", "MOCK_REPLY_DELAY_MS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Client.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q", cfg.Client.BaseURL)
	}
	if cfg.Client.PushURL != "ws://localhost:8080" {
		t.Errorf("PushURL = %q, want derived ws url", cfg.Client.PushURL)
	}
	if cfg.Client.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v", cfg.Client.Timeout)
	}
	if cfg.Client.WebSearch {
		t.Error("WebSearch should default to false")
	}
	if cfg.Mock.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Mock.Addr)
	}
	if cfg.Mock.ReplyDelay != 300*time.Millisecond {
		t.Errorf("ReplyDelay = %v", cfg.Mock.ReplyDelay)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("THREADSYNC_BASE_URL", "https://chat.example.com")
	t.Setenv("THREADSYNC_NOTEBOOK_ID", "nb1")
	t.Setenv("THREADSYNC_WEB_SEARCH", "true")
	t.Setenv("THREADSYNC_TIMEOUT", "30")
	t.Setenv("PORT", "9090")
	t.Setenv("MOCK_REPLY_DELAY_MS", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Client.PushURL != "wss://chat.example.com" {
		t.Errorf("PushURL = %q, want wss derivation", cfg.Client.PushURL)
	}
	if cfg.Client.NotebookID != "nb1" || !cfg.Client.WebSearch {
		t.Errorf("client overrides lost: %+v", cfg.Client)
	}
	if cfg.Client.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v", cfg.Client.Timeout)
	}
	if cfg.Mock.Addr != ":9090" {
		t.Errorf("Addr = %q", cfg.Mock.Addr)
	}
	if cfg.Mock.ReplyDelay != 50*time.Millisecond {
		t.Errorf("ReplyDelay = %v", cfg.Mock.ReplyDelay)
	}
}

func TestExplicitPushURLWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("THREADSYNC_BASE_URL", "http://rest.example.com")
	t.Setenv("THREADSYNC_PUSH_URL", "ws://push.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Client.PushURL != "ws://push.example.com" {
		t.Errorf("PushURL = %q", cfg.Client.PushURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"THREADSYNC_WEB_SEARCH", "maybe"},
		{"THREADSYNC_TIMEOUT", "soon"},
		{"THREADSYNC_TIMEOUT", "0"},
		{"MOCK_REPLY_DELAY_MS", "-5"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected an error for %s=%q", tc.key, tc.value)
			}
		})
	}
}

func TestDerivePushURL(t *testing.T) {
	if got := derivePushURL("wss://already.ws"); got != "wss://already.ws" {
		t.Errorf("non-http scheme should pass through, got %q", got)
	}
}
