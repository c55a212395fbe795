package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if key, _, _ := strings.Cut(kv, "="); strings.HasPrefix(key, EnvPrefix) {
			t.Setenv(key, "")
		}
	}
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.WSURL != "ws://localhost:8000/api" {
		t.Errorf("WSURL = %q", cfg.API.WSURL)
	}
	if cfg.Channel.MaxReconnectAttempts != 5 || cfg.Channel.ReconnectBaseDelay != time.Second {
		t.Errorf("channel = %+v", cfg.Channel)
	}
	if cfg.Progress.UploadCeiling != 15 {
		t.Errorf("UploadCeiling = %v", cfg.Progress.UploadCeiling)
	}
	if cfg.MaxUploadBytes() != 100<<20 {
		t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes())
	}
}

func TestLoadRequiredFileMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), true); err == nil {
		t.Fatal("expected error for missing required config")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
api:
  base_url: "https://transcribe.example.com"
  token: "abc"
channel:
  reconnect_base_delay: 500ms
  max_reconnect_attempts: 3
progress:
  upload_ceiling: 20
upload:
  allowed_extensions: [wav]
fallback:
  poll_interval: 5s
log:
  level: debug
  format: json
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.WSURL != "wss://transcribe.example.com/api" || cfg.API.Token != "abc" {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.Channel.ReconnectBaseDelay != 500*time.Millisecond || cfg.Channel.MaxReconnectAttempts != 3 {
		t.Errorf("channel = %+v", cfg.Channel)
	}
	// Unset keys keep their defaults.
	if cfg.Channel.HeartbeatInterval != 30*time.Second || cfg.API.UploadTimeout != 120*time.Second {
		t.Errorf("defaults lost: %+v %+v", cfg.Channel, cfg.API)
	}
	if cfg.Progress.UploadCeiling != 20 || len(cfg.Upload.AllowedExtensions) != 1 {
		t.Errorf("progress/upload = %+v %+v", cfg.Progress, cfg.Upload)
	}
	if cfg.Fallback.PollInterval != 5*time.Second || cfg.Log.Level != "debug" {
		t.Errorf("fallback/log = %+v %+v", cfg.Fallback, cfg.Log)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEETSCRIBE_API_BASE_URL", "http://10.0.0.5:9000")
	t.Setenv("MEETSCRIBE_CHANNEL_MAX_RECONNECT_ATTEMPTS", "7")
	t.Setenv("MEETSCRIBE_CHANNEL_HEARTBEAT_INTERVAL", "15s")
	t.Setenv("MEETSCRIBE_UPLOAD_ALLOWED_EXTENSIONS", "wav, mp3 ,")
	t.Setenv("MEETSCRIBE_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"), false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.WSURL != "ws://10.0.0.5:9000/api" {
		t.Errorf("WSURL = %q", cfg.API.WSURL)
	}
	if cfg.Channel.MaxReconnectAttempts != 7 || cfg.Channel.HeartbeatInterval != 15*time.Second {
		t.Errorf("channel = %+v", cfg.Channel)
	}
	if got := cfg.Upload.AllowedExtensions; len(got) != 2 || got[0] != "wav" || got[1] != "mp3" {
		t.Errorf("extensions = %q", got)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{"bad yaml", "api: [", nil},
		{"ceiling out of range", "progress:\n  upload_ceiling: 100\n", nil},
		{"zero attempts", "channel:\n  max_reconnect_attempts: 0\n", nil},
		{"bad log level", "log:\n  level: loud\n", nil},
		{"bad scheme", "api:\n  base_url: ftp://host\n", nil},
		{"bad env duration", "", map[string]string{"MEETSCRIBE_API_TIMEOUT": "soon"}},
		{"bad env int", "", map[string]string{"MEETSCRIBE_SERVER_PORT": "eighty"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path, true); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDeriveWSURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"http://localhost:8000", "ws://localhost:8000/api"},
		{"https://api.example.com/", "wss://api.example.com/api"},
		{"http://host/prefix", "ws://host/prefix/api"},
	}
	for _, tt := range tests {
		got, err := DeriveWSURL(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("DeriveWSURL(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}
