package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MEETSCRIBE_"

type Config struct {
	API      APIConfig      `yaml:"api"`
	Channel  ChannelConfig  `yaml:"channel"`
	Progress ProgressConfig `yaml:"progress"`
	Upload   UploadConfig   `yaml:"upload"`
	Fallback FallbackConfig `yaml:"fallback"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

type APIConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	// WSURL is derived from BaseURL when empty.
	WSURL         string        `yaml:"ws_url" validate:"omitempty,url"`
	Token         string        `yaml:"token"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	UploadTimeout time.Duration `yaml:"upload_timeout" validate:"gt=0"`
}

type ChannelConfig struct {
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay" validate:"gt=0"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" validate:"gt=0"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval" validate:"gt=0"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout" validate:"gt=0"`
	WriteTimeout         time.Duration `yaml:"write_timeout" validate:"gt=0"`
}

type ProgressConfig struct {
	UploadCeiling float64 `yaml:"upload_ceiling" validate:"gt=0,lt=100"`
}

type UploadConfig struct {
	MaxSizeMB         int64    `yaml:"max_size_mb" validate:"gt=0"`
	AllowedExtensions []string `yaml:"allowed_extensions" validate:"min=1,dive,required"`
}

// FallbackConfig enables the secondary notification sources. A zero poll
// interval or an empty NATS URL disables the respective source.
type FallbackConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval" validate:"gte=0"`
	NATSURL           string        `yaml:"nats_url"`
	NATSSubjectPrefix string        `yaml:"nats_subject_prefix"`
}

type ServerConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port" validate:"gt=0,lte=65535"`
	StepInterval  time.Duration `yaml:"step_interval" validate:"gt=0"`
	FailStep      string        `yaml:"fail_step"`
	MaxUploadMB   int64         `yaml:"max_upload_mb" validate:"gt=0"`
	MaxPeers      int           `yaml:"max_peers" validate:"gte=0"`
	NATSMirrorURL string        `yaml:"nats_mirror_url"`
}

type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" validate:"oneof=json text"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
}

func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:       "http://localhost:8000",
			Timeout:       30 * time.Second,
			UploadTimeout: 120 * time.Second,
		},
		Channel: ChannelConfig{
			ReconnectBaseDelay:   time.Second,
			MaxReconnectAttempts: 5,
			HeartbeatInterval:    30 * time.Second,
			HandshakeTimeout:     10 * time.Second,
			WriteTimeout:         10 * time.Second,
		},
		Progress: ProgressConfig{UploadCeiling: 15},
		Upload: UploadConfig{
			MaxSizeMB:         100,
			AllowedExtensions: []string{"mp3", "wav", "m4a", "mp4", "webm", "ogg"},
		},
		Fallback: FallbackConfig{
			NATSSubjectPrefix: "meetscribe.progress",
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8000,
			StepInterval: time.Second,
			MaxUploadMB:  100,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path over the defaults, applies .env and MEETSCRIBE_*
// overrides, and validates the result. A missing file is only an error
// when required is true.
func Load(path string, required bool) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !required:
	default:
		return nil, err
	}

	_ = godotenv.Load()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if cfg.API.WSURL == "" {
		ws, err := DeriveWSURL(cfg.API.BaseURL)
		if err != nil {
			return nil, err
		}
		cfg.API.WSURL = ws
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DeriveWSURL maps an http(s) API root to its websocket root:
// http://host:8000 -> ws://host:8000/api.
func DeriveWSURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base_url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("invalid base_url %q: scheme must be http or https", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api"
	return u.String(), nil
}

// MaxUploadBytes returns the client upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 { return c.Upload.MaxSizeMB << 20 }

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}
	e.str("API_BASE_URL", &c.API.BaseURL)
	e.str("API_WS_URL", &c.API.WSURL)
	e.str("API_TOKEN", &c.API.Token)
	e.duration("API_TIMEOUT", &c.API.Timeout)
	e.duration("API_UPLOAD_TIMEOUT", &c.API.UploadTimeout)
	e.duration("CHANNEL_RECONNECT_BASE_DELAY", &c.Channel.ReconnectBaseDelay)
	e.integer("CHANNEL_MAX_RECONNECT_ATTEMPTS", &c.Channel.MaxReconnectAttempts)
	e.duration("CHANNEL_HEARTBEAT_INTERVAL", &c.Channel.HeartbeatInterval)
	e.float("PROGRESS_UPLOAD_CEILING", &c.Progress.UploadCeiling)
	e.int64("UPLOAD_MAX_SIZE_MB", &c.Upload.MaxSizeMB)
	e.list("UPLOAD_ALLOWED_EXTENSIONS", &c.Upload.AllowedExtensions)
	e.duration("FALLBACK_POLL_INTERVAL", &c.Fallback.PollInterval)
	e.str("FALLBACK_NATS_URL", &c.Fallback.NATSURL)
	e.str("FALLBACK_NATS_SUBJECT_PREFIX", &c.Fallback.NATSSubjectPrefix)
	e.str("SERVER_HOST", &c.Server.Host)
	e.integer("SERVER_PORT", &c.Server.Port)
	e.duration("SERVER_STEP_INTERVAL", &c.Server.StepInterval)
	e.str("SERVER_FAIL_STEP", &c.Server.FailStep)
	e.str("SERVER_NATS_MIRROR_URL", &c.Server.NATSMirrorURL)
	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FORMAT", &c.Log.Format)
	e.str("LOG_FILE", &c.Log.File)
	return e.err
}

// envReader applies MEETSCRIBE_* variables, keeping the first parse error.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}
}
