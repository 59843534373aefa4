package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "toml"
	configDir  = ".raven"
	configFile = "config.toml"
	envPrefix  = "RAVEN"

	configFileMode = 0o600
	configDirMode  = 0o700
)

const (
	keyBaseURL           = "api.base_url"
	keyTimeout           = "api.timeout"
	keyMaxBodyBytes      = "api.max_body_bytes"
	keyNamespace         = "realtime.namespace"
	keyMaxReconnects     = "realtime.max_reconnect_attempts"
	keyReconnectDelay    = "realtime.reconnect_delay"
	keyRefreshInterval   = "session.refresh_interval"
	keyRefreshSkew       = "session.refresh_skew"
	keyStoragePath       = "storage.path"
	keyStorageFallback   = "storage.fallback_dir"
	keyLogLevel          = "log.level"
	defaultBaseURL       = "http://localhost:3000/"
	defaultNamespace     = "/chat"
	defaultMaxBodyBytes  = 10 * 1024 * 1024
	defaultMaxReconnects = 5
)

type Config struct {
	API      APIConfig
	Realtime RealtimeConfig
	Session  SessionConfig
	Storage  StorageConfig
	Log      LogConfig
}

type APIConfig struct {
	BaseURL      string
	Timeout      time.Duration
	MaxBodyBytes int64
}

type RealtimeConfig struct {
	Namespace            string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
}

type SessionConfig struct {
	RefreshInterval time.Duration
	RefreshSkew     time.Duration
}

type StorageConfig struct {
	Path        string
	FallbackDir string
}

type LogConfig struct {
	Level string
}

// Dir returns ~/.raven, where the config file and session storage live.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(homeDir, configDir), nil
}

// Path returns ~/.raven/config.toml whether or not it exists.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load applies defaults, reads ~/.raven/config.toml when present and lets
// RAVEN_* environment variables override any key (RAVEN_API_BASE_URL, ...).
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	dir, err := Dir()
	if err != nil {
		return Config{}, err
	}

	setDefaults(v, dir)
	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(dir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default returns the configuration used when no file or env override exists.
func Default() (Config, error) {
	dir, err := Dir()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v, dir)
	return fromViper(v), nil
}

func fromViper(v *viper.Viper) Config {
	return Config{
		API: APIConfig{
			BaseURL:      v.GetString(keyBaseURL),
			Timeout:      v.GetDuration(keyTimeout),
			MaxBodyBytes: v.GetInt64(keyMaxBodyBytes),
		},
		Realtime: RealtimeConfig{
			Namespace:            v.GetString(keyNamespace),
			MaxReconnectAttempts: v.GetInt(keyMaxReconnects),
			ReconnectDelay:       v.GetDuration(keyReconnectDelay),
		},
		Session: SessionConfig{
			RefreshInterval: v.GetDuration(keyRefreshInterval),
			RefreshSkew:     v.GetDuration(keyRefreshSkew),
		},
		Storage: StorageConfig{
			Path:        expandHome(v.GetString(keyStoragePath)),
			FallbackDir: expandHome(v.GetString(keyStorageFallback)),
		},
		Log: LogConfig{
			Level: strings.ToLower(strings.TrimSpace(v.GetString(keyLogLevel))),
		},
	}
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault(keyBaseURL, defaultBaseURL)
	v.SetDefault(keyTimeout, 30*time.Second)
	v.SetDefault(keyMaxBodyBytes, defaultMaxBodyBytes)
	v.SetDefault(keyNamespace, defaultNamespace)
	v.SetDefault(keyMaxReconnects, defaultMaxReconnects)
	v.SetDefault(keyReconnectDelay, time.Second)
	v.SetDefault(keyRefreshInterval, 14*time.Minute)
	v.SetDefault(keyRefreshSkew, time.Minute)
	v.SetDefault(keyStoragePath, filepath.Join(dir, "session.db"))
	v.SetDefault(keyStorageFallback, filepath.Join(dir, "secrets"))
	v.SetDefault(keyLogLevel, "warn")
}

func (c Config) Validate() error {
	parsed, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("api base url must use http or https")
	}
	if parsed.Host == "" {
		return errors.New("api base url host is required")
	}
	if c.API.Timeout <= 0 {
		return errors.New("api timeout must be positive")
	}
	if c.API.MaxBodyBytes <= 0 {
		return errors.New("api max body bytes must be positive")
	}
	if c.Realtime.MaxReconnectAttempts < 1 {
		return errors.New("realtime max reconnect attempts must be at least 1")
	}
	if c.Realtime.ReconnectDelay < 0 {
		return errors.New("realtime reconnect delay must not be negative")
	}
	if c.Session.RefreshInterval <= 0 {
		return errors.New("session refresh interval must be positive")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage path is empty")
	}

	return nil
}

// RealtimeURL maps the API base url onto the websocket namespace endpoint,
// e.g. https://host/ -> wss://host/chat.
func (c Config) RealtimeURL() (string, error) {
	parsed, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}

	namespace := c.Realtime.Namespace
	if !strings.HasPrefix(namespace, "/") {
		namespace = "/" + namespace
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + namespace
	parsed.RawQuery = ""

	return parsed.String(), nil
}

// WriteDefault writes cfg as TOML to ~/.raven/config.toml. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(cfg Config, force bool) (string, error) {
	path, err := Path()
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)

	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config file %s already exists", path)
		}
	}

	encoded, err := Encode(cfg)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, configDirMode); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, encoded, configFileMode); err != nil {
		return "", fmt.Errorf("write config file: %w", err)
	}

	return path, nil
}

func Encode(cfg Config) ([]byte, error) {
	encoded, err := toml.Marshal(fileSchemaFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return encoded, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
	}
	return path
}
