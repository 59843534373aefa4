package config

// fileSchema is the on-disk layout. Durations are written as strings ("30s")
// so that viper can read them back with GetDuration.
type fileSchema struct {
	API      apiSchema      `toml:"api"`
	Realtime realtimeSchema `toml:"realtime"`
	Session  sessionSchema  `toml:"session"`
	Storage  storageSchema  `toml:"storage"`
	Log      logSchema      `toml:"log"`
}

type apiSchema struct {
	BaseURL      string `toml:"base_url"`
	Timeout      string `toml:"timeout"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

type realtimeSchema struct {
	Namespace            string `toml:"namespace"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
	ReconnectDelay       string `toml:"reconnect_delay"`
}

type sessionSchema struct {
	RefreshInterval string `toml:"refresh_interval"`
	RefreshSkew     string `toml:"refresh_skew"`
}

type storageSchema struct {
	Path        string `toml:"path"`
	FallbackDir string `toml:"fallback_dir"`
}

type logSchema struct {
	Level string `toml:"level"`
}

func fileSchemaFrom(cfg Config) fileSchema {
	return fileSchema{
		API: apiSchema{
			BaseURL:      cfg.API.BaseURL,
			Timeout:      cfg.API.Timeout.String(),
			MaxBodyBytes: cfg.API.MaxBodyBytes,
		},
		Realtime: realtimeSchema{
			Namespace:            cfg.Realtime.Namespace,
			MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
			ReconnectDelay:       cfg.Realtime.ReconnectDelay.String(),
		},
		Session: sessionSchema{
			RefreshInterval: cfg.Session.RefreshInterval.String(),
			RefreshSkew:     cfg.Session.RefreshSkew.String(),
		},
		Storage: storageSchema{
			Path:        cfg.Storage.Path,
			FallbackDir: cfg.Storage.FallbackDir,
		},
		Log: logSchema{Level: cfg.Log.Level},
	}
}
