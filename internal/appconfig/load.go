package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the provided path. If path is empty,
// uses DefaultConfigPath. A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.bridge_path", cfg.HTTP.BridgePath)
	v.SetDefault("bridge.heartbeat_interval_seconds", cfg.Bridge.HeartbeatIntervalSeconds)
	v.SetDefault("bridge.history_max", cfg.Bridge.HistoryMax)
	v.SetDefault("commands.default_timeout_ms", cfg.Commands.DefaultTimeoutMS)
	v.SetDefault("commands.max_timeout_ms", cfg.Commands.MaxTimeoutMS)
	v.SetDefault("agent.devtools_url", cfg.Agent.DevtoolsURL)
	v.SetDefault("agent.min_backoff_ms", cfg.Agent.MinBackoffMS)
	v.SetDefault("agent.max_backoff_ms", cfg.Agent.MaxBackoffMS)
	v.SetDefault("agent.snapshot_max_nodes", cfg.Agent.SnapshotMaxNodes)
	v.SetDefault("auth.token_file", cfg.Auth.TokenFile)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		return fmt.Errorf("http.addr is required")
	}
	if !strings.HasPrefix(cfg.HTTP.BridgePath, "/") {
		return fmt.Errorf("http.bridge_path must start with /")
	}
	if cfg.Bridge.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("bridge.heartbeat_interval_seconds must be positive")
	}
	if cfg.Commands.DefaultTimeoutMS <= 0 || cfg.Commands.MaxTimeoutMS <= 0 {
		return fmt.Errorf("commands timeouts must be positive")
	}
	if cfg.Commands.DefaultTimeoutMS > cfg.Commands.MaxTimeoutMS {
		return fmt.Errorf("commands.default_timeout_ms exceeds commands.max_timeout_ms")
	}
	if strings.TrimSpace(cfg.Auth.TokenFile) == "" {
		return fmt.Errorf("auth.token_file is required")
	}
	return nil
}
