package appconfig

import (
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string        `mapstructure:"state_dir" yaml:"state_dir"`
	HTTP          HTTPConfig    `mapstructure:"http" yaml:"http"`
	Bridge        BridgeConfig  `mapstructure:"bridge" yaml:"bridge"`
	Commands      CommandConfig `mapstructure:"commands" yaml:"commands"`
	Agent         AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Auth          AuthConfig    `mapstructure:"auth" yaml:"auth"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// HTTPConfig configures the HTTP gateway.
type HTTPConfig struct {
	Addr       string `mapstructure:"addr" yaml:"addr"`
	BridgePath string `mapstructure:"bridge_path" yaml:"bridge_path"`
}

// BridgeConfig controls the agent channel.
type BridgeConfig struct {
	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds" yaml:"heartbeat_interval_seconds"`
	HistoryMax               int `mapstructure:"history_max" yaml:"history_max"`
}

// CommandConfig bounds command timeouts.
type CommandConfig struct {
	DefaultTimeoutMS int `mapstructure:"default_timeout_ms" yaml:"default_timeout_ms"`
	MaxTimeoutMS     int `mapstructure:"max_timeout_ms" yaml:"max_timeout_ms"`
}

// AgentConfig configures the local chromedp agent.
type AgentConfig struct {
	DevtoolsURL      string `mapstructure:"devtools_url" yaml:"devtools_url"`
	MinBackoffMS     int    `mapstructure:"min_backoff_ms" yaml:"min_backoff_ms"`
	MaxBackoffMS     int    `mapstructure:"max_backoff_ms" yaml:"max_backoff_ms"`
	SnapshotMaxNodes int    `mapstructure:"snapshot_max_nodes" yaml:"snapshot_max_nodes"`
}

// AuthConfig configures bearer token storage.
type AuthConfig struct {
	TokenFile string `mapstructure:"token_file" yaml:"token_file"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	stateDir := filepath.Join(home, ".browsercx")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      stateDir,
		HTTP: HTTPConfig{
			Addr:       "127.0.0.1:27490",
			BridgePath: "/v1/bridge",
		},
		Bridge: BridgeConfig{
			HeartbeatIntervalSeconds: 5,
			HistoryMax:               200,
		},
		Commands: CommandConfig{
			DefaultTimeoutMS: 30000,
			MaxTimeoutMS:     300000,
		},
		Agent: AgentConfig{
			DevtoolsURL:      "http://127.0.0.1:9222",
			MinBackoffMS:     500,
			MaxBackoffMS:     30000,
			SnapshotMaxNodes: 500,
		},
		Auth: AuthConfig{
			TokenFile: filepath.Join(stateDir, "token"),
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".browsercx", "config.yaml"), nil
}
