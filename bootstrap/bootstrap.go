// Package bootstrap generates the initial on-disk state for a
// browsercx installation: the YAML config and the bearer token.
package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"pkt.systems/browsercx/internal/appconfig"
	"pkt.systems/browsercx/internal/authtoken"
)

// Paths reports where bootstrap wrote its outputs.
type Paths struct {
	ConfigPath string
	TokenPath  string
}

const configHeader = `# browsercx configuration.
# The daemon reads this file at startup; run "browsercx serve -c <path>"
# to use a non-default location.
`

// DefaultConfigYAML renders the default configuration as YAML.
func DefaultConfigYAML() ([]byte, error) {
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		return nil, err
	}
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return append([]byte(configHeader), body...), nil
}

// WriteBootstrap writes the default config and a fresh token under
// outputDir. Existing files are kept unless overwrite is set; the
// token is never overwritten so pairing survives re-runs.
func WriteBootstrap(outputDir string, overwrite bool) (Paths, error) {
	if outputDir == "" {
		return Paths{}, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(outputDir, 0o700); err != nil {
		return Paths{}, err
	}

	paths := Paths{
		ConfigPath: filepath.Join(outputDir, "config.yaml"),
		TokenPath:  filepath.Join(outputDir, "token"),
	}

	configYAML, err := DefaultConfigYAML()
	if err != nil {
		return Paths{}, err
	}
	if err := writeFile(paths.ConfigPath, configYAML, overwrite); err != nil {
		return Paths{}, err
	}
	if _, err := authtoken.LoadOrGenerate(paths.TokenPath); err != nil {
		return Paths{}, err
	}
	return paths, nil
}

func writeFile(path string, data []byte, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
	}
	return os.WriteFile(path, data, 0o600)
}
