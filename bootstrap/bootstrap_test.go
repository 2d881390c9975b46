package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"pkt.systems/browsercx/internal/appconfig"
)

func TestWriteBootstrap(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "state")
	paths, err := WriteBootstrap(out, false)
	if err != nil {
		t.Fatalf("WriteBootstrap: %v", err)
	}

	data, err := os.ReadFile(paths.ConfigPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# browsercx configuration.") {
		t.Fatalf("config missing header comment")
	}
	var cfg appconfig.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	if cfg.ConfigVersion != appconfig.CurrentConfigVersion {
		t.Fatalf("config_version = %d, want %d", cfg.ConfigVersion, appconfig.CurrentConfigVersion)
	}
	if cfg.HTTP.Addr == "" {
		t.Fatal("config missing http addr")
	}

	token, err := os.ReadFile(paths.TokenPath)
	if err != nil {
		t.Fatalf("read token: %v", err)
	}
	if len(strings.TrimSpace(string(token))) != 64 {
		t.Fatalf("token length = %d, want 64 hex chars", len(strings.TrimSpace(string(token))))
	}
}

func TestWriteBootstrapKeepsExistingToken(t *testing.T) {
	out := t.TempDir()
	first, err := WriteBootstrap(out, false)
	if err != nil {
		t.Fatalf("first WriteBootstrap: %v", err)
	}
	before, err := os.ReadFile(first.TokenPath)
	if err != nil {
		t.Fatalf("read token: %v", err)
	}

	second, err := WriteBootstrap(out, true)
	if err != nil {
		t.Fatalf("second WriteBootstrap: %v", err)
	}
	after, err := os.ReadFile(second.TokenPath)
	if err != nil {
		t.Fatalf("re-read token: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("token changed across bootstrap runs")
	}
}

func TestWriteBootstrapKeepsConfigWithoutOverwrite(t *testing.T) {
	out := t.TempDir()
	paths, err := WriteBootstrap(out, false)
	if err != nil {
		t.Fatalf("WriteBootstrap: %v", err)
	}
	if err := os.WriteFile(paths.ConfigPath, []byte("config_version: 1\n"), 0o600); err != nil {
		t.Fatalf("overwrite config: %v", err)
	}
	if _, err := WriteBootstrap(out, false); err != nil {
		t.Fatalf("second WriteBootstrap: %v", err)
	}
	data, err := os.ReadFile(paths.ConfigPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if string(data) != "config_version: 1\n" {
		t.Fatal("config was overwritten without --force")
	}
}
