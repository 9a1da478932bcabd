package aliasing

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_MissingFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() failed for missing file: %v", err)
	}

	if len(cfg.TopicAliases) != 0 || len(cfg.SourceAliases) != 0 {
		t.Errorf("LoadConfig() = %+v, want empty config", cfg)
	}
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	path := filepath.Join(t.TempDir(), ".aggregator.yaml")
	content := `topic_aliases:
  app-logs: application-logs
source_aliases:
  svc-a: service-a
`

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.TopicAliases["app-logs"] != "application-logs" {
		t.Errorf("TopicAliases = %v, want app-logs mapping", cfg.TopicAliases)
	}

	if cfg.SourceAliases["svc-a"] != "service-a" {
		t.Errorf("SourceAliases = %v, want svc-a mapping", cfg.SourceAliases)
	}
}

func TestLoadConfig_InvalidYAMLDegradesGracefully(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	path := filepath.Join(t.TempDir(), ".aggregator.yaml")
	if err := os.WriteFile(path, []byte("{{{ not yaml"), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() returned error for invalid YAML: %v", err)
	}

	if len(cfg.TopicAliases) != 0 || len(cfg.SourceAliases) != 0 {
		t.Errorf("LoadConfig() = %+v, want empty config for invalid YAML", cfg)
	}
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	path := filepath.Join(t.TempDir(), ".aggregator.yaml")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed for empty file: %v", err)
	}

	if cfg.TopicAliases == nil || cfg.SourceAliases == nil {
		t.Error("LoadConfig() left alias maps nil for empty file")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	path := filepath.Join(t.TempDir(), "custom.yaml")
	content := "topic_aliases:\n  a: b\n"

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() failed: %v", err)
	}

	if cfg.TopicAliases["a"] != "b" {
		t.Errorf("TopicAliases = %v, want a mapped to b", cfg.TopicAliases)
	}
}
