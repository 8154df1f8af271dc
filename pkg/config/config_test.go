package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type testConfig struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

type validatedConfig struct {
	Name string `yaml:"name"`
}

func (c *validatedConfig) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad(t *testing.T) {
	p := writeConfig(t, "name: ansuz\nport: 8080\n")

	var cfg testConfig
	if err := Load(p, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "ansuz" || cfg.Port != 8080 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_ANSUZ_NAME", "from-env")
	p := writeConfig(t, "name: ${TEST_ANSUZ_NAME}\n")

	var cfg testConfig
	if err := Load(p, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "from-env" {
		t.Errorf("name = %q", cfg.Name)
	}
}

func TestLoadRunsValidator(t *testing.T) {
	p := writeConfig(t, "name: \"\"\n")

	var cfg validatedConfig
	if err := Load(p, &cfg); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	var cfg testConfig
	if err := Load(filepath.Join(t.TempDir(), "missing.yaml"), &cfg); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	p := writeConfig(t, "name: [unclosed\n")
	var cfg testConfig
	if err := Load(p, &cfg); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadIfExists(t *testing.T) {
	cfg := testConfig{Name: "default", Port: 1}
	if err := LoadIfExists(filepath.Join(t.TempDir(), "missing.yaml"), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "default" || cfg.Port != 1 {
		t.Errorf("defaults clobbered: %+v", cfg)
	}

	p := writeConfig(t, "name: loaded\n")
	if err := LoadIfExists(p, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "loaded" {
		t.Errorf("name = %q", cfg.Name)
	}
}
