package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigLoadAndExpansion(t *testing.T) {
	tempDir := t.TempDir()
	tempConfigPath := filepath.Join(tempDir, "concentra.yml")
	tempCuePath := filepath.Join(tempDir, "config.cue")

	cueSchema := `
package config
#Config: {
  datasets: {
    path: string
    ...
  }
  server?: _
  analysis?: _
  rate_limit?: _
  llm?: _
  cors?: _
}
`
	if err := os.WriteFile(tempCuePath, []byte(cueSchema), 0644); err != nil {
		t.Fatalf("failed to write temp cue schema: %v", err)
	}

	configYAML := `datasets:
  path: "${TEST_CONCENTRA_DIR:=~/test_concentra_data}"
`
	if err := os.WriteFile(tempConfigPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	_ = os.Unsetenv("TEST_CONCENTRA_DIR")

	cfg, err := Load(tempConfigPath, tempCuePath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	home, _ := os.UserHomeDir()
	expected := filepath.Join(home, "test_concentra_data")
	if cfg.Datasets.Path != expected {
		t.Errorf("expected Datasets.Path=%q, got %q", expected, cfg.Datasets.Path)
	}

	os.Setenv("TEST_CONCENTRA_DIR", "/tmp/override_concentra")
	cfg2, err := Load(tempConfigPath, tempCuePath)
	if err != nil {
		t.Fatalf("Load with env override failed: %v", err)
	}
	if cfg2.Datasets.Path != "/tmp/override_concentra" {
		t.Errorf("expected Datasets.Path=/tmp/override_concentra, got %q", cfg2.Datasets.Path)
	}
}

func TestConfigEnvOverrides(t *testing.T) {
	tempDir := t.TempDir()
	tempConfigPath := filepath.Join(tempDir, "concentra.yml")
	tempCuePath := filepath.Join(tempDir, "config.cue")

	cueSchema := `
package config
#Config: {
  datasets: { path: string, ... }
  server?: _
  analysis?: _
  rate_limit?: _
  llm?: _
  cors?: _
}
`
	os.WriteFile(tempCuePath, []byte(cueSchema), 0644)
	os.WriteFile(tempConfigPath, []byte("datasets:\n  path: \"./data\"\n"), 0644)

	os.Setenv("MAX_FILE_SIZE_MB", "50")
	os.Setenv("ALLOWED_ORIGINS", "https://a.example.com,*.b.example.com")
	defer os.Unsetenv("MAX_FILE_SIZE_MB")
	defer os.Unsetenv("ALLOWED_ORIGINS")

	cfg, err := Load(tempConfigPath, tempCuePath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Datasets.MaxFileSizeMB != 50 {
		t.Errorf("expected MaxFileSizeMB=50, got %d", cfg.Datasets.MaxFileSizeMB)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "*.b.example.com" {
		t.Errorf("expected 2 allowed origins, got %v", cfg.CORS.AllowedOrigins)
	}
}

func TestDefaultConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "concentra.yml")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config file to exist: %v", err)
	}
}
