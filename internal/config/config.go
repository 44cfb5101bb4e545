package config

import (
	stdlibErrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueErrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration, loaded from concentra.yml
// and environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Datasets  DatasetsConfig  `yaml:"datasets"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	LLM       LLMConfig       `yaml:"llm"`
	CORS      CORSConfig      `yaml:"cors"`
}

// ServerConfig matches the 'server' section of concentra.yml.
type ServerConfig struct {
	Host    string     `yaml:"host" cue:"host"`
	Port    int        `yaml:"port" cue:"port"`
	Auth    AuthConfig `yaml:"auth" cue:"auth"`
	TLSCert string     `yaml:"tls_cert" cue:"tls_cert"`
	TLSKey  string     `yaml:"tls_key" cue:"tls_key"`
}

// AuthConfig matches the 'auth' sub-section of 'server'. An empty APIKey
// disables the X-API-Key check entirely.
type AuthConfig struct {
	APIKey string `yaml:"api_key" cue:"api_key"`
}

// DatasetsConfig matches the 'datasets' section.
type DatasetsConfig struct {
	Path           string `yaml:"path" cue:"path"`
	MaxFileSizeMB  int    `yaml:"max_file_size_mb" cue:"max_file_size_mb"`
}

// AnalysisConfig matches the 'analysis' section.
type AnalysisConfig struct {
	DefaultThresholds     []int `yaml:"default_thresholds" cue:"default_thresholds"`
	LargeDatasetThreshold int   `yaml:"large_dataset_threshold" cue:"large_dataset_threshold"`
}

// RateLimitConfig matches the 'rate_limit' section.
type RateLimitConfig struct {
	Budget       int           `yaml:"budget" cue:"budget"`
	WindowSecond int           `yaml:"window_seconds" cue:"window_seconds"`
	Window       time.Duration `yaml:"-"`
}

// LLMConfig matches the 'llm' section.
type LLMConfig struct {
	Enabled        bool   `yaml:"enabled" cue:"enabled"`
	Provider       string `yaml:"provider" cue:"provider"`
	Model          string `yaml:"model" cue:"model"`
	APIKeyEnv      string `yaml:"api_key_env" cue:"api_key_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds" cue:"timeout_seconds"`
	CallBudget     int    `yaml:"call_budget" cue:"call_budget"`
}

// CORSConfig matches the 'cors' section. AllowedOrigins entries may be
// glob patterns (e.g. "*.example.com"), matched with doublestar.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" cue:"allowed_origins"`
}

// ErrUnknownField is returned when the config document has a field the CUE
// schema does not allow.
type ErrUnknownField struct {
	Err error
}

func (e *ErrUnknownField) Error() string {
	return fmt.Sprintf("unknown field in configuration: %v", e.Err)
}

func (e *ErrUnknownField) Unwrap() error {
	return e.Err
}

const DefaultConfigPath = "concentra.yml"
const DefaultCueSchemaPath = "docs/config.cue"

var envVarWithDefaultRegex = regexp.MustCompile(`\$\{([^:}]+):=([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return path
}

func expandWithDefault(s string) string {
	result := envVarWithDefaultRegex.ReplaceAllStringFunc(s, func(match string) string {
		expandedSimple := os.ExpandEnv(match)
		if expandedSimple != match && expandedSimple != "" && !strings.Contains(expandedSimple, ":=") {
			return expandPath(expandedSimple)
		}

		parts := envVarWithDefaultRegex.FindStringSubmatch(match)
		var varName, defaultValue string

		if len(parts) > 2 && parts[1] != "" && parts[2] != "" {
			varName = parts[1]
			defaultValue = parts[2]
		} else if len(parts) > 3 && parts[3] != "" {
			varName = parts[3]
			val, _ := os.LookupEnv(varName)
			return expandPath(val)
		} else {
			return expandPath(match)
		}

		value, exists := os.LookupEnv(varName)
		if exists {
			return expandPath(value)
		}

		expandedDefaultValue := expandWithDefault(defaultValue)
		return expandPath(expandedDefaultValue)
	})
	return result
}

// Load reads configPath, validates it against the CUE schema at
// cueSchemaPath, and applies environment overrides and ${VAR:=default}
// expansion to path-like fields.
func Load(configPath string, cueSchemaPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	if cueSchemaPath == "" {
		cueSchemaPath = DefaultCueSchemaPath
	}

	schemaBytes, err := os.ReadFile(cueSchemaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CUE schema file %s: %w", cueSchemaPath, err)
	}

	yamlData, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(yamlData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML data from %s: %w", configPath, err)
	}

	ctx := cuecontext.New()
	schemaVal := ctx.CompileBytes(schemaBytes, cue.Filename(cueSchemaPath))
	if err := schemaVal.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile CUE schema from %s: %w", cueSchemaPath, err)
	}

	cueVal := ctx.Encode(cfg)
	if err := cueVal.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode config struct to CUE value: %w", err)
	}

	configDef := schemaVal.LookupPath(cue.ParsePath("#Config"))
	if !configDef.Exists() {
		return nil, fmt.Errorf("#Config definition not found in CUE schema %s", cueSchemaPath)
	}

	instanceVal := configDef.Unify(cueVal)
	if err := instanceVal.Err(); err != nil {
		if unknown, wrapped := asUnknownField(err); unknown {
			return nil, wrapped
		}
		return nil, fmt.Errorf("failed to unify CUE #Config definition with config data from %s: %w", configPath, err)
	}

	if err := instanceVal.Validate(cue.Concrete(true)); err != nil {
		if unknown, wrapped := asUnknownField(err); unknown {
			return nil, wrapped
		}
		return nil, fmt.Errorf("CUE validation failed for %s (schema %s, def #Config): %w", configPath, cueSchemaPath, err)
	}

	cfg.Datasets.Path = expandWithDefault(cfg.Datasets.Path)
	cfg.RateLimit.Window = time.Duration(cfg.RateLimit.WindowSecond) * time.Second

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func asUnknownField(err error) (bool, error) {
	var cueErrList cueErrors.Error
	if stdlibErrors.As(err, &cueErrList) {
		for _, single := range cueErrors.Errors(cueErrList) {
			details := cueErrors.Details(single, nil)
			if strings.Contains(details, "field not allowed") || strings.Contains(details, "is not a field in") {
				return true, &ErrUnknownField{Err: err}
			}
		}
	}
	return false, nil
}

// applyEnvOverrides layers the §6 environment inputs on top of whatever
// the YAML document set, matching the documented precedence: env wins.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("USE_LLM"); ok {
		cfg.LLM.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("MAX_FILE_SIZE_MB"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			cfg.Datasets.MaxFileSizeMB = n
		}
	}
	if v := os.Getenv("DEFAULT_THRESHOLDS"); v != "" {
		if thresholds, err := parseIntList(v); err == nil {
			cfg.Analysis.DefaultThresholds = thresholds
		}
	}
	if v := os.Getenv("DATASETS_PATH"); v != "" {
		cfg.Datasets.Path = expandPath(v)
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.Server.Auth.APIKey = v
	}
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("expected a positive integer, got %q", s)
	}
	return n, nil
}

func parseIntList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%d", &n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// GetDefaultConfig returns a Config populated with the defaults documented
// in §6.
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Auth: AuthConfig{APIKey: ""},
		},
		Datasets: DatasetsConfig{
			Path:          "${DATASETS_PATH:=./data/datasets}",
			MaxFileSizeMB: 25,
		},
		Analysis: AnalysisConfig{
			DefaultThresholds:     []int{10, 20, 50},
			LargeDatasetThreshold: 10000,
		},
		RateLimit: RateLimitConfig{
			Budget:       60,
			WindowSecond: 60,
		},
		LLM: LLMConfig{
			Enabled:        true,
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			TimeoutSeconds: 30,
			CallBudget:     10,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// WriteDefaultConfig writes the default configuration to configPath (or
// DefaultConfigPath when empty).
func WriteDefaultConfig(configPath string) error {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	cfg := GetDefaultConfig()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for config file %s: %w", configPath, err)
		}
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write default config to %s: %w", configPath, err)
	}
	return nil
}
