// Package config loads liftcoach settings from a JSON or YAML file with
// environment overrides, and edits that file key by key.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir         string `json:"data_dir" yaml:"data_dir"`
	LogLevel        string `json:"log_level" yaml:"log_level"`
	MaxConcurrent   int    `json:"max_concurrent" yaml:"max_concurrent"`
	MaxToolRounds   int    `json:"max_tool_rounds" yaml:"max_tool_rounds"`
	ToolConcurrency int    `json:"tool_concurrency" yaml:"tool_concurrency"`
	PromptFile      string `json:"prompt_file,omitempty" yaml:"prompt_file,omitempty"`
	LLM             struct {
		Provider         string  `json:"provider" yaml:"provider"`
		BaseURL          string  `json:"base_url" yaml:"base_url"`
		APIKey           string  `json:"api_key" yaml:"api_key"`
		Model            string  `json:"model" yaml:"model"`
		MaxTokens        int     `json:"max_tokens" yaml:"max_tokens"`
		Temperature      float32 `json:"temperature" yaml:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens" yaml:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve" yaml:"output_reserve"`
		RetryAttempts    int     `json:"retry_attempts" yaml:"retry_attempts"`
	} `json:"llm" yaml:"llm"`
	Database struct {
		Path string `json:"path" yaml:"path"`
	} `json:"database" yaml:"database"`
	Telegram struct {
		Token string `json:"token" yaml:"token"`
	} `json:"telegram" yaml:"telegram"`
	HTTP struct {
		Addr           string `json:"addr" yaml:"addr"`
		Token          string `json:"token" yaml:"token"`
		JWTSecret      string `json:"jwt_secret" yaml:"jwt_secret"`
		JWTExpiryHours int    `json:"jwt_expiry_hours" yaml:"jwt_expiry_hours"`
	} `json:"http" yaml:"http"`
	Tracing struct {
		Endpoint     string  `json:"endpoint" yaml:"endpoint"`
		SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate"`
		Insecure     bool    `json:"insecure" yaml:"insecure"`
	} `json:"tracing" yaml:"tracing"`
	Tools struct {
		Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	} `json:"tools" yaml:"tools"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	cfg := &Config{
		DataDir:         filepath.Join(os.Getenv("HOME"), ".liftcoach"),
		LogLevel:        "info",
		MaxConcurrent:   2,
		MaxToolRounds:   10,
		ToolConcurrency: 1,
	}
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.LLM.RetryAttempts = 3
	cfg.HTTP.Addr = "127.0.0.1:8080"
	cfg.HTTP.JWTExpiryHours = 720
	cfg.Tracing.SamplingRate = 1.0
	return cfg
}

// Load reads the config at path, writing defaults there if it does not
// exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	// Override from env (highest precedence)
	if cfg.LLM.Provider == "anthropic" {
		if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}
	} else {
		if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}
		if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
			cfg.LLM.BaseURL = baseURL
		}
	}
	if secret := os.Getenv("LIFTCOACH_JWT_SECRET"); secret != "" {
		cfg.HTTP.JWTSecret = secret
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if db := os.Getenv("LIFTCOACH_DB"); db != "" {
		cfg.Database.Path = db
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Tracing.Endpoint = endpoint
	}
}

// DatabasePath is the training log location, defaulting under DataDir.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.DataDir, "training.db")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decode(path string, data []byte, v any) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

func encode(path string, v any) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save writes v (a *Config or a raw map) to path atomically, in YAML when the
// path ends in .yaml or .yml and JSON otherwise.
func Save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := encode(path, v)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts the config to a generic nested map with JSON key names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues flattens the config to dot-separated keys, optionally masking
// secrets.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	m := map[string]any{}
	if err := decode(path, data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return m, nil
}

// GetValue returns the value stored under a dot-separated key, creating the
// file with defaults first if it does not exist yet. A known key that the
// file omits yields nil.
func GetValue(path, key string) (any, error) {
	if !IsKnownKey(key) {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if _, err := Load(path); err != nil {
			return nil, err
		}
	}
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	return Flatten(raw)[key], nil
}

// SetValue stores value under a dot-separated key in an existing config
// file. Values that parse as JSON (numbers, booleans, lists) keep that type;
// anything else is stored as a string. The result must still decode into
// Config, so "max_concurrent" cannot be set to "lots".
func SetValue(path, key, value string) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("unknown config key: %s", key)
	}
	raw, err := readRaw(path)
	if err != nil {
		return err
	}
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat := Flatten(raw)
	flat[key] = parsed
	updated := Unflatten(flat)

	data, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := json.Unmarshal(data, new(Config)); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return Save(path, updated)
}
