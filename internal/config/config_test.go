package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// clearEnv blanks every variable applyEnv reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "ANTHROPIC_API_KEY", "TELEGRAM_BOT_TOKEN",
		"LIFTCOACH_DB", "LIFTCOACH_JWT_SECRET", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(k, "")
	}
}

func savedConfig(t *testing.T, name string, cfg *Config) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path
}

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Model != "gpt-4o-mini" || cfg.MaxToolRounds != 10 || cfg.HTTP.Addr != "127.0.0.1:8080" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults not written: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	clearEnv(t)
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			original := Default()
			original.DataDir = "/srv/liftcoach"
			original.LLM.Provider = "anthropic"
			original.LLM.Model = "claude-sonnet-4-5"
			original.LLM.Temperature = 0.3
			original.HTTP.JWTSecret = "hmac"
			original.Telegram.Token = "bot-token"
			original.Tools.Allow = []string{"log_movement", "list_sessions"}

			loaded, err := Load(savedConfig(t, name, original))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.DataDir != original.DataDir || loaded.LLM.Model != original.LLM.Model ||
				loaded.LLM.Provider != "anthropic" || loaded.LLM.Temperature != 0.3 {
				t.Errorf("scalar fields lost: %+v", loaded)
			}
			if loaded.HTTP.JWTSecret != "hmac" || loaded.Telegram.Token != "bot-token" {
				t.Errorf("secrets lost: http=%+v telegram=%+v", loaded.HTTP, loaded.Telegram)
			}
			if strings.Join(loaded.Tools.Allow, ",") != "log_movement,list_sessions" {
				t.Errorf("tools.allow = %v", loaded.Tools.Allow)
			}
		})
	}
}

func TestYAMLPartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yml")
	data := []byte("log_level: debug\nllm:\n  model: gpt-4o\ntools:\n  allow:\n    - log_movement\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.LLM.Model != "gpt-4o" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.LLM.Provider != "openai" || cfg.MaxToolRounds != 10 {
		t.Errorf("defaults lost: provider=%q rounds=%d", cfg.LLM.Provider, cfg.MaxToolRounds)
	}
	if len(cfg.Tools.Allow) != 1 || cfg.Tools.Allow[0] != "log_movement" {
		t.Errorf("tools.allow = %v", cfg.Tools.Allow)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	cfg.LLM.Provider = "anthropic"
	path := savedConfig(t, "config.json", cfg)

	t.Setenv("ANTHROPIC_API_KEY", "ant-key")
	t.Setenv("OPENAI_API_KEY", "openai-key")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-token")
	t.Setenv("LIFTCOACH_DB", "/tmp/override.db")
	t.Setenv("LIFTCOACH_JWT_SECRET", "jwt-key")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	checks := map[string][2]string{
		"llm.api_key":      {loaded.LLM.APIKey, "ant-key"},
		"telegram.token":   {loaded.Telegram.Token, "tg-token"},
		"database":         {loaded.DatabasePath(), "/tmp/override.db"},
		"http.jwt_secret":  {loaded.HTTP.JWTSecret, "jwt-key"},
		"tracing.endpoint": {loaded.Tracing.Endpoint, "collector:4317"},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", name, c[0], c[1])
		}
	}
}

func TestDatabasePathDefault(t *testing.T) {
	cfg := &Config{DataDir: "/data"}
	if got := cfg.DatabasePath(); got != filepath.Join("/data", "training.db") {
		t.Errorf("DatabasePath() = %q", got)
	}
}

func TestListValuesMasking(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-secret-key-1234"
	cfg.HTTP.Token = "http-token-5678"
	cfg.HTTP.JWTSecret = "hmac-abcd"

	plain, err := ListValues(cfg, false)
	if err != nil {
		t.Fatal(err)
	}
	masked, err := ListValues(cfg, true)
	if err != nil {
		t.Fatal(err)
	}
	if plain["llm.api_key"] != "sk-secret-key-1234" {
		t.Errorf("unmasked llm.api_key = %v", plain["llm.api_key"])
	}
	for key, want := range map[string]any{
		"llm.api_key":     "***1234",
		"http.token":      "***5678",
		"http.jwt_secret": "***abcd",
		"telegram.token":  "",
		"llm.model":       "gpt-4o-mini",
		"max_tool_rounds": float64(10),
	} {
		if masked[key] != want {
			t.Errorf("masked[%s] = %v, want %v", key, masked[key], want)
		}
	}
}

func TestGetValue(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")

	// The first read creates the file with defaults.
	v, err := GetValue(path, "llm.max_context_tokens")
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if v != float64(128000) {
		t.Errorf("llm.max_context_tokens = %v (%T)", v, v)
	}

	// Declared but omitted from the file.
	v, err = GetValue(path, "tools.allow")
	if err != nil || v != nil {
		t.Errorf("tools.allow = %v, %v; want nil, nil", v, err)
	}

	if _, err := GetValue(path, "llm.modle"); err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("typo key: err = %v", err)
	}
}

func TestSetValue(t *testing.T) {
	tests := []struct {
		key, value string
		want       any
	}{
		{"llm.model", "gpt-4.1", "gpt-4.1"},
		{"max_concurrent", "4", float64(4)},
		{"tracing.insecure", "true", true},
		{"llm.temperature", "0.3", 0.3},
		{"tools.allow", `["log_movement","personal_records"]`, []any{"log_movement", "personal_records"}},
		{"http.addr", ":9090", ":9090"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			path := savedConfig(t, "config.json", Default())
			if err := SetValue(path, tt.key, tt.value); err != nil {
				t.Fatalf("SetValue: %v", err)
			}
			got, err := GetValue(path, tt.key)
			if err != nil {
				t.Fatalf("GetValue: %v", err)
			}
			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(tt.want)
			if string(gotJSON) != string(wantJSON) {
				t.Errorf("%s = %s, want %s", tt.key, gotJSON, wantJSON)
			}
		})
	}
}

func TestSetValueRejects(t *testing.T) {
	path := savedConfig(t, "config.json", Default())

	if err := SetValue(path, "custom.setting", "x"); err == nil {
		t.Error("expected unknown key to be rejected")
	}
	if err := SetValue(path, "max_concurrent", "lots"); err == nil {
		t.Error("expected a string for an int field to be rejected")
	}
	v, err := GetValue(path, "max_concurrent")
	if err != nil {
		t.Fatal(err)
	}
	if v != float64(2) {
		t.Errorf("rejected write changed the file: max_concurrent = %v", v)
	}

	missing := filepath.Join(t.TempDir(), "absent", "config.json")
	if err := SetValue(missing, "log_level", "debug"); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestSetValueKeepsYAML(t *testing.T) {
	path := savedConfig(t, "config.yaml", Default())
	if err := SetValue(path, "llm.model", "gpt-4.1"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if json.Valid(raw) || !strings.Contains(string(raw), "model: gpt-4.1") {
		t.Errorf("expected YAML output, got:\n%s", raw)
	}
}
