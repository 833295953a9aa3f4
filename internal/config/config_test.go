package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for logLevel=verbose")
	}
}

func TestValidate_ValidLogLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error"} {
		cfg := Defaults()
		cfg.General.LogLevel = level
		if err := Validate(cfg); err != nil {
			t.Fatalf("logLevel %q should be valid: %v", level, err)
		}
	}
}

func TestValidate_MissingDBPath(t *testing.T) {
	cfg := Defaults()
	cfg.WhatsApp.DBPath = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty dbPath")
	}
}

func TestValidate_MissingAPIBase(t *testing.T) {
	cfg := Defaults()
	cfg.AI.APIBase = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty apiBase")
	}
}

func TestValidate_PollInterval_Bounds(t *testing.T) {
	cfg := Defaults()
	cfg.AI.PollIntervalMs = 10
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for pollIntervalMs=10")
	}

	cfg = Defaults()
	cfg.AI.PollIntervalMs = 60000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for pollIntervalMs=60000")
	}

	cfg = Defaults()
	cfg.AI.PollIntervalMs = 50
	if err := Validate(cfg); err != nil {
		t.Fatalf("pollIntervalMs=50 should be valid: %v", err)
	}
}

func TestValidate_PollTimeout_TooLow(t *testing.T) {
	cfg := Defaults()
	cfg.AI.PollTimeoutSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for pollTimeoutSeconds=0")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.API.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.API.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_EnabledAPIRequiresPort(t *testing.T) {
	cfg := Defaults()
	cfg.API.Enabled = true
	cfg.API.Port = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled API with port=0")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.AI.APIBase = "http://ai.test:9000"
	original.WhatsApp.DBPath = filepath.Join(dir, "session.db")

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.AI.APIBase != "http://ai.test:9000" {
		t.Fatalf("expected 'http://ai.test:9000', got %q", loaded.AI.APIBase)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	// Invalid: pollTimeoutSeconds=0
	content := `{
		"aiApi": {
			"pollTimeoutSeconds": 0
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for pollTimeoutSeconds=0")
	}
}

func TestLoad_ExpandsDBPath(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{"whatsapp": {"dbPath": "~/session.db"}}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	home, _ := os.UserHomeDir()
	if cfg.WhatsApp.DBPath != filepath.Join(home, "session.db") {
		t.Fatalf("dbPath not expanded: %q", cfg.WhatsApp.DBPath)
	}
}

// --- Sanitize ---

func TestSanitize_MasksAPIKey(t *testing.T) {
	cfg := Defaults()
	cfg.API.APIKey = "wab-1234567890abcdefghijklmnop"

	sanitized := Sanitize(cfg)

	if sanitized.API.APIKey == cfg.API.APIKey {
		t.Fatal("API key should be masked")
	}
	// Verify original is untouched
	if cfg.API.APIKey != "wab-1234567890abcdefghijklmnop" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.API.APIKey = "short"
	sanitized := Sanitize(cfg)
	if sanitized.API.APIKey != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.API.APIKey)
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	input := `["hello", 123, "world", 456.0]`
	var list FlexStringList
	if err := json.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 items, got %d", len(list))
	}
	if list[0] != "hello" || list[2] != "world" {
		t.Fatal("string items mismatch")
	}
	if list[1] != "123" || list[3] != "456" {
		t.Fatalf("number conversion mismatch: %v", list)
	}
}

func TestFlexStringList_PureStrings(t *testing.T) {
	input := `["a", "b", "c"]`
	var list FlexStringList
	if err := json.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 3 || list[0] != "a" {
		t.Fatalf("unexpected: %v", list)
	}
}

func TestFlexStringList_InvalidJSON(t *testing.T) {
	var list FlexStringList
	err := json.Unmarshal([]byte(`not json`), &list)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "wab-abc123")
	result := ExpandEnvVars(`{"apiKey": "${TEST_API_KEY}"}`)
	expected := `{"apiKey": "wab-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	// Ensure the var is unset
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	expected := `{"port": "8080"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	result := ExpandEnvVars(`{"port": "${MY_PORT:-8080}"}`)
	expected := `{"port": "9090"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_MultipleVars(t *testing.T) {
	t.Setenv("HOST", "localhost")
	t.Setenv("PORT", "3000")
	result := ExpandEnvVars(`"${HOST}:${PORT}"`)
	expected := `"localhost:3000"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_NoVarsInInput(t *testing.T) {
	input := `{"key": "value", "number": 42}`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change, got %q", result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_WABRIDGE_API", "http://ai.example:8000")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"aiApi": {
			"apiBase": "${TEST_WABRIDGE_API}"
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.AI.APIBase != "http://ai.example:8000" {
		t.Fatalf("expected apiBase 'http://ai.example:8000', got %q", cfg.AI.APIBase)
	}
}

// --- Defaults ---

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if cfg == nil {
		t.Fatal("defaults returned nil")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.AI.APIBase == "" {
		t.Fatal("apiBase should not be empty")
	}
	if cfg.AI.PollIntervalMs != 500 {
		t.Fatalf("default poll interval should be 500ms, got %d", cfg.AI.PollIntervalMs)
	}
	if cfg.API.Port != 3001 {
		t.Fatalf("default API port should be 3001, got %d", cfg.API.Port)
	}
}
