package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pdf-translator/internal/types"
)

func envMap(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

func newTestManager(t *testing.T, name, content string, env map[string]string) *ConfigManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if content != "" {
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
	}
	cm, err := NewConfigManager(path)
	if err != nil {
		t.Fatalf("NewConfigManager failed: %v", err)
	}
	cm.getenv = envMap(env)
	return cm
}

func TestNewConfigManager(t *testing.T) {
	t.Run("with custom path", func(t *testing.T) {
		customPath := filepath.Join(t.TempDir(), "custom.json")
		cm, err := NewConfigManager(customPath)
		if err != nil {
			t.Fatalf("NewConfigManager failed: %v", err)
		}
		if cm.GetConfigPath() != customPath {
			t.Errorf("expected config path %s, got %s", customPath, cm.GetConfigPath())
		}
	})

	t.Run("env path", func(t *testing.T) {
		envPath := filepath.Join(t.TempDir(), "env.yaml")
		t.Setenv(EnvConfigPath, envPath)
		cm, err := NewConfigManager("")
		if err != nil {
			t.Fatalf("NewConfigManager failed: %v", err)
		}
		if cm.GetConfigPath() != envPath {
			t.Errorf("expected %s, got %s", envPath, cm.GetConfigPath())
		}
	})

	t.Run("default path", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		cm, err := NewConfigManager("")
		if err != nil {
			t.Fatalf("NewConfigManager failed: %v", err)
		}
		if !strings.HasSuffix(cm.GetConfigPath(), filepath.Join("pdf-translator", DefaultConfigFileName)) {
			t.Errorf("unexpected default path %s", cm.GetConfigPath())
		}
	})
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cm := newTestManager(t, "missing.json", "", nil)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := cm.GetConfig()
	if cfg.Model != DefaultModel {
		t.Errorf("expected model %s, got %s", DefaultModel, cfg.Model)
	}
	if cfg.Workers != DefaultWorkers || cfg.ClientPoolSize != DefaultClientPoolSize {
		t.Errorf("unexpected pool sizes %d/%d", cfg.Workers, cfg.ClientPoolSize)
	}
	if cfg.RateMaxCalls != 450 || cfg.RatePeriodSeconds != 60 {
		t.Errorf("unexpected rate %d/%d", cfg.RateMaxCalls, cfg.RatePeriodSeconds)
	}
	if cfg.DailyLimit != 9900 {
		t.Errorf("expected daily limit 9900, got %d", cfg.DailyLimit)
	}
	if cfg.TargetLanguage != DefaultTargetLanguage {
		t.Errorf("expected target %s, got %s", DefaultTargetLanguage, cfg.TargetLanguage)
	}
}

func TestLoadJSON(t *testing.T) {
	cm := newTestManager(t, "config.json", `{
		"api_key": "sk-file",
		"model": "gpt-4o",
		"workers": 4,
		"quota_reset": "daily"
	}`, nil)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := cm.GetConfig()
	if cfg.APIKey != "sk-file" || cfg.Model != "gpt-4o" || cfg.Workers != 4 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.QuotaReset != QuotaResetDaily {
		t.Errorf("expected daily reset, got %s", cfg.QuotaReset)
	}
	// fields absent from the file keep their defaults
	if cfg.ShrinkFactor != DefaultShrinkFactor || cfg.BaseURL != DefaultBaseURL {
		t.Errorf("defaults not filled: shrink=%g base=%s", cfg.ShrinkFactor, cfg.BaseURL)
	}
}

func TestLoadYAML(t *testing.T) {
	cm := newTestManager(t, "config.yaml", `
api_key: sk-yaml
backend: eino
target_language: Deutsch
temperature: 0.2
undetermined_policy: translate
`, nil)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := cm.GetConfig()
	if cfg.APIKey != "sk-yaml" || cfg.Backend != "eino" || cfg.TargetLanguage != "Deutsch" {
		t.Errorf("yaml values not applied: %+v", cfg)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", cfg.Temperature)
	}
	if cfg.UndeterminedPolicy != UndeterminedTranslate {
		t.Errorf("expected translate policy, got %s", cfg.UndeterminedPolicy)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	cm := newTestManager(t, "config.json", `{not json`, nil)
	err := cm.Load()
	if err == nil {
		t.Fatal("expected error for malformed config")
	}
	if !types.IsCode(err, types.ErrConfig) {
		t.Errorf("expected CONFIG_ERROR, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(*types.Config) bool
	}{
		{"api key", map[string]string{EnvOpenAIAPIKey: "sk-env"}, func(c *types.Config) bool { return c.APIKey == "sk-env" }},
		{"legacy api key", map[string]string{EnvLegacyAPIKey: "sk-legacy"}, func(c *types.Config) bool { return c.APIKey == "sk-legacy" }},
		{"primary wins over legacy", map[string]string{EnvOpenAIAPIKey: "a", EnvLegacyAPIKey: "b"}, func(c *types.Config) bool { return c.APIKey == "a" }},
		{"base url", map[string]string{EnvOpenAIBaseURL: "http://localhost:8080/v1"}, func(c *types.Config) bool { return c.BaseURL == "http://localhost:8080/v1" }},
		{"model", map[string]string{EnvOpenAIModel: "gpt-4o"}, func(c *types.Config) bool { return c.Model == "gpt-4o" }},
		{"backend", map[string]string{EnvBackend: "eino"}, func(c *types.Config) bool { return c.Backend == "eino" }},
		{"target", map[string]string{EnvTargetLanguage: "日本語"}, func(c *types.Config) bool { return c.TargetLanguage == "日本語" }},
		{"font", map[string]string{EnvFontPath: "/fonts/noto.ttf"}, func(c *types.Config) bool { return c.FontPath == "/fonts/noto.ttf" }},
		{"redis", map[string]string{EnvRedisAddr: "localhost:6379"}, func(c *types.Config) bool { return c.RedisAddr == "localhost:6379" }},
		{"log level", map[string]string{EnvLogLevel: "debug"}, func(c *types.Config) bool { return c.LogLevel == "debug" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm := newTestManager(t, "config.json", `{"api_key": "sk-file"}`, tt.env)
			if err := cm.Load(); err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !tt.check(cm.GetConfig()) {
				t.Errorf("override not applied: %+v", cm.GetConfig())
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *types.Config {
		cfg := DefaultConfig()
		cfg.APIKey = "sk-test"
		return cfg
	}

	if err := Validate(valid()); err != nil {
		t.Fatalf("default config with key should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*types.Config)
	}{
		{"missing key", func(c *types.Config) { c.APIKey = " " }},
		{"unknown backend", func(c *types.Config) { c.Backend = "carrier-pigeon" }},
		{"zero workers", func(c *types.Config) { c.Workers = 0 }},
		{"zero pool", func(c *types.Config) { c.ClientPoolSize = 0 }},
		{"zero rate", func(c *types.Config) { c.RateMaxCalls = 0 }},
		{"negative limit", func(c *types.Config) { c.DailyLimit = -1 }},
		{"bad reset", func(c *types.Config) { c.QuotaReset = "weekly" }},
		{"zero attempts", func(c *types.Config) { c.RetryMaxAttempts = 0 }},
		{"bad policy", func(c *types.Config) { c.UndeterminedPolicy = "maybe" }},
		{"shrink one", func(c *types.Config) { c.ShrinkFactor = 1 }},
		{"min font zero", func(c *types.Config) { c.MinFontSize = 0 }},
		{"negative face", func(c *types.Config) { c.FontIndex = -1 }},
		{"face without collection", func(c *types.Config) { c.FontPath = "/fonts/noto.ttf"; c.FontIndex = 1 }},
		{"bad log level", func(c *types.Config) { c.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var appErr *types.AppError
			if !errors.As(err, &appErr) || appErr.Code != types.ErrConfig {
				t.Errorf("expected CONFIG_ERROR, got %v", err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cm, err := NewConfigManager(path)
			if err != nil {
				t.Fatalf("NewConfigManager failed: %v", err)
			}
			cm.getenv = envMap(nil)

			cfg := DefaultConfig()
			cfg.APIKey = "sk-saved"
			cfg.FontPath = "/fonts/cjk.ttc"
			cm.SetConfig(cfg)
			if err := cm.Save(); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("config file not written: %v", err)
			}
			if info.Mode().Perm() != 0600 {
				t.Errorf("expected 0600 permissions, got %v", info.Mode().Perm())
			}

			cm2, _ := NewConfigManager(path)
			cm2.getenv = envMap(nil)
			if err := cm2.Load(); err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			got := cm2.GetConfig()
			if got.APIKey != "sk-saved" || got.FontPath != "/fonts/cjk.ttc" {
				t.Errorf("round trip lost values: %+v", got)
			}
		})
	}
}
