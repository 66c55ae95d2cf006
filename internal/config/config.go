// Package config provides configuration management for the PDF translator.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"pdf-translator/internal/llm"
	"pdf-translator/internal/logger"
	"pdf-translator/internal/types"
)

const (
	// DefaultConfigFileName is the default configuration file name
	DefaultConfigFileName = "pdf-translator-config.json"

	EnvConfigPath     = "PDFTRANS_CONFIG"
	EnvOpenAIAPIKey   = "OPENAI_API_KEY"
	EnvLegacyAPIKey   = "OPENAI_APIKEY"
	EnvOpenAIBaseURL  = "OPENAI_BASE_URL"
	EnvOpenAIModel    = "OPENAI_MODEL"
	EnvBackend        = "PDFTRANS_BACKEND"
	EnvTargetLanguage = "PDFTRANS_TARGET_LANGUAGE"
	EnvFontPath       = "PDFTRANS_FONT"
	EnvRedisAddr      = "PDFTRANS_REDIS_ADDR"
	EnvLogLevel       = "PDFTRANS_LOG_LEVEL"

	DefaultBaseURL         = "https://api.openai.com/v1"
	DefaultModel           = "gpt-4o-mini"
	DefaultBackend         = llm.BackendOpenAI
	DefaultTargetLanguage  = "简体中文"
	DefaultOutputSuffix    = "zh"
	DefaultWorkers         = 20
	DefaultClientPoolSize  = 10
	DefaultRateMaxCalls    = 450
	DefaultRatePeriod      = 60
	DefaultDailyLimit      = 9900
	DefaultRetryAttempts   = 5
	DefaultRetryMaxElapsed = 300
	DefaultRetryBaseDelay  = 1000
	DefaultRequestTimeout  = 120
	DefaultMinFontSize     = 1.0
	DefaultShrinkFactor    = 0.9

	QuotaResetNone  = "none"
	QuotaResetDaily = "daily"

	UndeterminedSkip      = "skip"
	UndeterminedTranslate = "translate"
)

// ConfigManager manages application configuration
type ConfigManager struct {
	configPath string
	config     *types.Config
	getenv     func(string) string
}

// NewConfigManager creates a new ConfigManager with the specified config path.
// An empty path falls back to $PDFTRANS_CONFIG, then to the default path in
// the user's home directory.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	if configPath == "" {
		configPath = os.Getenv(EnvConfigPath)
	}
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Error("failed to get user home directory", err)
			return nil, types.NewAppError(types.ErrConfig, "failed to get user home directory", err)
		}
		configPath = filepath.Join(homeDir, ".config", "pdf-translator", DefaultConfigFileName)
	}

	logger.Debug("ConfigManager initialized", logger.String("configPath", configPath))
	return &ConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		getenv:     os.Getenv,
	}, nil
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *types.Config {
	return &types.Config{
		BaseURL:                DefaultBaseURL,
		Model:                  DefaultModel,
		Backend:                DefaultBackend,
		TargetLanguage:         DefaultTargetLanguage,
		OutputSuffix:           DefaultOutputSuffix,
		Workers:                DefaultWorkers,
		ClientPoolSize:         DefaultClientPoolSize,
		RateMaxCalls:           DefaultRateMaxCalls,
		RatePeriodSeconds:      DefaultRatePeriod,
		DailyLimit:             DefaultDailyLimit,
		QuotaReset:             QuotaResetNone,
		RetryMaxAttempts:       DefaultRetryAttempts,
		RetryMaxElapsedSeconds: DefaultRetryMaxElapsed,
		RetryBaseDelayMs:       DefaultRetryBaseDelay,
		RequestTimeoutSeconds:  DefaultRequestTimeout,
		UndeterminedPolicy:     UndeterminedSkip,
		MinFontSize:            DefaultMinFontSize,
		ShrinkFactor:           DefaultShrinkFactor,
		LogLevel:               "info",
	}
}

// Load reads the config file (JSON, or YAML for .yaml/.yml), fills empty
// fields with defaults and applies environment overrides.
// A missing file is not an error.
func (m *ConfigManager) Load() error {
	logger.Debug("loading configuration", logger.String("path", m.configPath))

	cfg := DefaultConfig()
	data, err := os.ReadFile(m.configPath)
	switch {
	case err == nil:
		if err := unmarshal(m.configPath, data, cfg); err != nil {
			logger.Error("invalid config file format", err, logger.String("path", m.configPath))
			return types.NewAppErrorWithDetails(types.ErrConfig, "invalid config file", m.configPath, err)
		}
		logger.Info("configuration loaded",
			logger.String("path", m.configPath),
			logger.String("backend", cfg.Backend),
			logger.String("model", cfg.Model))
	case os.IsNotExist(err):
		logger.Info("config file not found, using defaults", logger.String("path", m.configPath))
	default:
		logger.Error("failed to read config file", err, logger.String("path", m.configPath))
		return types.NewAppError(types.ErrConfig, "failed to read config file", err)
	}

	applyDefaults(cfg)
	m.applyEnv(cfg)
	m.config = cfg
	return nil
}

func unmarshal(path string, data []byte, cfg *types.Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// applyDefaults fills zero-valued fields left empty by a partial config file.
func applyDefaults(cfg *types.Config) {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Backend == "" {
		cfg.Backend = def.Backend
	}
	if cfg.TargetLanguage == "" {
		cfg.TargetLanguage = def.TargetLanguage
	}
	if cfg.OutputSuffix == "" {
		cfg.OutputSuffix = def.OutputSuffix
	}
	if cfg.Workers == 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ClientPoolSize == 0 {
		cfg.ClientPoolSize = def.ClientPoolSize
	}
	if cfg.RateMaxCalls == 0 {
		cfg.RateMaxCalls = def.RateMaxCalls
	}
	if cfg.RatePeriodSeconds == 0 {
		cfg.RatePeriodSeconds = def.RatePeriodSeconds
	}
	if cfg.DailyLimit == 0 {
		cfg.DailyLimit = def.DailyLimit
	}
	if cfg.QuotaReset == "" {
		cfg.QuotaReset = def.QuotaReset
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if cfg.RetryMaxElapsedSeconds == 0 {
		cfg.RetryMaxElapsedSeconds = def.RetryMaxElapsedSeconds
	}
	if cfg.RetryBaseDelayMs == 0 {
		cfg.RetryBaseDelayMs = def.RetryBaseDelayMs
	}
	if cfg.RequestTimeoutSeconds == 0 {
		cfg.RequestTimeoutSeconds = def.RequestTimeoutSeconds
	}
	if cfg.UndeterminedPolicy == "" {
		cfg.UndeterminedPolicy = def.UndeterminedPolicy
	}
	if cfg.MinFontSize == 0 {
		cfg.MinFontSize = def.MinFontSize
	}
	if cfg.ShrinkFactor == 0 {
		cfg.ShrinkFactor = def.ShrinkFactor
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
}

func (m *ConfigManager) applyEnv(cfg *types.Config) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := m.getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	set(&cfg.APIKey, EnvOpenAIAPIKey, EnvLegacyAPIKey)
	set(&cfg.BaseURL, EnvOpenAIBaseURL)
	set(&cfg.Model, EnvOpenAIModel)
	set(&cfg.Backend, EnvBackend)
	set(&cfg.TargetLanguage, EnvTargetLanguage)
	set(&cfg.FontPath, EnvFontPath)
	set(&cfg.RedisAddr, EnvRedisAddr)
	set(&cfg.LogLevel, EnvLogLevel)
}

// Validate checks the loaded configuration and returns a CONFIG_ERROR
// describing the first problem found.
func (m *ConfigManager) Validate() error {
	return Validate(m.GetConfig())
}

// Validate checks cfg for missing credentials, unknown names and
// out-of-range numbers.
func Validate(cfg *types.Config) error {
	fail := func(format string, args ...interface{}) error {
		return types.NewAppErrorWithDetails(types.ErrConfig, "invalid configuration", fmt.Sprintf(format, args...), nil)
	}

	if !llm.Registered(cfg.Backend) {
		return fail("unknown backend %q (available: %s)", cfg.Backend, strings.Join(llm.Backends(), ", "))
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return fail("API key is not set; use api_key or $%s", EnvOpenAIAPIKey)
	}
	if cfg.Workers < 1 {
		return fail("workers must be >= 1, got %d", cfg.Workers)
	}
	if cfg.ClientPoolSize < 1 {
		return fail("client_pool_size must be >= 1, got %d", cfg.ClientPoolSize)
	}
	if cfg.RateMaxCalls < 1 || cfg.RatePeriodSeconds < 1 {
		return fail("rate limit must be positive, got %d calls per %ds", cfg.RateMaxCalls, cfg.RatePeriodSeconds)
	}
	if cfg.DailyLimit < 0 {
		return fail("daily_limit must be >= 0, got %d", cfg.DailyLimit)
	}
	if cfg.QuotaReset != QuotaResetNone && cfg.QuotaReset != QuotaResetDaily {
		return fail("quota_reset must be %q or %q, got %q", QuotaResetNone, QuotaResetDaily, cfg.QuotaReset)
	}
	if cfg.RetryMaxAttempts < 1 {
		return fail("retry_max_attempts must be >= 1, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.UndeterminedPolicy != UndeterminedSkip && cfg.UndeterminedPolicy != UndeterminedTranslate {
		return fail("undetermined_policy must be %q or %q, got %q", UndeterminedSkip, UndeterminedTranslate, cfg.UndeterminedPolicy)
	}
	if cfg.ShrinkFactor <= 0 || cfg.ShrinkFactor >= 1 {
		return fail("shrink_factor must be in (0, 1), got %g", cfg.ShrinkFactor)
	}
	if cfg.FontIndex < 0 {
		return fail("font_index must be >= 0, got %d", cfg.FontIndex)
	}
	if cfg.FontIndex > 0 && !strings.EqualFold(filepath.Ext(cfg.FontPath), ".ttc") {
		return fail("font_index %d needs a .ttc font_path", cfg.FontIndex)
	}
	if cfg.MinFontSize <= 0 {
		return fail("min_font_size must be > 0, got %g", cfg.MinFontSize)
	}
	if _, err := logger.ParseLevel(cfg.LogLevel); err != nil {
		return fail("%v", err)
	}
	return nil
}

// Save saves the current configuration to the config file.
func (m *ConfigManager) Save() error {
	logger.Debug("saving configuration", logger.String("path", m.configPath))

	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Error("failed to create config directory", err, logger.String("dir", dir))
		return types.NewAppError(types.ErrConfig, "failed to create config directory", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(m.configPath)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(m.config)
	default:
		data, err = json.MarshalIndent(m.config, "", "  ")
	}
	if err != nil {
		logger.Error("failed to marshal config", err)
		return types.NewAppError(types.ErrConfig, "failed to marshal config", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		logger.Error("failed to write config file", err, logger.String("path", m.configPath))
		return types.NewAppError(types.ErrConfig, "failed to write config file", err)
	}

	logger.Info("configuration saved successfully", logger.String("path", m.configPath))
	return nil
}

// GetConfig returns the current configuration.
func (m *ConfigManager) GetConfig() *types.Config {
	if m.config == nil {
		return DefaultConfig()
	}
	return m.config
}

// SetConfig sets the entire configuration.
func (m *ConfigManager) SetConfig(config *types.Config) {
	m.config = config
}

// GetConfigPath returns the path to the config file.
func (m *ConfigManager) GetConfigPath() string {
	return m.configPath
}
