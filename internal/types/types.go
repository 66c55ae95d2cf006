// Package types defines the configuration and error types shared across the PDF translator.
package types

import "errors"

// Config 应用配置
type Config struct {
	APIKey         string `json:"api_key" yaml:"api_key"`
	BaseURL        string `json:"base_url" yaml:"base_url"` // OpenAI 兼容 API 的 Base URL
	Model          string `json:"model" yaml:"model"`
	Backend        string `json:"backend" yaml:"backend"` // "openai" 或 "eino"
	TargetLanguage string `json:"target_language" yaml:"target_language"`
	OutputSuffix   string `json:"output_suffix" yaml:"output_suffix"`
	FontPath       string `json:"font_path" yaml:"font_path"` // TTF/OTF/TTC，需覆盖目标语言字形
	FontIndex      int    `json:"font_index" yaml:"font_index"` // TTC 中使用的字形面

	// 并发与限流
	Workers           int `json:"workers" yaml:"workers"`
	ClientPoolSize    int `json:"client_pool_size" yaml:"client_pool_size"`
	RateMaxCalls      int `json:"rate_max_calls" yaml:"rate_max_calls"`
	RatePeriodSeconds int `json:"rate_period_seconds" yaml:"rate_period_seconds"`

	// 每日配额
	DailyLimit int64  `json:"daily_limit" yaml:"daily_limit"`
	QuotaReset string `json:"quota_reset" yaml:"quota_reset"` // "none" 或 "daily"
	RedisAddr  string `json:"redis_addr" yaml:"redis_addr"`   // 非空时配额计数存放在 Redis

	// 重试
	RetryMaxAttempts       int `json:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryMaxElapsedSeconds int `json:"retry_max_elapsed_seconds" yaml:"retry_max_elapsed_seconds"`
	RetryBaseDelayMs       int `json:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RequestTimeoutSeconds  int `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`

	UndeterminedPolicy string   `json:"undetermined_policy" yaml:"undetermined_policy"` // "skip" 或 "translate"
	MinFontSize        float64  `json:"min_font_size" yaml:"min_font_size"`
	ShrinkFactor       float64  `json:"shrink_factor" yaml:"shrink_factor"`
	Temperature        *float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`

	LogFile  string `json:"log_file" yaml:"log_file"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// ErrorCode 错误代码枚举
type ErrorCode string

const (
	ErrNetwork      ErrorCode = "NETWORK_ERROR"
	ErrFileNotFound ErrorCode = "FILE_NOT_FOUND"
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	ErrAPICall      ErrorCode = "API_CALL_ERROR"
	ErrAPIRateLimit ErrorCode = "API_RATE_LIMIT"
	ErrConfig       ErrorCode = "CONFIG_ERROR"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrTranslation  ErrorCode = "TRANSLATION_ERROR"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface for AppError
func (e *AppError) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new AppError with the given code, message, and optional cause
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorWithDetails creates a new AppError with details
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// IsCode reports whether err is an AppError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var ae *AppError
	return errors.As(err, &ae) && ae.Code == code
}
