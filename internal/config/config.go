package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the speech bridge.
type Config struct {
	Host             string
	Port             int
	PortScanWindow   int
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string

	CORSOrigins        []string
	RateLimitPerMinute int
	AllowAnyOrigin     bool

	EngineProfile      string
	EngineProfileFile  string
	EngineTimeout      time.Duration
	EngineRecordGrace  time.Duration
	EngineDefaultVoice string
	WhisperModelPath   string
	Language           string

	DefaultSpeed float64

	CaptureDir             string
	CaptureDefaultDuration int
	CaptureMaxDuration     int
	CaptureSerialize       bool

	ChatProvider     string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	ChatSystemPrompt string
	ChatTimeout      time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		Host:               envOrDefault("APP_HOST", "127.0.0.1"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "speechbridge"),
		LogLevel:           strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		CORSOrigins:        listFromEnv("APP_CORS_ORIGINS", []string{"*"}),
		EngineProfile:      strings.ToLower(envOrDefault("ENGINE_PROFILE", "auto")),
		EngineProfileFile:  trimmedEnv("ENGINE_PROFILE_FILE"),
		EngineDefaultVoice: trimmedEnv("ENGINE_DEFAULT_VOICE"),
		WhisperModelPath:   envOrDefault("ENGINE_WHISPER_MODEL", ".models/whisper/ggml-base.en.bin"),
		Language:           envOrDefault("ENGINE_LANGUAGE", "en"),
		CaptureDir:         envOrDefault("CAPTURE_DIR", filepath.Join(os.TempDir(), "speechbridge")),
		ChatProvider:       strings.ToLower(envOrDefault("CHAT_PROVIDER", "auto")),
		OpenAIAPIKey:       trimmedEnv("OPENAI_API_KEY"),
		OpenAIBaseURL:      trimmedEnv("OPENAI_BASE_URL"),
		OpenAIModel:        envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		ChatSystemPrompt:   trimmedEnv("CHAT_SYSTEM_PROMPT"),

		Port:                   3000,
		PortScanWindow:         100,
		ShutdownTimeout:        15 * time.Second,
		EngineTimeout:          30 * time.Second,
		EngineRecordGrace:      10 * time.Second,
		DefaultSpeed:           1.0,
		CaptureDefaultDuration: 5,
		CaptureMaxDuration:     60,
		CaptureSerialize:       true,
		ChatTimeout:            30 * time.Second,
	}

	var err error
	if cfg.Port, err = intFromEnv("APP_PORT", cfg.Port); err != nil {
		return Config{}, err
	}
	if cfg.PortScanWindow, err = intFromEnv("APP_PORT_SCAN_WINDOW", cfg.PortScanWindow); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitPerMinute, err = intFromEnv("APP_RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.EngineTimeout, err = durationFromEnv("ENGINE_TIMEOUT", cfg.EngineTimeout); err != nil {
		return Config{}, err
	}
	if cfg.EngineRecordGrace, err = durationFromEnv("ENGINE_RECORD_GRACE", cfg.EngineRecordGrace); err != nil {
		return Config{}, err
	}
	if cfg.DefaultSpeed, err = floatFromEnv("TTS_DEFAULT_SPEED", cfg.DefaultSpeed); err != nil {
		return Config{}, err
	}
	if cfg.CaptureDefaultDuration, err = intFromEnv("CAPTURE_DEFAULT_SECONDS", cfg.CaptureDefaultDuration); err != nil {
		return Config{}, err
	}
	if cfg.CaptureMaxDuration, err = intFromEnv("CAPTURE_MAX_SECONDS", cfg.CaptureMaxDuration); err != nil {
		return Config{}, err
	}
	if cfg.CaptureSerialize, err = boolFromEnv("CAPTURE_SERIALIZE", cfg.CaptureSerialize); err != nil {
		return Config{}, err
	}
	if cfg.ChatTimeout, err = durationFromEnv("CHAT_TIMEOUT", cfg.ChatTimeout); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("APP_PORT must be between 1 and 65535")
	}
	if c.PortScanWindow <= 0 {
		return fmt.Errorf("APP_PORT_SCAN_WINDOW must be positive")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("APP_RATE_LIMIT_PER_MINUTE must be >= 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid APP_LOG_LEVEL: %q (expected debug|info|warn|error)", c.LogLevel)
	}
	switch c.EngineProfile {
	case "auto", "windows", "linux", "darwin", "mock":
	default:
		return fmt.Errorf("invalid ENGINE_PROFILE: %q (expected auto|windows|linux|darwin|mock)", c.EngineProfile)
	}
	if c.EngineTimeout <= 0 {
		return fmt.Errorf("ENGINE_TIMEOUT must be positive")
	}
	if c.EngineRecordGrace < 0 {
		return fmt.Errorf("ENGINE_RECORD_GRACE must be >= 0")
	}
	if c.DefaultSpeed < 0.5 || c.DefaultSpeed > 2.0 {
		return fmt.Errorf("TTS_DEFAULT_SPEED must be between 0.5 and 2")
	}
	if c.CaptureMaxDuration < 1 {
		return fmt.Errorf("CAPTURE_MAX_SECONDS must be at least 1")
	}
	if c.CaptureDefaultDuration < 1 || c.CaptureDefaultDuration > c.CaptureMaxDuration {
		return fmt.Errorf("CAPTURE_DEFAULT_SECONDS must be between 1 and CAPTURE_MAX_SECONDS (%d)", c.CaptureMaxDuration)
	}
	switch c.ChatProvider {
	case "auto", "openai", "mock":
	default:
		return fmt.Errorf("invalid CHAT_PROVIDER: %q (expected auto|openai|mock)", c.ChatProvider)
	}
	if c.ChatProvider == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("CHAT_PROVIDER=openai but OPENAI_API_KEY is not set")
	}
	if c.ChatTimeout <= 0 {
		return fmt.Errorf("CHAT_TIMEOUT must be positive")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func listFromEnv(key string, fallback []string) []string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s parse error: not a finite number", key)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
