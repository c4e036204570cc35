package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voicedesk care service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Voice bridge limits. The queue wait, link establishment and session
	// idle timers are independent and must never be conflated.
	MaxConcurrentLinks int
	QueueTimeout       time.Duration
	ConnectTimeout     time.Duration
	ConnectRetries     int
	ConnectRetryDelay  time.Duration
	IdleLinkTimeout    time.Duration
	IdleSessionTimeout time.Duration
	ReaperInterval     time.Duration

	EscalationThreshold float64

	VoiceWSBaseURL  string
	VoiceAPIKey     string
	VoiceDefaultID  string
	VoiceStyle      string
	VoiceRate       float64
	VoicePitch      float64
	VoiceVariation  float64
	VoiceSampleRate int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OpenAIAPIKey  string
	OpenAIBaseURL string
	ReplyModel    string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "voicedesk"),
		AllowAnyOrigin:      false,
		ShutdownTimeout:     15 * time.Second,
		MaxConcurrentLinks:  8,
		QueueTimeout:        30 * time.Second,
		ConnectTimeout:      10 * time.Second,
		ConnectRetries:      3,
		ConnectRetryDelay:   2 * time.Second,
		IdleLinkTimeout:     30 * time.Minute,
		IdleSessionTimeout:  30 * time.Minute,
		ReaperInterval:      5 * time.Minute,
		EscalationThreshold: 0.7,
		VoiceWSBaseURL:      envOrDefault("VOICE_WS_BASE_URL", "wss://voice.upstream.example"),
		VoiceAPIKey:         stringsTrimSpace("VOICE_API_KEY"),
		VoiceDefaultID:      envOrDefault("VOICE_DEFAULT_ID", "care_female_01"),
		VoiceStyle:          envOrDefault("VOICE_STYLE", "customer_service"),
		VoiceRate:           1.0,
		VoicePitch:          1.0,
		VoiceVariation:      0.3,
		VoiceSampleRate:     16000,
		RedisAddr:           stringsTrimSpace("REDIS_ADDR"),
		RedisPassword:       stringsTrimSpace("REDIS_PASSWORD"),
		RedisDB:             0,
		OpenAIAPIKey:        stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:       stringsTrimSpace("OPENAI_BASE_URL"),
		ReplyModel:          envOrDefault("REPLY_MODEL", "gpt-4o-mini"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConcurrentLinks, err = intFromEnv("MAX_CONCURRENT_LINKS", cfg.MaxConcurrentLinks)
	if err != nil {
		return Config{}, err
	}
	cfg.QueueTimeout, err = durationFromEnv("QUEUE_TIMEOUT", cfg.QueueTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectTimeout, err = durationFromEnv("CONNECT_TIMEOUT", cfg.ConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectRetries, err = intFromEnv("CONNECT_RETRIES", cfg.ConnectRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectRetryDelay, err = durationFromEnv("CONNECT_RETRY_DELAY", cfg.ConnectRetryDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.IdleLinkTimeout, err = durationFromEnv("IDLE_LINK_TIMEOUT", cfg.IdleLinkTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.IdleSessionTimeout, err = durationFromEnv("IDLE_SESSION_TIMEOUT", cfg.IdleSessionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ReaperInterval, err = durationFromEnv("REAPER_INTERVAL", cfg.ReaperInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.EscalationThreshold, err = floatFromEnv("ESCALATION_THRESHOLD", cfg.EscalationThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceRate, err = floatFromEnv("VOICE_RATE", cfg.VoiceRate)
	if err != nil {
		return Config{}, err
	}
	cfg.VoicePitch, err = floatFromEnv("VOICE_PITCH", cfg.VoicePitch)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceVariation, err = floatFromEnv("VOICE_VARIATION", cfg.VoiceVariation)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceSampleRate, err = intFromEnv("VOICE_SAMPLE_RATE", cfg.VoiceSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisDB, err = intFromEnv("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.MaxConcurrentLinks < 1 {
		return Config{}, fmt.Errorf("MAX_CONCURRENT_LINKS must be at least 1")
	}
	if cfg.ConnectRetries < 1 {
		return Config{}, fmt.Errorf("CONNECT_RETRIES must be at least 1")
	}
	if cfg.QueueTimeout <= 0 {
		return Config{}, fmt.Errorf("QUEUE_TIMEOUT must be positive")
	}
	if cfg.ConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("CONNECT_TIMEOUT must be positive")
	}
	if cfg.IdleLinkTimeout < time.Minute {
		return Config{}, fmt.Errorf("IDLE_LINK_TIMEOUT must be at least 1m")
	}
	if cfg.IdleSessionTimeout < time.Minute {
		return Config{}, fmt.Errorf("IDLE_SESSION_TIMEOUT must be at least 1m")
	}
	if cfg.EscalationThreshold < 0 || cfg.EscalationThreshold > 1 {
		return Config{}, fmt.Errorf("ESCALATION_THRESHOLD must be within [0,1]")
	}
	if cfg.VoiceSampleRate <= 0 {
		return Config{}, fmt.Errorf("VOICE_SAMPLE_RATE must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
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
	v := stringsTrimSpace(key)
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
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
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
