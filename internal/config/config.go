package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the inspection gateway.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string

	AllowAnyOrigin bool

	GeminiAPIKey          string
	GeminiLiveURL         string
	GeminiLiveModel       string
	GeminiTranscribeModel string
	GeminiAnalysisModel   string

	LiveConnectTimeout       time.Duration
	LiveTurnTimeout          time.Duration
	LiveReconnectBase        time.Duration
	LiveReconnectMax         time.Duration
	LiveReconnectMaxAttempts int

	TranscribeProvider    string
	OpenAIAPIKey          string
	OpenAITranscribeModel string

	StorageProvider string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3PathStyle     bool
	S3PublicBaseURL string

	DatabaseURL string

	ChecklistFile    string
	CaptureLabels    string
	InstructionsFile string
}

// LoadDotEnv loads KEY=value files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "ridecheck"),
		LogLevel:                 envOrDefault("APP_LOG_LEVEL", "info"),
		GeminiAPIKey:             stringsTrimSpace("GEMINI_API_KEY"),
		GeminiLiveURL:            envOrDefault("GEMINI_LIVE_URL", "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"),
		GeminiLiveModel:          envOrDefault("GEMINI_LIVE_MODEL", "models/gemini-2.0-flash-exp"),
		GeminiTranscribeModel:    envOrDefault("GEMINI_TRANSCRIBE_MODEL", "models/gemini-2.0-flash-exp"),
		GeminiAnalysisModel:      envOrDefault("GEMINI_ANALYSIS_MODEL", "gemini-2.5-pro"),
		TranscribeProvider:       envOrDefault("TRANSCRIBE_PROVIDER", "auto"),
		OpenAIAPIKey:             stringsTrimSpace("OPENAI_API_KEY"),
		OpenAITranscribeModel:    envOrDefault("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		StorageProvider:          envOrDefault("STORAGE_PROVIDER", "auto"),
		S3Bucket:                 stringsTrimSpace("AWS_S3_BUCKET"),
		S3Region:                 envOrDefault("AWS_REGION", "us-east-1"),
		S3Endpoint:               stringsTrimSpace("AWS_S3_ENDPOINT"),
		S3PublicBaseURL:          stringsTrimSpace("AWS_S3_PUBLIC_BASE_URL"),
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ChecklistFile:            stringsTrimSpace("CHECKLIST_FILE"),
		CaptureLabels:            stringsTrimSpace("CAPTURE_LABELS"),
		InstructionsFile:         stringsTrimSpace("INSPECTION_INSTRUCTIONS_FILE"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		LiveConnectTimeout:       10 * time.Second,
		LiveTurnTimeout:          45 * time.Second,
		LiveReconnectBase:        time.Second,
		LiveReconnectMax:         30 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.LiveConnectTimeout, err = durationFromEnv("LIVE_CONNECT_TIMEOUT", cfg.LiveConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LiveTurnTimeout, err = durationFromEnv("LIVE_TURN_TIMEOUT", cfg.LiveTurnTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LiveReconnectBase, err = durationFromEnv("LIVE_RECONNECT_BASE", cfg.LiveReconnectBase)
	if err != nil {
		return Config{}, err
	}
	cfg.LiveReconnectMax, err = durationFromEnv("LIVE_RECONNECT_MAX", cfg.LiveReconnectMax)
	if err != nil {
		return Config{}, err
	}
	cfg.LiveReconnectMaxAttempts, err = intFromEnv("LIVE_RECONNECT_MAX_ATTEMPTS", cfg.LiveReconnectMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.S3PathStyle, err = boolFromEnv("AWS_S3_PATH_STYLE", cfg.S3PathStyle)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.LiveConnectTimeout <= 0 || cfg.LiveTurnTimeout <= 0 {
		return Config{}, fmt.Errorf("LIVE_CONNECT_TIMEOUT and LIVE_TURN_TIMEOUT must be positive")
	}
	if cfg.LiveReconnectBase <= 0 || cfg.LiveReconnectMax < cfg.LiveReconnectBase {
		return Config{}, fmt.Errorf("LIVE_RECONNECT_MAX must be >= LIVE_RECONNECT_BASE > 0")
	}
	if cfg.LiveReconnectMaxAttempts < 0 {
		return Config{}, fmt.Errorf("LIVE_RECONNECT_MAX_ATTEMPTS must be >= 0")
	}
	switch strings.ToLower(cfg.TranscribeProvider) {
	case "auto", "gemini", "openai", "mock":
	default:
		return Config{}, fmt.Errorf("TRANSCRIBE_PROVIDER must be auto, gemini, openai or mock")
	}
	switch strings.ToLower(cfg.StorageProvider) {
	case "auto", "s3", "memory":
	default:
		return Config{}, fmt.Errorf("STORAGE_PROVIDER must be auto, s3 or memory")
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
