package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" || cfg.MetricsNamespace != "ridecheck" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.LiveConnectTimeout != 10*time.Second || cfg.LiveTurnTimeout != 45*time.Second {
		t.Fatalf("live timeouts = %v/%v", cfg.LiveConnectTimeout, cfg.LiveTurnTimeout)
	}
	if cfg.LiveReconnectBase != time.Second || cfg.LiveReconnectMax != 30*time.Second || cfg.LiveReconnectMaxAttempts != 0 {
		t.Fatalf("reconnect policy = %v/%v/%d", cfg.LiveReconnectBase, cfg.LiveReconnectMax, cfg.LiveReconnectMaxAttempts)
	}
	if cfg.TranscribeProvider != "auto" || cfg.StorageProvider != "auto" {
		t.Fatalf("providers = %q/%q, want auto", cfg.TranscribeProvider, cfg.StorageProvider)
	}
	if cfg.GeminiAnalysisModel != "gemini-2.5-pro" {
		t.Fatalf("GeminiAnalysisModel = %q", cfg.GeminiAnalysisModel)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("LIVE_RECONNECT_MAX_ATTEMPTS", "5")
	t.Setenv("AWS_S3_PATH_STYLE", "yes")
	t.Setenv("AWS_S3_BUCKET", "  inspections  ")
	t.Setenv("TRANSCRIBE_PROVIDER", "openai")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" || cfg.LiveReconnectMaxAttempts != 5 || !cfg.S3PathStyle {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.S3Bucket != "inspections" {
		t.Fatalf("S3Bucket = %q, want trimmed value", cfg.S3Bucket)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"APP_SESSION_INACTIVITY_TIMEOUT": "1s",
		"LIVE_TURN_TIMEOUT":              "soon",
		"LIVE_RECONNECT_MAX":             "100ms",
		"LIVE_RECONNECT_MAX_ATTEMPTS":    "-1",
		"TRANSCRIBE_PROVIDER":            "deepgram",
		"STORAGE_PROVIDER":               "gcs",
		"APP_ALLOW_ANY_ORIGIN":           "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q succeeded", key, value)
			}
		})
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	setCoreEnvEmpty(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("APP_BIND_ADDR=:7000\nCHECKLIST_FILE=checklist.yaml\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("APP_BIND_ADDR", ":6000")
	// Setenv restores the original value on cleanup; unset so .env can fill it.
	t.Setenv("CHECKLIST_FILE", "")
	os.Unsetenv("CHECKLIST_FILE")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":6000" {
		t.Fatalf("BindAddr = %q, want env value to win", cfg.BindAddr)
	}
	if cfg.ChecklistFile != "checklist.yaml" {
		t.Fatalf("ChecklistFile = %q, want value from .env", cfg.ChecklistFile)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"GEMINI_API_KEY",
		"GEMINI_LIVE_URL",
		"GEMINI_LIVE_MODEL",
		"GEMINI_TRANSCRIBE_MODEL",
		"GEMINI_ANALYSIS_MODEL",
		"LIVE_CONNECT_TIMEOUT",
		"LIVE_TURN_TIMEOUT",
		"LIVE_RECONNECT_BASE",
		"LIVE_RECONNECT_MAX",
		"LIVE_RECONNECT_MAX_ATTEMPTS",
		"TRANSCRIBE_PROVIDER",
		"OPENAI_API_KEY",
		"OPENAI_TRANSCRIBE_MODEL",
		"STORAGE_PROVIDER",
		"AWS_S3_BUCKET",
		"AWS_REGION",
		"AWS_S3_ENDPOINT",
		"AWS_S3_PATH_STYLE",
		"AWS_S3_PUBLIC_BASE_URL",
		"DATABASE_URL",
		"INSPECTION_INSTRUCTIONS_FILE",
		"CAPTURE_LABELS",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
