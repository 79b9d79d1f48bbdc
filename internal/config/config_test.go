package config

import (
	"os"
	"testing"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	os.Unsetenv("THERAPY_SERVER_URL")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.TherapyServerURL != "http://localhost:5000" {
		t.Errorf("Expected default TherapyServerURL 'http://localhost:5000', got '%s'", cfg.TherapyServerURL)
	}
	if cfg.Port != "8086" {
		t.Errorf("Expected default Port '8086', got '%s'", cfg.Port)
	}
	if cfg.TranscriptLimit != 50 {
		t.Errorf("Expected default TranscriptLimit 50, got %d", cfg.TranscriptLimit)
	}
	if cfg.TranscriptPath == "" {
		t.Error("Expected TranscriptPath to be resolved, got empty string")
	}
	if cfg.CameraWidth != 640 || cfg.CameraHeight != 480 {
		t.Errorf("Expected default camera resolution 640x480, got %dx%d", cfg.CameraWidth, cfg.CameraHeight)
	}
	if cfg.SnapshotWidth != 200 || cfg.SnapshotHeight != 150 {
		t.Errorf("Expected default snapshot raster 200x150, got %dx%d", cfg.SnapshotWidth, cfg.SnapshotHeight)
	}
	if cfg.SnapshotQuality != 80 {
		t.Errorf("Expected default SnapshotQuality 80, got %d", cfg.SnapshotQuality)
	}
	if cfg.AutoCaptureInterval != 10 {
		t.Errorf("Expected default AutoCaptureInterval 10, got %d", cfg.AutoCaptureInterval)
	}
	if cfg.StatusClearDelay != 3 {
		t.Errorf("Expected default StatusClearDelay 3, got %d", cfg.StatusClearDelay)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	os.Setenv("THERAPY_SERVER_URL", "http://therapy.internal:9000")
	os.Setenv("TRANSCRIPT_PATH", "/tmp/companion-test/transcript.json")
	os.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	defer os.Unsetenv("THERAPY_SERVER_URL")
	defer os.Unsetenv("TRANSCRIPT_PATH")
	defer os.Unsetenv("DEEPGRAM_API_KEY")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.TherapyServerURL != "http://therapy.internal:9000" {
		t.Errorf("Expected TherapyServerURL 'http://therapy.internal:9000', got '%s'", cfg.TherapyServerURL)
	}
	if cfg.TranscriptPath != "/tmp/companion-test/transcript.json" {
		t.Errorf("Expected TranscriptPath override, got '%s'", cfg.TranscriptPath)
	}
	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}
}

func TestLoadFromEnv_InvalidServerURL(t *testing.T) {
	os.Setenv("THERAPY_SERVER_URL", "://not-a-url")
	defer os.Unsetenv("THERAPY_SERVER_URL")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for invalid THERAPY_SERVER_URL")
	}
}

func TestLoadFromEnv_InvalidTranscriptLimit(t *testing.T) {
	os.Setenv("TRANSCRIPT_LIMIT", "0")
	defer os.Unsetenv("TRANSCRIPT_LIMIT")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for TRANSCRIPT_LIMIT 0")
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := &Config{RequestTimeout: 15, AutoCaptureInterval: 10, StatusClearDelay: 3}

	if cfg.HTTPTimeout().Seconds() != 15 {
		t.Errorf("Expected HTTPTimeout 15s, got %v", cfg.HTTPTimeout())
	}
	if cfg.AutoCapturePeriod().Seconds() != 10 {
		t.Errorf("Expected AutoCapturePeriod 10s, got %v", cfg.AutoCapturePeriod())
	}
	if cfg.StatusClearDelayDuration().Seconds() != 3 {
		t.Errorf("Expected StatusClearDelayDuration 3s, got %v", cfg.StatusClearDelayDuration())
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	if value := GetEnv("TEST_KEY", "default"); value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}
	if value := GetEnv("NON_EXISTENT_KEY", "default"); value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}
