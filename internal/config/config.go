package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the emotion companion client
type Config struct {
	// Local observability surface (/health, /ready, /metrics)
	Port string `envconfig:"PORT" default:"8086"`

	// Therapy server configuration
	TherapyServerURL string `envconfig:"THERAPY_SERVER_URL" default:"http://localhost:5000"`
	RequestTimeout   int    `envconfig:"REQUEST_TIMEOUT" default:"15"` // seconds

	// Transcript persistence
	TranscriptPath  string `envconfig:"TRANSCRIPT_PATH" default:""` // resolved below when empty
	TranscriptLimit int    `envconfig:"TRANSCRIPT_LIMIT" default:"50"`

	// Voice capture (Deepgram streaming STT). An empty key disables the
	// voice modality rather than failing startup.
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`
	MicInputFormat   string `envconfig:"MIC_INPUT_FORMAT" default:"pulse"` // ffmpeg -f value (pulse, alsa, avfoundation)
	MicInputDevice   string `envconfig:"MIC_INPUT_DEVICE" default:"default"`
	MicSampleRate    int    `envconfig:"MIC_SAMPLE_RATE" default:"16000"`

	// Camera capture
	CameraInputFormat   string `envconfig:"CAMERA_INPUT_FORMAT" default:"v4l2"`
	CameraInputDevice   string `envconfig:"CAMERA_INPUT_DEVICE" default:"/dev/video0"`
	CameraWidth         int    `envconfig:"CAMERA_WIDTH" default:"640"` // ideal capture resolution
	CameraHeight        int    `envconfig:"CAMERA_HEIGHT" default:"480"`
	SnapshotWidth       int    `envconfig:"SNAPSHOT_WIDTH" default:"200"` // analysis raster size
	SnapshotHeight      int    `envconfig:"SNAPSHOT_HEIGHT" default:"150"`
	SnapshotQuality     int    `envconfig:"SNAPSHOT_QUALITY" default:"80"`      // JPEG quality
	AutoCaptureInterval int    `envconfig:"AUTO_CAPTURE_INTERVAL" default:"10"` // seconds between automatic captures
	StatusClearDelay    int    `envconfig:"STATUS_CLEAR_DELAY" default:"3"`     // seconds before transient status resets

	// Speech-out synthesis. Empty URL disables speech-out.
	SpeechSynthURL    string `envconfig:"SPEECH_SYNTH_URL" default:""`
	SpeechSynthAPIKey string `envconfig:"SPEECH_SYNTH_API_KEY" default:""`
	SpeechVoiceID     string `envconfig:"SPEECH_VOICE_ID" default:"calm-female"`
	SpeechSampleRate  int    `envconfig:"SPEECH_SAMPLE_RATE" default:"24000"`

	// Media adapters
	FFmpegPath string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	FFplayPath string `envconfig:"FFPLAY_PATH" default:"ffplay"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables, preferring values from
// a .env file when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables without
// consulting a .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.TherapyServerURL == "" {
		return nil, fmt.Errorf("THERAPY_SERVER_URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.TherapyServerURL); err != nil {
		return nil, fmt.Errorf("invalid THERAPY_SERVER_URL: %w", err)
	}
	if cfg.TranscriptLimit <= 0 {
		return nil, fmt.Errorf("TRANSCRIPT_LIMIT must be positive")
	}

	if cfg.TranscriptPath == "" {
		cfg.TranscriptPath = defaultTranscriptPath()
	}

	return &cfg, nil
}

// HTTPTimeout returns the analysis request timeout as a duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// AutoCapturePeriod returns the camera auto-capture interval as a duration.
func (c *Config) AutoCapturePeriod() time.Duration {
	return time.Duration(c.AutoCaptureInterval) * time.Second
}

// StatusClearDelayDuration returns how long transient status messages stay up.
func (c *Config) StatusClearDelayDuration() time.Duration {
	return time.Duration(c.StatusClearDelay) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultTranscriptPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "transcript.json"
	}
	return filepath.Join(dir, "companion", "transcript.json")
}
