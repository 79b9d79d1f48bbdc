package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emosense/companion/internal/analysis"
	"github.com/emosense/companion/internal/capture"
	"github.com/emosense/companion/internal/chat"
	"github.com/emosense/companion/internal/config"
	"github.com/emosense/companion/internal/controller"
	"github.com/emosense/companion/internal/media"
	"github.com/emosense/companion/internal/observability"
	"github.com/emosense/companion/internal/resilience"
	"github.com/emosense/companion/internal/stt"
	"github.com/emosense/companion/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("therapy_server_url", cfg.TherapyServerURL).
		Str("transcript_path", cfg.TranscriptPath).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Emotion companion starting")

	// Probe capture capabilities once at startup
	caps := capture.Probe(cfg.FFmpegPath, cfg.DeepgramAPIKey, cfg.CameraInputDevice)

	// Therapy server client
	retryCfg := &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
	therapy := analysis.NewClient(cfg.TherapyServerURL, cfg.HTTPTimeout(), retryCfg)

	// Speech-out, disabled when no synthesis endpoint is configured
	var speaker tts.Speaker = tts.NoopSpeaker{}
	if cfg.SpeechSynthURL != "" {
		breaker := resilience.NewCircuitBreaker(
			"synthesis",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		)
		player := media.NewPCMPlayer(media.PlayerConfig{
			Command:    cfg.FFplayPath,
			SampleRate: cfg.SpeechSampleRate,
		})
		speaker = tts.NewSynthSpeaker(tts.SynthConfig{
			URL:        cfg.SpeechSynthURL,
			APIKey:     cfg.SpeechSynthAPIKey,
			VoiceID:    cfg.SpeechVoiceID,
			SampleRate: cfg.SpeechSampleRate,
		}, player, breaker)
	}

	// Coordinator and capture sessions
	transcript := chat.NewTranscriptStore(cfg.TranscriptPath, cfg.TranscriptLimit,
		observability.WithComponent("transcript"))
	view := NewTerminalView()
	coordinator := controller.NewCoordinator(transcript, therapy, view, speaker)

	mic := media.NewMicSource(media.MicConfig{
		Command:     cfg.FFmpegPath,
		InputFormat: cfg.MicInputFormat,
		InputDevice: cfg.MicInputDevice,
		SampleRate:  cfg.MicSampleRate,
	})
	recognizer := stt.NewSpeechRecognizer(stt.RecognizerConfig{
		APIKey:     cfg.DeepgramAPIKey,
		Model:      cfg.DeepgramModel,
		Language:   cfg.DeepgramLanguage,
		SampleRate: cfg.MicSampleRate,
	}, mic)
	coordinator.RegisterSession(capture.NewVoiceSession(recognizer, coordinator, caps, cfg.StatusClearDelayDuration()))

	cameraSource := media.NewCameraSource(media.CameraConfig{
		Command:     cfg.FFmpegPath,
		InputFormat: cfg.CameraInputFormat,
		InputDevice: cfg.CameraInputDevice,
		Width:       cfg.CameraWidth,
		Height:      cfg.CameraHeight,
	})
	coordinator.RegisterSession(capture.NewCameraSession(cameraSource, coordinator, caps, capture.SnapshotConfig{
		Width:    cfg.SnapshotWidth,
		Height:   cfg.SnapshotHeight,
		Quality:  cfg.SnapshotQuality,
		Interval: cfg.AutoCapturePeriod(),
	}))

	// Render the persisted transcript before accepting input
	if err := coordinator.Hydrate(); err != nil {
		logger.Warn().Err(err).Msg("Failed to hydrate transcript")
	}

	// Local observability surface
	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"therapy_server": func(ctx context.Context) (bool, error) {
			if err := therapy.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
	}))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Observability server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Observability server failed")
		}
	}()

	// Interactive loop, interrupted by signal or /quit
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		runREPL(coordinator, view, caps)
	}()

	select {
	case <-quit:
		logger.Info().Msg("Signal received, shutting down")
	case <-inputDone:
	}

	coordinator.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Observability server forced to shut down")
	}
	logger.Info().Msg("Emotion companion exited")
}

// runREPL reads lines from stdin until EOF or /quit. Slash commands drive
// mode switching and capture; everything else is a text message.
func runREPL(coordinator *controller.Coordinator, view *TerminalView, caps capture.Capabilities) {
	if !caps.Voice {
		view.ShowStatus(capture.ModeVoice, "Voice input unavailable: "+caps.VoiceReason)
	}
	if !caps.Camera {
		view.ShowStatus(capture.ModeCamera, "Camera input unavailable: "+caps.CameraReason)
	}
	view.ShowHelp()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			coordinator.SubmitText(line)
			continue
		}

		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]
		switch cmd {
		case "/quit", "/exit":
			return
		case "/help":
			view.ShowHelp()
		case "/mode":
			if len(args) != 1 {
				view.ShowStatus(coordinator.Mode(), "Usage: /mode text|voice|camera")
				continue
			}
			switch capture.Mode(args[0]) {
			case capture.ModeText, capture.ModeVoice, capture.ModeCamera:
				coordinator.SwitchMode(capture.Mode(args[0]))
				view.ShowStatus(coordinator.Mode(), "Mode: "+args[0])
			default:
				view.ShowStatus(coordinator.Mode(), "Unknown mode: "+args[0])
			}
		case "/start":
			if err := coordinator.StartCapture(); err != nil {
				view.ShowStatus(coordinator.Mode(), "Cannot start capture: "+err.Error())
			}
		case "/stop":
			if err := coordinator.StopCapture(); err != nil {
				view.ShowStatus(coordinator.Mode(), "Cannot stop capture: "+err.Error())
			}
		case "/capture":
			if err := coordinator.CaptureNow(); err != nil {
				view.ShowStatus(coordinator.Mode(), err.Error())
			}
		case "/breathe":
			if len(args) != 1 {
				view.ShowStatus(coordinator.Mode(), "Usage: /breathe <type>")
				continue
			}
			exercise, err := coordinator.BreathingExercise(context.Background(), args[0])
			if err != nil {
				view.ShowStatus(coordinator.Mode(), "Could not fetch exercise: "+err.Error())
				continue
			}
			view.ShowExercise(exercise)
		case "/insights":
			insights, err := coordinator.SessionInsights(context.Background())
			if err != nil {
				view.ShowStatus(coordinator.Mode(), "Could not fetch insights: "+err.Error())
				continue
			}
			view.ShowInsights(insights)
		case "/history":
			entries, err := coordinator.ConversationHistory(context.Background())
			if err != nil {
				view.ShowStatus(coordinator.Mode(), "Could not fetch history: "+err.Error())
				continue
			}
			view.ShowHistory(entries)
		case "/clear":
			if err := coordinator.ClearTranscript(); err != nil {
				view.ShowStatus(coordinator.Mode(), "Could not clear transcript: "+err.Error())
				continue
			}
			view.ShowStatus(coordinator.Mode(), "Local transcript cleared")
		case "/reset":
			if err := coordinator.ResetHistory(context.Background()); err != nil {
				view.ShowStatus(coordinator.Mode(), "Could not reset history: "+err.Error())
				continue
			}
			view.ShowStatus(coordinator.Mode(), "Session history cleared")
		default:
			view.ShowStatus(coordinator.Mode(), "Unknown command: "+cmd)
		}
	}
}
