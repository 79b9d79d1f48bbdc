package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/emosense/companion/internal/media"
	"github.com/emosense/companion/internal/observability"
	"github.com/emosense/companion/internal/resilience"
)

// Speaker voices therapist responses. Speak is interruptible: Stop cuts the
// current utterance short.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Stop()
	Close() error
}

// NoopSpeaker is used when no synthesis endpoint is configured.
type NoopSpeaker struct{}

func (NoopSpeaker) Speak(context.Context, string) error { return nil }
func (NoopSpeaker) Stop()                               {}
func (NoopSpeaker) Close() error                        { return nil }

// SynthConfig shapes the speech synthesis leg.
type SynthConfig struct {
	URL        string
	APIKey     string
	VoiceID    string
	SampleRate int
}

// synthRequest opens one synthesis exchange on the websocket.
type synthRequest struct {
	Text       string `json:"text"`
	VoiceID    string `json:"voice_id"`
	SampleRate int    `json:"sample_rate"`
}

// SynthSpeaker streams synthesized PCM from a websocket synthesis service
// into local playback. A circuit breaker keeps a dead endpoint from stalling
// every utterance.
type SynthSpeaker struct {
	cfg     SynthConfig
	player  *media.PCMPlayer
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger

	mu       sync.Mutex
	playback *media.Playback
	conn     *websocket.Conn
}

// NewSynthSpeaker creates a breaker-protected speaker.
func NewSynthSpeaker(cfg SynthConfig, player *media.PCMPlayer, breaker *resilience.CircuitBreaker) *SynthSpeaker {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	return &SynthSpeaker{
		cfg:     cfg,
		player:  player,
		breaker: breaker,
		logger:  observability.WithComponent("tts"),
	}
}

// Speak synthesizes and plays one utterance, blocking until playback ends
// or the context is canceled.
func (s *SynthSpeaker) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	err := s.breaker.Call(func() error {
		return s.speakOnce(ctx, text)
	})

	observability.UpdateCircuitBreakerState("synthesis", int(s.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("synthesis")
		observability.RecordSpeechSynth(false)
		return err
	}
	observability.RecordSpeechSynth(true)
	return nil
}

func (s *SynthSpeaker) speakOnce(ctx context.Context, text string) error {
	header := http.Header{}
	if s.cfg.APIKey != "" {
		header.Set("x-api-key", s.cfg.APIKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("failed to connect to synthesis service: %w", err)
	}
	defer conn.Close()

	playback, err := s.player.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open playback: %w", err)
	}

	s.mu.Lock()
	s.playback = playback
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.playback = nil
		s.conn = nil
		s.mu.Unlock()
	}()

	req := synthRequest{Text: text, VoiceID: s.cfg.VoiceID, SampleRate: s.cfg.SampleRate}
	if err := conn.WriteJSON(req); err != nil {
		playback.Stop()
		return fmt.Errorf("failed to send synthesis request: %w", err)
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			playback.Stop()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			return fmt.Errorf("synthesis stream failed: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			if _, err := playback.Write(data); err != nil {
				// Playback interrupted locally; not a synthesis failure.
				s.logger.Debug().Err(err).Msg("Playback ended early")
				return nil
			}
		case websocket.TextMessage:
			var control struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &control); err == nil && control.Type == "done" {
				return playback.Done()
			}
		}
	}
	return playback.Done()
}

// Stop interrupts the current utterance, if any.
func (s *SynthSpeaker) Stop() {
	s.mu.Lock()
	playback := s.playback
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if playback != nil {
		playback.Stop()
	}
}

// Close stops any active utterance and releases the speaker.
func (s *SynthSpeaker) Close() error {
	s.Stop()
	return nil
}
