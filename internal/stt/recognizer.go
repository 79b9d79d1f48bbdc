package stt

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/emosense/companion/internal/capture"
	"github.com/emosense/companion/internal/media"
	"github.com/emosense/companion/internal/observability"
)

// RecognizerConfig shapes the streaming recognition leg.
type RecognizerConfig struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
}

// SpeechRecognizer opens one-shot streaming recognition sessions: microphone
// PCM is pumped into Deepgram's websocket API and interim/final transcripts
// come back on a channel. It implements capture.Recognizer.
type SpeechRecognizer struct {
	cfg    RecognizerConfig
	mic    *media.MicSource
	logger zerolog.Logger
}

// NewSpeechRecognizer creates a recognizer over the given microphone source.
func NewSpeechRecognizer(cfg RecognizerConfig, mic *media.MicSource) *SpeechRecognizer {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &SpeechRecognizer{
		cfg:    cfg,
		mic:    mic,
		logger: observability.WithComponent("stt"),
	}
}

// messageCallbackHandler embeds the SDK default handler and overrides only
// the messages the session cares about.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	onMessage      func(*msginterfaces.MessageResponse)
	onUtteranceEnd func()
	onError        func(*msginterfaces.ErrorResponse)
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.onMessage(message)
	return nil
}

func (m *messageCallbackHandler) UtteranceEnd(utterance *msginterfaces.UtteranceEndResponse) error {
	m.onUtteranceEnd()
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	m.onError(errorResponse)
	return nil
}

// Listen acquires the microphone, connects the recognition stream and
// returns a live session. The session ends at the first final transcript,
// an engine error, or Stop.
func (r *SpeechRecognizer) Listen(ctx context.Context) (capture.RecognizerSession, error) {
	sessionCtx, cancel := context.WithCancel(ctx)

	session := &recognizerSession{
		results: make(chan capture.TranscriptResult, 32),
		cancel:  cancel,
		logger:  r.logger.With().Str("session_id", observability.NewSessionID()).Logger(),
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     r.cfg.SampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onMessage:              session.handleMessage,
		onUtteranceEnd:         session.handleUtteranceEnd,
		onError:                session.handleError,
	}

	client, err := listenClient.NewWSUsingCallback(sessionCtx, r.cfg.APIKey, nil, tOptions, callback)
	if err != nil {
		cancel()
		return nil, capture.NewDeviceError(capture.ErrNetwork, err)
	}
	session.client = client

	micStream, err := r.mic.Start(sessionCtx)
	if err != nil {
		client.Finish()
		cancel()
		return nil, err
	}
	session.micStream = micStream

	go session.pump(sessionCtx, micStream)

	session.logger.Info().
		Str("model", r.cfg.Model).
		Str("language", r.cfg.Language).
		Int("sample_rate", r.cfg.SampleRate).
		Msg("Recognition session started")
	return session, nil
}

type recognizerSession struct {
	client    *listenClient.WSCallback
	micStream *media.MicStream
	results   chan capture.TranscriptResult
	cancel    context.CancelFunc
	logger    zerolog.Logger

	mu        sync.Mutex
	sawSpeech bool
	finished  bool

	stopOnce  sync.Once
	closeOnce sync.Once
}

// pump moves microphone PCM into the recognition stream through a small
// jitter ring, draining on a fixed cadence.
func (s *recognizerSession) pump(ctx context.Context, micStream *media.MicStream) {
	ring := media.NewRing(64 * 1024)
	chunk := make([]byte, 4096)
	drain := make([]byte, 8192)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			n, err := micStream.Read(chunk)
			if n > 0 {
				ring.Write(chunk[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case <-ticker.C:
			for {
				n := ring.Read(drain)
				if n == 0 {
					break
				}
				if _, err := s.client.Write(drain[:n]); err != nil {
					s.logger.Warn().Err(err).Msg("Failed to send audio to recognition stream")
					s.deliver(capture.TranscriptResult{
						Err: capture.NewDeviceError(capture.ErrNetwork, err),
					})
					return
				}
			}
		}
	}
}

func (s *recognizerSession) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}
	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return
	}

	s.mu.Lock()
	s.sawSpeech = true
	if msg.IsFinal {
		s.finished = true
	}
	s.mu.Unlock()

	s.deliver(capture.TranscriptResult{
		Text:       alt.Transcript,
		IsFinal:    msg.IsFinal,
		Confidence: alt.Confidence,
	})
}

// handleUtteranceEnd closes a session where the utterance ended without any
// recognized speech, mirroring a no-speech recognition error.
func (s *recognizerSession) handleUtteranceEnd() {
	s.mu.Lock()
	quiet := !s.sawSpeech && !s.finished
	if quiet {
		s.finished = true
	}
	s.mu.Unlock()

	if quiet {
		s.deliver(capture.TranscriptResult{
			Err: capture.NewDeviceError(capture.ErrNoSpeech, errors.New("utterance ended without speech")),
		})
	}
}

func (s *recognizerSession) handleError(errorResponse *msginterfaces.ErrorResponse) {
	s.logger.Warn().
		Str("type", errorResponse.ErrCode).
		Str("description", errorResponse.Description).
		Msg("Recognition stream error")
	observability.RecordError("engine", "stt")

	s.deliver(capture.TranscriptResult{
		Err: capture.NewDeviceError(capture.ErrNetwork,
			errors.New("recognition stream error "+strconv.Quote(errorResponse.Description))),
	})
}

// deliver is non-blocking; a stuck consumer drops updates rather than
// wedging the callback goroutine.
func (s *recognizerSession) deliver(result capture.TranscriptResult) {
	select {
	case s.results <- result:
	default:
		s.logger.Warn().Msg("Transcript channel full, dropping update")
	}
}

func (s *recognizerSession) Results() <-chan capture.TranscriptResult {
	return s.results
}

// Stop tears the session down: microphone first, then the stream, then the
// context. Safe to call more than once.
func (s *recognizerSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.micStream != nil {
			if err := s.micStream.Stop(); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to stop microphone")
			}
		}
		s.client.Finish()
		s.cancel()
		s.closeOnce.Do(func() {
			// Give late callbacks a moment before the channel goes away.
			go func() {
				time.Sleep(100 * time.Millisecond)
				close(s.results)
			}()
		})
		s.logger.Info().Msg("Recognition session stopped")
	})
	return nil
}
