package controller

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/emosense/companion/internal/analysis"
	"github.com/emosense/companion/internal/capture"
	"github.com/emosense/companion/internal/chat"
	"github.com/emosense/companion/internal/observability"
	"github.com/emosense/companion/internal/tts"
)

// TherapyService is the remote analysis surface the coordinator depends on.
type TherapyService interface {
	Analyze(ctx context.Context, modality analysis.Modality, payload analysis.Payload) (*analysis.Result, error)
	BreathingExercise(ctx context.Context, exerciseType string) (*analysis.BreathingExercise, error)
	SessionInsights(ctx context.Context) (*analysis.Insights, error)
	ConversationHistory(ctx context.Context) ([]analysis.ConversationEntry, error)
	ClearSessionHistory(ctx context.Context) error
}

// View renders coordinator output. Implementations must tolerate calls from
// session goroutines.
type View interface {
	AppendMessage(msg chat.Message)
	ShowEmotion(emotion string, confidence float64)
	ShowRemedies(remedies []analysis.Remedy)
	ShowStatus(mode capture.Mode, status string)
}

// flight identifies one in-flight analysis call so a stale completion can
// never clear or cancel a newer one.
type flight struct {
	cancel context.CancelFunc
}

const (
	textAnalysisFailed   = "Sorry, I had trouble analyzing your message. Please try again."
	voiceAnalysisFailed  = "Sorry, I had trouble analyzing your voice. Please try again."
	facialAnalysisFailed = "Sorry, I had trouble analyzing your facial expression. Please try again."
	facialCapturedTurn   = "Facial expression captured and analyzed"
)

// Coordinator routes user input from the active modality through analysis
// and fans results out to the transcript, the view and the speaker. At most
// one capture session is non-idle at a time.
type Coordinator struct {
	mu           sync.Mutex
	mode         capture.Mode
	isProcessing bool
	sessions     map[capture.Mode]capture.Session
	flight       *flight

	transcript *chat.TranscriptStore
	therapy    TherapyService
	speaker    tts.Speaker
	view       View
	logger     zerolog.Logger
}

// NewCoordinator wires the coordinator. Sessions are attached afterwards
// with RegisterSession; the coordinator itself is their event sink.
func NewCoordinator(transcript *chat.TranscriptStore, therapy TherapyService, view View, speaker tts.Speaker) *Coordinator {
	return &Coordinator{
		mode:       capture.ModeText,
		sessions:   make(map[capture.Mode]capture.Session),
		transcript: transcript,
		therapy:    therapy,
		speaker:    speaker,
		view:       view,
		logger:     observability.WithComponent("coordinator"),
	}
}

// RegisterSession attaches a capture session for its modality.
func (c *Coordinator) RegisterSession(session capture.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[session.Mode()] = session
}

// Mode returns the currently armed input modality.
func (c *Coordinator) Mode() capture.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Hydrate renders the persisted transcript without re-appending it.
func (c *Coordinator) Hydrate() error {
	msgs, err := c.transcript.Hydrate()
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		c.view.AppendMessage(msg)
	}
	observability.SetTranscriptSize(c.transcript.Len())
	return nil
}

// SwitchMode arms a modality. Idempotent; every other session is stopped
// and any in-flight analysis is abandoned before the new mode takes over.
// Capture is never auto-started.
func (c *Coordinator) SwitchMode(mode capture.Mode) {
	c.mu.Lock()
	if c.mode == mode {
		c.mu.Unlock()
		return
	}
	c.mode = mode
	inflight := c.flight
	c.flight = nil
	var toStop []capture.Session
	for m, session := range c.sessions {
		if m != mode {
			toStop = append(toStop, session)
		}
	}
	c.mu.Unlock()

	if inflight != nil {
		inflight.cancel()
	}
	for _, session := range toStop {
		if err := session.Stop(); err != nil {
			c.logger.Warn().Err(err).Str("mode", string(session.Mode())).Msg("Failed to stop session on mode switch")
		}
	}
	c.logger.Info().Str("mode", string(mode)).Msg("Input mode switched")
}

// SubmitText runs the typed-text path: one user turn, one analysis call,
// one therapist turn. Empty input and overlapping submissions are no-ops.
func (c *Coordinator) SubmitText(text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}

	c.mu.Lock()
	if c.isProcessing {
		c.mu.Unlock()
		return
	}
	c.isProcessing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.isProcessing = false
		c.mu.Unlock()
	}()

	c.appendMessage(chat.NewMessage(trimmed, chat.SenderUser, chat.InputText))
	c.analyze(analysis.ModalityText, analysis.Payload{Text: trimmed}, textAnalysisFailed)
}

// CaptureReady receives completed captures from the active session.
func (c *Coordinator) CaptureReady(event capture.Event) {
	switch event.Mode {
	case capture.ModeVoice:
		c.appendMessage(chat.NewMessage(event.Transcript, chat.SenderUser, chat.InputVoice))
		c.analyze(analysis.ModalityVoice, analysis.Payload{Text: event.Transcript}, voiceAnalysisFailed)
	case capture.ModeCamera:
		// Timer-driven captures analyze silently; only a deliberate capture
		// earns a chat turn.
		if !event.Auto {
			c.appendMessage(chat.NewMessage(facialCapturedTurn, chat.SenderUser, chat.InputFacial))
		}
		c.analyze(analysis.ModalityFacial, analysis.Payload{ImageData: event.ImageDataURL}, facialAnalysisFailed)
	}
}

// StatusChanged relays session status lines to the view.
func (c *Coordinator) StatusChanged(mode capture.Mode, status string) {
	c.view.ShowStatus(mode, status)
}

// StateChanged is part of the session sink; state transitions are logged
// only.
func (c *Coordinator) StateChanged(mode capture.Mode, state capture.State) {
	c.logger.Debug().Str("mode", string(mode)).Str("state", string(state)).Msg("Session state changed")
}

// analyze runs one analysis call under a cancelable flight context. A
// canceled flight is discarded silently; any other failure surfaces as an
// apologetic therapist turn so an accepted user turn is never met with
// silence.
func (c *Coordinator) analyze(modality analysis.Modality, payload analysis.Payload, failureMsg string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &flight{cancel: cancel}

	c.mu.Lock()
	if c.flight != nil {
		c.flight.cancel()
	}
	c.flight = f
	c.mu.Unlock()

	result, err := c.therapy.Analyze(ctx, modality, payload)

	c.mu.Lock()
	if c.flight == f {
		c.flight = nil
	}
	c.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			c.logger.Info().Str("modality", string(modality)).Msg("In-flight analysis abandoned")
			return
		}
		c.logger.Warn().Err(err).Str("modality", string(modality)).Msg("Analysis failed")
		c.ShowError(failureMsg)
		return
	}

	c.handleAnalysisResult(result)
}

// handleAnalysisResult is the single normalization point for analysis
// outcomes; no modality branching happens past here.
func (c *Coordinator) handleAnalysisResult(result *analysis.Result) {
	c.appendMessage(chat.NewMessage(result.TherapyResponse.FullResponse, chat.SenderTherapist, chat.InputText))
	c.view.ShowEmotion(result.Emotion, result.Confidence)
	c.view.ShowRemedies(result.TherapyResponse.Remedies)

	go func() {
		if err := c.speaker.Speak(context.Background(), result.TherapyResponse.FullResponse); err != nil {
			c.logger.Warn().Err(err).Msg("Speech synthesis failed")
		}
	}()
}

// ShowError surfaces a failure as a conversational therapist turn.
func (c *Coordinator) ShowError(msg string) {
	c.appendMessage(chat.NewMessage(msg, chat.SenderTherapist, chat.InputText))
}

func (c *Coordinator) appendMessage(msg chat.Message) {
	if err := c.transcript.Append(msg); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist chat message")
	}
	observability.SetTranscriptSize(c.transcript.Len())
	c.view.AppendMessage(msg)
}

// StartCapture starts the session for the armed modality.
func (c *Coordinator) StartCapture() error {
	c.mu.Lock()
	session, ok := c.sessions[c.mode]
	c.mu.Unlock()
	if !ok {
		return errors.New("no capture session for the current mode")
	}
	return session.Start()
}

// StopCapture stops the session for the armed modality.
func (c *Coordinator) StopCapture() error {
	c.mu.Lock()
	session, ok := c.sessions[c.mode]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return session.Stop()
}

// CaptureNow triggers an on-demand camera capture.
func (c *Coordinator) CaptureNow() error {
	c.mu.Lock()
	session, ok := c.sessions[capture.ModeCamera]
	mode := c.mode
	c.mu.Unlock()
	if mode != capture.ModeCamera || !ok {
		return errors.New("camera mode is not active")
	}
	if cam, ok := session.(*capture.CameraSession); ok {
		cam.Capture()
	}
	return nil
}

// BreathingExercise fetches a guided exercise by type.
func (c *Coordinator) BreathingExercise(ctx context.Context, exerciseType string) (*analysis.BreathingExercise, error) {
	return c.therapy.BreathingExercise(ctx, exerciseType)
}

// SessionInsights fetches the server-side emotional summary.
func (c *Coordinator) SessionInsights(ctx context.Context) (*analysis.Insights, error) {
	return c.therapy.SessionInsights(ctx)
}

// ConversationHistory fetches the server-side conversation records.
func (c *Coordinator) ConversationHistory(ctx context.Context) ([]analysis.ConversationEntry, error) {
	return c.therapy.ConversationHistory(ctx)
}

// ClearTranscript drops the local transcript only.
func (c *Coordinator) ClearTranscript() error {
	if err := c.transcript.Clear(); err != nil {
		return err
	}
	observability.SetTranscriptSize(0)
	return nil
}

// ResetHistory clears the server-side session history and the local
// transcript together.
func (c *Coordinator) ResetHistory(ctx context.Context) error {
	if err := c.therapy.ClearSessionHistory(ctx); err != nil {
		return err
	}
	return c.ClearTranscript()
}

// Shutdown stops every session, abandons any in-flight analysis and
// releases the speaker.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	inflight := c.flight
	c.flight = nil
	sessions := make([]capture.Session, 0, len(c.sessions))
	for _, session := range c.sessions {
		sessions = append(sessions, session)
	}
	c.mu.Unlock()

	if inflight != nil {
		inflight.cancel()
	}
	for _, session := range sessions {
		if err := session.Stop(); err != nil {
			c.logger.Warn().Err(err).Str("mode", string(session.Mode())).Msg("Failed to stop session on shutdown")
		}
	}
	c.speaker.Stop()
	if err := c.speaker.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close speaker")
	}
	c.logger.Info().Msg("Coordinator shut down")
}
