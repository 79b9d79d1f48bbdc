package capture

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emosense/companion/internal/observability"
)

// VoiceSession drives one-shot speech recognition: Start listens until the
// engine reports a final transcript, emits exactly one capture-ready event
// for it, and returns to idle. Stop cancels without emitting.
type VoiceSession struct {
	mu            sync.Mutex
	state         State
	supported     bool
	stopRequested bool
	cancel        context.CancelFunc
	clearTimer    *time.Timer

	recognizer Recognizer
	sink       EventSink
	clearDelay time.Duration
	logger     zerolog.Logger
}

// NewVoiceSession creates a voice session. The capability flag is evaluated
// once here and cached for the session's lifetime.
func NewVoiceSession(recognizer Recognizer, sink EventSink, caps Capabilities, clearDelay time.Duration) *VoiceSession {
	return &VoiceSession{
		state:      StateIdle,
		supported:  caps.Voice,
		recognizer: recognizer,
		sink:       sink,
		clearDelay: clearDelay,
		logger:     observability.WithComponent("voice"),
	}
}

// Mode identifies this session's modality.
func (v *VoiceSession) Mode() Mode {
	return ModeVoice
}

// State returns the current lifecycle state.
func (v *VoiceSession) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Start begins listening. It is a no-op while a recording is already in
// progress and fails immediately when the capability is absent.
func (v *VoiceSession) Start() error {
	v.mu.Lock()
	if !v.supported {
		v.mu.Unlock()
		return ErrUnsupported
	}
	if v.state == StateListening || v.state == StateRequesting {
		v.mu.Unlock()
		return nil
	}
	v.stopClearTimerLocked()
	v.stopRequested = false
	v.setStateLocked(StateRequesting)

	ctx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	v.mu.Unlock()

	// Acquisition runs off the caller's goroutine so Stop stays responsive
	// while the engine connects.
	go v.listen(ctx)
	return nil
}

func (v *VoiceSession) listen(ctx context.Context) {
	session, err := v.recognizer.Listen(ctx)

	v.mu.Lock()
	if v.stopRequested {
		v.mu.Unlock()
		if session != nil {
			session.Stop()
		}
		v.toIdle()
		return
	}
	if err != nil {
		v.mu.Unlock()
		v.fail(err)
		return
	}
	v.setStateLocked(StateListening)
	v.mu.Unlock()

	v.sink.StatusChanged(ModeVoice, VoiceListening)
	observability.SetSessionActive(string(ModeVoice), true)
	defer observability.SetSessionActive(string(ModeVoice), false)

	for {
		select {
		case <-ctx.Done():
			session.Stop()
			v.toIdle()
			return
		case result, ok := <-session.Results():
			if !ok {
				v.toIdle()
				return
			}
			if result.Err != nil {
				session.Stop()
				v.fail(result.Err)
				return
			}
			if !result.IsFinal {
				if result.Text != "" {
					v.sink.StatusChanged(ModeVoice, result.Text)
				}
				continue
			}

			session.Stop()
			v.finishFinal(result.Text)
			return
		}
	}
}

// finishFinal emits at most one capture-ready event for a final transcript.
// The listening→idle swap under the lock guarantees a late duplicate or a
// transcript arriving after Stop cannot emit a second event.
func (v *VoiceSession) finishFinal(text string) {
	v.mu.Lock()
	if v.state != StateListening || v.stopRequested {
		v.mu.Unlock()
		v.toIdle()
		return
	}
	v.setStateLocked(StateIdle)
	v.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		v.sink.StatusChanged(ModeVoice, NoSpeechDetected)
		v.scheduleClear()
		return
	}

	observability.RecordCapture(string(ModeVoice), false)
	v.sink.StatusChanged(ModeVoice, VoiceAnalyzing)
	v.sink.CaptureReady(Event{Mode: ModeVoice, Transcript: text})
}

// Stop cancels recognition. Effective mid-acquisition: the stop flag is
// honored as soon as the engine resolves.
func (v *VoiceSession) Stop() error {
	v.mu.Lock()
	if v.state == StateIdle || v.state == StateError {
		v.stopClearTimerLocked()
		v.setStateLocked(StateIdle)
		v.mu.Unlock()
		return nil
	}
	v.stopRequested = true
	cancel := v.cancel
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (v *VoiceSession) fail(err error) {
	code := CodeOf(err)
	msg := VoiceErrorMessage(code)
	v.logger.Warn().Err(err).Str("code", string(code)).Msg("Voice capture failed")
	observability.RecordError(string(code), "voice")

	v.mu.Lock()
	v.setStateLocked(StateError)
	v.mu.Unlock()

	v.sink.StatusChanged(ModeVoice, msg)
	v.scheduleClear()
}

// scheduleClear resets the status line back to the idle prompt after the
// configured delay, mirroring the transient on-screen error treatment.
func (v *VoiceSession) scheduleClear() {
	v.mu.Lock()
	v.stopClearTimerLocked()
	v.clearTimer = time.AfterFunc(v.clearDelay, func() {
		v.mu.Lock()
		if v.state == StateError {
			v.setStateLocked(StateIdle)
		}
		v.mu.Unlock()
		v.sink.StatusChanged(ModeVoice, VoiceIdlePrompt)
	})
	v.mu.Unlock()
}

func (v *VoiceSession) toIdle() {
	v.mu.Lock()
	if v.state != StateIdle {
		v.setStateLocked(StateIdle)
	}
	v.mu.Unlock()
}

// setStateLocked notifies the sink while holding the lock; sinks must not
// call back into the session from StateChanged.
func (v *VoiceSession) setStateLocked(state State) {
	if v.state == state {
		return
	}
	v.state = state
	v.sink.StateChanged(ModeVoice, state)
}

func (v *VoiceSession) stopClearTimerLocked() {
	if v.clearTimer != nil {
		v.clearTimer.Stop()
		v.clearTimer = nil
	}
}
