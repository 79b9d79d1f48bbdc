package capture

import (
	"context"
	"errors"
	"fmt"
)

// Mode names an input modality the user can arm.
type Mode string

const (
	ModeText   Mode = "text"
	ModeVoice  Mode = "voice"
	ModeCamera Mode = "camera"
)

// State is the lifecycle position of a capture session.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateActive     State = "active"
	StateCapturing  State = "capturing"
	StateListening  State = "listening"
	StateError      State = "error"
)

// Event is a completed capture delivered to the coordinator. Voice sessions
// fill Transcript; camera sessions fill ImageDataURL and set Auto for
// timer-driven captures.
type Event struct {
	Mode         Mode
	Transcript   string
	ImageDataURL string
	Auto         bool
}

// EventSink receives session events on the coordinator side. Implementations
// must tolerate calls from session-owned goroutines.
type EventSink interface {
	CaptureReady(event Event)
	StatusChanged(mode Mode, status string)
	StateChanged(mode Mode, state State)
}

// Session is a startable, stoppable capture source. Stop is effective even
// while device acquisition is still in flight.
type Session interface {
	Start() error
	Stop() error
	State() State
	Mode() Mode
}

// ErrUnsupported reports that the modality's capability is absent on this
// system.
var ErrUnsupported = errors.New("capture modality not supported on this system")

// ErrorCode classifies device and recognition failures.
type ErrorCode string

const (
	ErrPermissionDenied ErrorCode = "permission-denied"
	ErrDeviceNotFound   ErrorCode = "device-not-found"
	ErrDeviceBusy       ErrorCode = "device-busy"
	ErrOverconstrained  ErrorCode = "overconstrained"
	ErrSecurity         ErrorCode = "security"
	ErrNetwork          ErrorCode = "network"
	ErrNoSpeech         ErrorCode = "no-speech"
	ErrAudioCapture     ErrorCode = "audio-capture"
	ErrGeneric          ErrorCode = "generic"
)

// DeviceError wraps a device or engine failure with its classification.
type DeviceError struct {
	Code ErrorCode
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// NewDeviceError creates a classified device error.
func NewDeviceError(code ErrorCode, err error) *DeviceError {
	return &DeviceError{Code: code, Err: err}
}

// CodeOf extracts the classification of err, falling back to the generic
// code.
func CodeOf(err error) ErrorCode {
	var derr *DeviceError
	if errors.As(err, &derr) {
		return derr.Code
	}
	return ErrGeneric
}

// Status prompts shown between captures.
const (
	VoiceIdlePrompt  = "Click to start voice recording"
	VoiceListening   = "Listening... speak now"
	VoiceAnalyzing   = "Analyzing your voice..."
	CameraIdlePrompt = "Click to start camera for facial emotion detection"
	CameraRequesting = "Requesting camera access..."
	CameraActive     = "Camera active - position your face in the frame"
	CameraAnalyzing  = "Analyzing facial expression..."
	CameraKeepsGoing = "Expression analyzed! Camera continues monitoring..."
	NoSpeechDetected = "No speech detected. Please try again."
)

var voiceErrorMessages = map[ErrorCode]string{
	ErrNetwork:          "Network error. Please check your connection.",
	ErrPermissionDenied: "Microphone access denied. Please allow microphone access.",
	ErrNoSpeech:         NoSpeechDetected,
	ErrAudioCapture:     "No microphone found. Please check your audio settings.",
}

var cameraErrorMessages = map[ErrorCode]string{
	ErrPermissionDenied: "Camera access denied. Please allow camera access and try again.",
	ErrDeviceNotFound:   "No camera found. Please check your camera and try again.",
	ErrDeviceBusy:       "Camera is being used by another application.",
	ErrOverconstrained:  "Camera constraints could not be satisfied.",
	ErrSecurity:         "Camera access blocked for security reasons.",
}

// VoiceErrorMessage maps an error code to its user-facing voice status line.
func VoiceErrorMessage(code ErrorCode) string {
	if msg, ok := voiceErrorMessages[code]; ok {
		return msg
	}
	return "Voice recognition error occurred."
}

// CameraErrorMessage maps an error code to its user-facing camera status
// line.
func CameraErrorMessage(code ErrorCode) string {
	if msg, ok := cameraErrorMessages[code]; ok {
		return msg
	}
	return "Camera error occurred."
}

// TranscriptResult is one recognition update from a RecognizerSession.
type TranscriptResult struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Err        error
}

// RecognizerSession is a live speech-recognition stream.
type RecognizerSession interface {
	Results() <-chan TranscriptResult
	Stop() error
}

// Recognizer opens speech-recognition streams against the microphone.
type Recognizer interface {
	Listen(ctx context.Context) (RecognizerSession, error)
}

// FrameStream is an open camera device delivering frames.
type FrameStream interface {
	Grab() ([]byte, error)
	Stop() error
}

// FrameSource opens the camera device.
type FrameSource interface {
	Open(ctx context.Context) (FrameStream, error)
}
