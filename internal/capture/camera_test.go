package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"strings"
	"sync"
	"testing"
	"time"
)

func testFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("Failed to encode test frame: %v", err)
	}
	return buf.Bytes()
}

type fakeFrameStream struct {
	mu      sync.Mutex
	frame   []byte
	grabErr error
	stopped bool
}

func (s *fakeFrameStream) Grab() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grabErr != nil {
		return nil, s.grabErr
	}
	return s.frame, nil
}

func (s *fakeFrameStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeFrameStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeFrameSource struct {
	stream  *fakeFrameStream
	openErr error
	block   chan struct{}
}

func (f *fakeFrameSource) Open(ctx context.Context) (FrameStream, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

func testSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{
		Width:    200,
		Height:   150,
		Quality:  80,
		Interval: time.Hour, // effectively disabled unless a test shortens it
	}
}

func TestCameraSession_StartAndManualCapture(t *testing.T) {
	source := &fakeFrameSource{stream: &fakeFrameStream{frame: testFrame(t)}}
	sink := newFakeSink()
	session := NewCameraSession(source, sink, voiceCaps(), testSnapshotConfig())

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sink.waitStatus(t, CameraRequesting)
	sink.waitStatus(t, CameraActive)
	waitForState(t, session, StateActive)

	session.Capture()
	event := sink.waitEvent(t)

	if event.Mode != ModeCamera {
		t.Errorf("Expected camera event, got %s", event.Mode)
	}
	if event.Auto {
		t.Error("Manual capture should not be flagged auto")
	}
	if !strings.HasPrefix(event.ImageDataURL, "data:image/jpeg;base64,") {
		t.Errorf("Expected JPEG data URL, got prefix %q", event.ImageDataURL[:min(len(event.ImageDataURL), 30)])
	}
	session.Stop()
}

func TestCameraSession_AutoCapture(t *testing.T) {
	source := &fakeFrameSource{stream: &fakeFrameStream{frame: testFrame(t)}}
	sink := newFakeSink()
	cfg := testSnapshotConfig()
	cfg.Interval = 20 * time.Millisecond
	session := NewCameraSession(source, sink, voiceCaps(), cfg)

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sink.waitStatus(t, CameraActive)

	event := sink.waitEvent(t)
	if !event.Auto {
		t.Error("Timer-driven capture should be flagged auto")
	}
	session.Stop()
}

func TestCameraSession_CaptureWhileIdleIsNoOp(t *testing.T) {
	source := &fakeFrameSource{stream: &fakeFrameStream{frame: testFrame(t)}}
	sink := newFakeSink()
	session := NewCameraSession(source, sink, voiceCaps(), testSnapshotConfig())

	session.Capture()
	if sink.eventCount() != 0 {
		t.Errorf("Capture while idle should emit nothing, got %d events", sink.eventCount())
	}
}

func TestCameraSession_UnsupportedStart(t *testing.T) {
	sink := newFakeSink()
	session := NewCameraSession(&fakeFrameSource{}, sink, Capabilities{Camera: false}, testSnapshotConfig())

	if err := session.Start(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
}

func TestCameraSession_OpenErrorMapsToMessage(t *testing.T) {
	source := &fakeFrameSource{
		openErr: NewDeviceError(ErrPermissionDenied, errors.New("denied")),
	}
	sink := newFakeSink()
	session := NewCameraSession(source, sink, voiceCaps(), testSnapshotConfig())

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sink.waitStatus(t, "Camera access denied. Please allow camera access and try again.")
	waitForState(t, session, StateError)

	if sink.eventCount() != 0 {
		t.Errorf("Failed start should emit no events, got %d", sink.eventCount())
	}
}

func TestCameraSession_StopDuringRequesting(t *testing.T) {
	stream := &fakeFrameStream{frame: testFrame(t)}
	source := &fakeFrameSource{stream: stream, block: make(chan struct{})}
	sink := newFakeSink()
	session := NewCameraSession(source, sink, voiceCaps(), testSnapshotConfig())

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sink.waitStatus(t, CameraRequesting)

	if err := session.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	close(source.block)

	waitForState(t, session, StateIdle)
	deadline := time.Now().Add(2 * time.Second)
	for !stream.isStopped() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !stream.isStopped() {
		t.Error("Expected stream to be stopped after stop during acquisition")
	}
}

func TestCameraSession_StopTearsDown(t *testing.T) {
	stream := &fakeFrameStream{frame: testFrame(t)}
	source := &fakeFrameSource{stream: stream}
	sink := newFakeSink()
	session := NewCameraSession(source, sink, voiceCaps(), testSnapshotConfig())

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sink.waitStatus(t, CameraActive)

	if err := session.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	sink.waitStatus(t, CameraIdlePrompt)

	if session.State() != StateIdle {
		t.Errorf("Expected idle after stop, got %s", session.State())
	}
	if !stream.isStopped() {
		t.Error("Expected device stream to be stopped")
	}
}

func TestCameraSession_GrabErrorKeepsSessionActive(t *testing.T) {
	stream := &fakeFrameStream{grabErr: NewDeviceError(ErrDeviceBusy, errors.New("busy"))}
	source := &fakeFrameSource{stream: stream}
	sink := newFakeSink()
	session := NewCameraSession(source, sink, voiceCaps(), testSnapshotConfig())

	if err := session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sink.waitStatus(t, CameraActive)

	session.Capture()
	sink.waitStatus(t, "Camera is being used by another application.")

	if sink.eventCount() != 0 {
		t.Errorf("Failed grab should emit nothing, got %d", sink.eventCount())
	}
	waitForState(t, session, StateActive)
	session.Stop()
}

func TestCameraErrorMessages(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{ErrDeviceNotFound, "No camera found. Please check your camera and try again."},
		{ErrOverconstrained, "Camera constraints could not be satisfied."},
		{ErrSecurity, "Camera access blocked for security reasons."},
		{ErrGeneric, "Camera error occurred."},
	}
	for _, tt := range tests {
		if got := CameraErrorMessage(tt.code); got != tt.want {
			t.Errorf("CameraErrorMessage(%s) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
