package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/emosense/companion/internal/capture"
)

// CameraConfig describes the video input leg.
type CameraConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	Width       int
	Height      int
}

// CameraSource opens the camera through an external ffmpeg process emitting
// a continuous MJPEG stream. It implements capture.FrameSource.
type CameraSource struct {
	cfg CameraConfig
}

// NewCameraSource creates a camera source. Zero-valued config fields fall
// back to v4l2 /dev/video0 at 640x480.
func NewCameraSource(cfg CameraConfig) *CameraSource {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "v4l2"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "/dev/video0"
	}
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 480
	}
	return &CameraSource{cfg: cfg}
}

// Open starts the device stream. The returned FrameStream always serves the
// most recent complete frame.
func (c *CameraSource) Open(ctx context.Context) (capture.FrameStream, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", c.cfg.InputFormat,
		"-video_size", fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height),
		"-i", c.cfg.InputDevice,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	}

	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, capture.NewDeviceError(capture.ErrDeviceNotFound, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		detail := strings.TrimSpace(stderr.String())
		if err == nil {
			err = errors.New("ffmpeg exited before the stream started")
		}
		return nil, capture.NewDeviceError(classifyCameraError(detail), fmt.Errorf("%w: %s", err, detail))
	case <-time.After(250 * time.Millisecond):
	}

	stream := &cameraStream{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
		frameCh: make(chan struct{}, 1),
	}
	go stream.readFrames()
	return stream, nil
}

// classifyCameraError maps ffmpeg stderr text onto the device error
// taxonomy.
func classifyCameraError(stderr string) capture.ErrorCode {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "access denied"):
		return capture.ErrPermissionDenied
	case strings.Contains(lower, "device or resource busy"), strings.Contains(lower, "busy"):
		return capture.ErrDeviceBusy
	case strings.Contains(lower, "no such file"), strings.Contains(lower, "no such device"), strings.Contains(lower, "not found"):
		return capture.ErrDeviceNotFound
	case strings.Contains(lower, "invalid argument"), strings.Contains(lower, "not supported"):
		return capture.ErrOverconstrained
	case strings.Contains(lower, "operation not permitted"):
		return capture.ErrSecurity
	default:
		return capture.ErrGeneric
	}
}

type cameraStream struct {
	stdout  io.ReadCloser
	stderr  *bytes.Buffer
	process *os.Process
	waitErr <-chan error

	mu      sync.Mutex
	frame   []byte
	readErr error
	frameCh chan struct{}

	stopOnce sync.Once
	stopErr  error
}

// JPEG stream markers.
var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// readFrames scans the MJPEG byte stream for frame boundaries, keeping only
// the most recent complete frame.
func (s *cameraStream) readFrames() {
	var pending []byte
	buf := make([]byte, 32*1024)

	for {
		n, err := s.stdout.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				start := bytes.Index(pending, jpegSOI)
				if start < 0 {
					break
				}
				end := bytes.Index(pending[start+2:], jpegEOI)
				if end < 0 {
					// Drop garbage before the frame start, keep the partial
					// frame for the next read.
					pending = pending[start:]
					break
				}
				frameEnd := start + 2 + end + 2
				frame := append([]byte(nil), pending[start:frameEnd]...)
				pending = pending[frameEnd:]

				s.mu.Lock()
				s.frame = frame
				s.mu.Unlock()
				select {
				case s.frameCh <- struct{}{}:
				default:
				}
			}
		}
		if err != nil {
			detail := strings.TrimSpace(s.stderr.String())
			s.mu.Lock()
			s.readErr = capture.NewDeviceError(classifyCameraError(detail), fmt.Errorf("camera stream ended: %w", err))
			s.mu.Unlock()
			select {
			case s.frameCh <- struct{}{}:
			default:
			}
			return
		}
	}
}

// Grab returns a copy of the latest frame, waiting briefly for the first
// one after the stream opens.
func (s *cameraStream) Grab() ([]byte, error) {
	deadline := time.NewTimer(2 * time.Second)
	defer deadline.Stop()

	for {
		s.mu.Lock()
		frame := s.frame
		readErr := s.readErr
		s.mu.Unlock()

		if frame != nil {
			return append([]byte(nil), frame...), nil
		}
		if readErr != nil {
			return nil, readErr
		}

		select {
		case <-s.frameCh:
		case <-deadline.C:
			return nil, capture.NewDeviceError(capture.ErrGeneric, errors.New("no frame received from camera"))
		}
	}
}

// Stop interrupts the device process, escalating to a kill if needed.
func (s *cameraStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeExit(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeExit(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}
	})
	return s.stopErr
}
