package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emosense/companion/internal/capture"
)

// MicConfig describes the microphone input leg.
type MicConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int
}

// MicSource captures raw microphone PCM (s16le, mono) through an external
// ffmpeg process.
type MicSource struct {
	cfg MicConfig
}

// NewMicSource creates a microphone source. Zero-valued config fields fall
// back to pulse/default at 16 kHz.
func NewMicSource(cfg MicConfig) *MicSource {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &MicSource{cfg: cfg}
}

// Start launches the capture process and returns a PCM stream. An ffmpeg
// exit within the startup window is reported as a classified device error.
func (m *MicSource) Start(ctx context.Context) (*MicStream, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", m.cfg.InputFormat,
		"-i", m.cfg.InputDevice,
		"-ac", "1",
		"-ar", strconv.Itoa(m.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, m.cfg.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, capture.NewDeviceError(capture.ErrAudioCapture, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// A device or permission problem surfaces as an immediate exit; give
	// the process a short window to prove it is actually capturing.
	select {
	case err := <-waitErr:
		detail := strings.TrimSpace(stderr.String())
		if err == nil {
			err = errors.New("ffmpeg exited before capture started")
		}
		return nil, capture.NewDeviceError(classifyMicError(detail), fmt.Errorf("%w: %s", err, detail))
	case <-time.After(250 * time.Millisecond):
	}

	return &MicStream{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

func classifyMicError(stderr string) capture.ErrorCode {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "access denied"):
		return capture.ErrPermissionDenied
	case strings.Contains(lower, "no such"), strings.Contains(lower, "not found"):
		return capture.ErrAudioCapture
	default:
		return capture.ErrAudioCapture
	}
}

// MicStream is a live PCM feed from the capture process.
type MicStream struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *MicStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Stop interrupts the capture process, escalating to a kill if it does not
// exit promptly.
func (s *MicStream) Stop() error {
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

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.stopErr
}

// normalizeExit drops the expected non-zero exit an interrupted ffmpeg
// reports.
func normalizeExit(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
