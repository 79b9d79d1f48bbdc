package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emosense/companion/internal/observability"
)

// SnapshotConfig shapes the frames a camera session emits.
type SnapshotConfig struct {
	Width    int
	Height   int
	Quality  int
	Interval time.Duration
}

// CameraSession owns the video device lifecycle: Start acquires the device
// and begins a recurring auto-capture timer, Capture grabs a frame on
// demand, Stop tears everything down. Emitted frames are downscaled JPEG
// snapshots packaged as base64 data URLs.
type CameraSession struct {
	mu            sync.Mutex
	state         State
	supported     bool
	stopRequested bool
	stream        FrameStream
	ticker        *time.Ticker
	tickerDone    chan struct{}
	cancel        context.CancelFunc

	source   FrameSource
	sink     EventSink
	snapshot SnapshotConfig
	logger   zerolog.Logger
}

// NewCameraSession creates a camera session over the given frame source.
func NewCameraSession(source FrameSource, sink EventSink, caps Capabilities, snapshot SnapshotConfig) *CameraSession {
	return &CameraSession{
		state:     StateIdle,
		supported: caps.Camera,
		source:    source,
		sink:      sink,
		snapshot:  snapshot,
		logger:    observability.WithComponent("camera"),
	}
}

// Mode identifies this session's modality.
func (c *CameraSession) Mode() Mode {
	return ModeCamera
}

// State returns the current lifecycle state.
func (c *CameraSession) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start acquires the camera and, on success, arms the auto-capture timer.
// No-op when the session is already past idle.
func (c *CameraSession) Start() error {
	c.mu.Lock()
	if !c.supported {
		c.mu.Unlock()
		return ErrUnsupported
	}
	if c.state != StateIdle && c.state != StateError {
		c.mu.Unlock()
		return nil
	}
	c.stopRequested = false
	c.setStateLocked(StateRequesting)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	c.sink.StatusChanged(ModeCamera, CameraRequesting)

	// Acquisition happens off the caller's goroutine so a stop issued while
	// the device is still opening takes effect the moment it resolves.
	go c.acquire(ctx)
	return nil
}

func (c *CameraSession) acquire(ctx context.Context) {
	stream, err := c.source.Open(ctx)

	c.mu.Lock()
	if c.stopRequested {
		c.mu.Unlock()
		if stream != nil {
			stream.Stop()
		}
		c.teardown()
		return
	}
	if err != nil {
		c.setStateLocked(StateError)
		c.mu.Unlock()

		code := CodeOf(err)
		c.logger.Warn().Err(err).Str("code", string(code)).Msg("Camera acquisition failed")
		observability.RecordError(string(code), "camera")
		c.sink.StatusChanged(ModeCamera, CameraErrorMessage(code))
		return
	}

	c.stream = stream
	c.setStateLocked(StateActive)
	c.ticker = time.NewTicker(c.snapshot.Interval)
	c.tickerDone = make(chan struct{})
	ticker := c.ticker
	done := c.tickerDone
	c.mu.Unlock()

	c.sink.StatusChanged(ModeCamera, CameraActive)
	observability.SetSessionActive(string(ModeCamera), true)

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.capture(true)
			}
		}
	}()
}

// Capture grabs and emits the current frame on demand. No-op unless the
// session is active.
func (c *CameraSession) Capture() {
	c.capture(false)
}

func (c *CameraSession) capture(auto bool) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateCapturing)
	stream := c.stream
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.state == StateCapturing {
			c.setStateLocked(StateActive)
		}
		c.mu.Unlock()
	}()

	frame, err := stream.Grab()
	if err != nil {
		code := CodeOf(err)
		c.logger.Warn().Err(err).Bool("auto", auto).Msg("Frame grab failed")
		observability.RecordError(string(code), "camera")
		c.sink.StatusChanged(ModeCamera, CameraErrorMessage(code))
		return
	}

	dataURL, err := c.encodeSnapshot(frame)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Snapshot encode failed")
		observability.RecordError("encode", "camera")
		return
	}

	observability.RecordCapture(string(ModeCamera), auto)
	c.sink.StatusChanged(ModeCamera, CameraAnalyzing)
	c.sink.CaptureReady(Event{Mode: ModeCamera, ImageDataURL: dataURL, Auto: auto})
}

// encodeSnapshot downscales a frame to the configured raster and re-encodes
// it as a base64 JPEG data URL.
func (c *CameraSession) encodeSnapshot(frame []byte) (string, error) {
	src, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return "", fmt.Errorf("failed to decode frame: %w", err)
	}

	scaled := scaleNearest(src, c.snapshot.Width, c.snapshot.Height)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: c.snapshot.Quality}); err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// scaleNearest resamples src to w×h with nearest-neighbour lookup. Snapshot
// rasters are small enough that filtering quality is irrelevant.
func scaleNearest(src image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	bounds := src.Bounds()
	for y := 0; y < h; y++ {
		sy := bounds.Min.Y + y*bounds.Dy()/h
		for x := 0; x < w; x++ {
			sx := bounds.Min.X + x*bounds.Dx()/w
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}

// Stop tears the session down in four steps: cancel the timer, stop the
// device stream, drop the stream handle, go idle. Each step is best-effort;
// a failure is logged and the remaining steps still run.
func (c *CameraSession) Stop() error {
	c.mu.Lock()
	if c.state == StateRequesting {
		c.stopRequested = true
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}
	c.mu.Unlock()

	c.teardown()
	return nil
}

func (c *CameraSession) teardown() {
	c.mu.Lock()
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	if c.tickerDone != nil {
		close(c.tickerDone)
		c.tickerDone = nil
	}
	stream := c.stream
	c.stream = nil
	wasIdle := c.state == StateIdle
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Stop(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to stop camera stream")
		}
	}
	if !wasIdle {
		observability.SetSessionActive(string(ModeCamera), false)
		c.sink.StatusChanged(ModeCamera, CameraIdlePrompt)
	}
}

// setStateLocked notifies the sink while holding the lock; sinks must not
// call back into the session from StateChanged.
func (c *CameraSession) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.state = state
	c.sink.StateChanged(ModeCamera, state)
}
