package capture

import (
	"os"
	"os/exec"
	"strings"

	"github.com/emosense/companion/internal/observability"
)

// Capabilities reports which capture modalities this system can serve,
// probed once at startup and cached. Text input needs no capability.
type Capabilities struct {
	Voice        bool
	Camera       bool
	VoiceReason  string
	CameraReason string
}

// Probe inspects the environment for the binaries and credentials the
// capture adapters depend on. ffmpegPath may be empty, in which case the
// binary is looked up on PATH.
func Probe(ffmpegPath, recognizerAPIKey, cameraDevice string) Capabilities {
	logger := observability.WithComponent("capture")
	caps := Capabilities{Voice: true, Camera: true}

	resolved := ffmpegPath
	if resolved == "" {
		resolved = "ffmpeg"
	}
	if _, err := exec.LookPath(resolved); err != nil {
		caps.Voice = false
		caps.Camera = false
		caps.VoiceReason = "ffmpeg not found"
		caps.CameraReason = "ffmpeg not found"
		logger.Warn().Str("ffmpeg", resolved).Msg("ffmpeg not found, voice and camera capture disabled")
		return caps
	}

	if recognizerAPIKey == "" {
		caps.Voice = false
		caps.VoiceReason = "speech recognition API key not configured"
		logger.Warn().Msg("Speech recognition API key not configured, voice capture disabled")
	}

	// Only device-node style names can be checked up front; avfoundation
	// style indices are validated when the stream opens.
	if strings.HasPrefix(cameraDevice, "/") {
		if _, err := os.Stat(cameraDevice); err != nil {
			caps.Camera = false
			caps.CameraReason = "camera device not present"
			logger.Warn().Str("device", cameraDevice).Msg("Camera device not present, camera capture disabled")
		}
	}

	return caps
}
