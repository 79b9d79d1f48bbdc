package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// PlayerConfig describes the local audio output leg.
type PlayerConfig struct {
	Command    string
	SampleRate int
}

// PCMPlayer plays raw PCM (s16le, mono) through an external ffplay process.
type PCMPlayer struct {
	cfg PlayerConfig
}

// NewPCMPlayer creates a player. Zero-valued config fields fall back to
// ffplay at 24 kHz.
func NewPCMPlayer(cfg PlayerConfig) *PCMPlayer {
	if cfg.Command == "" {
		cfg.Command = "ffplay"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	return &PCMPlayer{cfg: cfg}
}

// Open starts a playback process; audio written to the returned sink plays
// immediately. Closing the sink lets the process drain and exit.
func (p *PCMPlayer) Open(ctx context.Context) (*Playback, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "quiet",
		"-autoexit",
		"-nodisp",
		"-f", "s16le",
		"-ar", strconv.Itoa(p.cfg.SampleRate),
		"-i", "pipe:0",
	}

	cmd := exec.CommandContext(ctx, p.cfg.Command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffplay stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffplay: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	return &Playback{
		stdin:   stdin,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

// Playback is one live playback stream.
type Playback struct {
	stdin   io.WriteCloser
	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
}

func (p *Playback) Write(data []byte) (int, error) {
	return p.stdin.Write(data)
}

// Done lets playback finish naturally: the input is closed and the process
// drains its buffer before exiting.
func (p *Playback) Done() error {
	p.stdin.Close()
	select {
	case err := <-p.waitErr:
		return normalizeExit(err)
	case <-time.After(30 * time.Second):
		return p.Stop()
	}
}

// Stop interrupts playback immediately.
func (p *Playback) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		p.stdin.Close()
		if p.process != nil {
			_ = p.process.Kill()
		}
		if waitErr, ok := <-p.waitErr; ok {
			err = normalizeExit(waitErr)
		}
	})
	return err
}
