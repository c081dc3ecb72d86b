package playback

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"github.com/teslashibe/amber-eyes/internal/log"
	"github.com/teslashibe/amber-eyes/pkg/audioio"
)

// Speaker plays mixed frames on the local audio device through an ffplay
// child process reading raw PCM from stdin. The process starts on the
// first frame and restarts after a failed write.
type Speaker struct {
	logger *slog.Logger
	binary string

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewSpeaker creates a speaker sink.
func NewSpeaker(logger *slog.Logger) *Speaker {
	return &Speaker{
		logger: log.Or(logger).With("component", "speaker"),
		binary: "ffplay",
	}
}

// Args returns the ffplay command line.
func (s *Speaker) Args() []string {
	return []string{
		"-nodisp", "-hide_banner", "-loglevel", "error",
		"-fflags", "nobuffer",
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ch_layout", "mono",
		"-i", "-",
	}
}

// WriteFrame implements Sink.
func (s *Speaker) WriteFrame(frame []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdin == nil {
		if err := s.startLocked(); err != nil {
			return fmt.Errorf("start ffplay: %w", err)
		}
	}

	if _, err := s.stdin.Write(audioio.SamplesToBytes(frame)); err != nil {
		s.stopLocked()
		return fmt.Errorf("write to ffplay: %w", err)
	}
	return nil
}

func (s *Speaker) startLocked() error {
	cmd := exec.Command(s.binary, s.Args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	s.cmd = cmd
	s.stdin = stdin
	s.logger.Debug("ffplay started", "pid", cmd.Process.Pid)
	return nil
}

func (s *Speaker) stopLocked() {
	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	s.cmd = nil
}

// Name implements Sink.
func (s *Speaker) Name() string { return "speaker" }

// Close stops ffplay.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}
