package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/rawcast/internal/logger"
)

var (
	ErrNotRunning     = errors.New("encoder not running")
	ErrAlreadyStarted = errors.New("encoder already started")
)

const defaultCloseTimeout = 3 * time.Second

var _ Output = (*Encoder)(nil)

// Encoder runs an external encoder (ffplay, ffmpeg, ...) and feeds raw
// frames to its stdin
type Encoder struct {
	config Config

	mu      sync.RWMutex
	cmd     *exec.Cmd
	stdin   *os.File
	running bool
	started bool

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error

	deadlines bool
}

// NewEncoder creates an encoder; nothing is launched until Start
func NewEncoder(cfg Config) *Encoder {
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	return &Encoder{
		config: cfg,
		done:   make(chan struct{}),
	}
}

// Start launches the encoder process with its stdin connected to a pipe
func (e *Encoder) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}

	log := logger.WithComponent("encoder")
	args := BuildArgs(e.config)

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	cmd := exec.Command(e.config.Command, args...)
	cmd.Stdin = r
	cmd.Stdout = os.Stdout
	cmd.Stderr = &stderrLogger{}
	cmd.WaitDelay = e.config.CloseTimeout
	configureProcess(cmd)

	log.Debug().
		Str("command", e.config.Command).
		Strs("args", args).
		Msg("Starting encoder subprocess")

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return fmt.Errorf("failed to start %s: %w", e.config.Command, err)
	}
	// The child holds its own copy of the read end.
	r.Close()

	e.cmd = cmd
	e.stdin = w
	e.started = true
	e.running = true
	e.deadlines = e.config.WriteTimeout > 0

	go e.wait()

	log.Info().
		Str("command", e.config.Command).
		Int("pid", cmd.Process.Pid).
		Str("pixel_format", e.config.PixelFormat.FFmpegName()).
		Str("video_size", fmt.Sprintf("%dx%d", e.config.Width, e.config.Height)).
		Int("framerate", e.config.FPS).
		Msg("Encoder subprocess started")

	return nil
}

// StartContext is Start, except that nothing is launched once ctx is done
func (e *Encoder) StartContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.Start()
}

func (e *Encoder) wait() {
	err := e.cmd.Wait()

	e.mu.Lock()
	e.waitErr = err
	e.running = false
	e.mu.Unlock()
	close(e.done)

	log := logger.WithComponent("encoder")
	if err != nil {
		log.Debug().Err(err).Msg("Encoder subprocess exited")
	} else {
		log.Debug().Msg("Encoder subprocess exited cleanly")
	}
}

// Write blocks until p is written to the encoder's stdin, or until the
// configured write timeout passes
func (e *Encoder) Write(p []byte) (int, error) {
	e.mu.RLock()
	stdin := e.stdin
	started := e.started
	e.mu.RUnlock()

	if !started || stdin == nil {
		return 0, ErrNotRunning
	}

	if e.deadlines {
		if err := stdin.SetWriteDeadline(time.Now().Add(e.config.WriteTimeout)); err != nil {
			logger.WithComponent("encoder").Warn().Err(err).Msg("Write deadlines not supported, writes are unbounded")
			e.deadlines = false
		}
	}

	n, err := stdin.Write(p)
	if err != nil {
		return n, fmt.Errorf("write to %s: %w", e.config.Command, err)
	}
	return n, nil
}

// Close closes stdin so the encoder sees end of stream, waits up to the
// close timeout for it to exit, then kills it. Only the first call acts.
func (e *Encoder) Close() error {
	e.closeOnce.Do(func() {
		e.mu.RLock()
		stdin := e.stdin
		started := e.started
		e.mu.RUnlock()

		if !started {
			return
		}

		log := logger.WithComponent("encoder")
		if err := stdin.Close(); err != nil {
			e.closeErr = fmt.Errorf("failed to close encoder stdin: %w", err)
		}

		select {
		case <-e.done:
		case <-time.After(e.config.CloseTimeout):
			log.Warn().
				Int("pid", e.cmd.Process.Pid).
				Dur("timeout", e.config.CloseTimeout).
				Msg("Encoder did not exit after end of stream, killing it")
			if err := killProcess(e.cmd); err != nil {
				log.Debug().Err(err).Msg("Kill failed")
			}
			<-e.done
		}

		log.Info().Msg("Encoder subprocess stopped")
	})
	return e.closeErr
}

// Name returns the output type name
func (e *Encoder) Name() string {
	return "encoder(" + e.config.Command + ")"
}

// IsRunning returns true while the encoder process is alive
func (e *Encoder) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// ExitErr returns the process exit error once it has exited
func (e *Encoder) ExitErr() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.waitErr
}

// Done is closed when the encoder process exits
func (e *Encoder) Done() <-chan struct{} {
	return e.done
}

// stderrLogger forwards encoder stderr line by line to the log
type stderrLogger struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *stderrLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Write(p)
	for {
		data := l.buf.Bytes()
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(data[:i]))
		l.buf.Next(i + 1)
		if line != "" {
			logLine(line)
		}
	}
	return len(p), nil
}

func logLine(line string) {
	log := logger.WithComponent("encoder")
	lower := strings.ToLower(line)
	if strings.Contains(lower, "error") || strings.Contains(lower, "warn") {
		log.Warn().Str("stderr", line).Msg("Encoder message")
	} else {
		log.Debug().Str("stderr", line).Msg("Encoder output")
	}
}
