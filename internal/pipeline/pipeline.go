// Package pipeline drives the capture loop: poll a frame, strip its row
// padding, write it to the sink, repeat. The loop is sequential; a slow
// sink write delays the next poll, and no frame is ever queued.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/rawcast/internal/capture"
	"github.com/bryanchriswhite/rawcast/internal/frame"
	"github.com/bryanchriswhite/rawcast/internal/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// DefaultPollInterval is the pause after a not-ready poll
const DefaultPollInterval = 5 * time.Millisecond

var ErrAlreadyRun = errors.New("pipeline already run")

// Source produces frames. PollFrame returns capture.ErrNotReady when no
// new frame exists; any other error is fatal.
type Source interface {
	PollFrame() (*frame.Frame, error)
	Close() error
}

// Sink receives one normalized frame per Write
type Sink interface {
	io.WriteCloser
}

// Options configures a pipeline
type Options struct {
	// Width, Height and Format are what the sink was told to expect.
	// Zero values disable the corresponding check.
	Width  int
	Height int
	Format frame.PixelFormat

	PollInterval time.Duration

	// Backoff overrides the not-ready suspension schedule
	Backoff backoff.BackOff

	RunID string
}

// State of the loop
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Stats is a point-in-time snapshot of pipeline counters
type Stats struct {
	RunID         string    `json:"run_id"`
	State         State     `json:"state"`
	FramesWritten uint64    `json:"frames_written"`
	BytesWritten  uint64    `json:"bytes_written"`
	NotReady      uint64    `json:"not_ready"`
	Skipped       uint64    `json:"skipped"`
	StartedAt     time.Time `json:"started_at"`
	LastFrameAt   time.Time `json:"last_frame_at"`
	Error         string    `json:"error,omitempty"`
}

// Pipeline owns a source and a sink for its whole lifetime
type Pipeline struct {
	source  Source
	sink    Sink
	opts    Options
	backoff backoff.BackOff

	scratch []byte

	ran       atomic.Bool
	closeOnce sync.Once
	closeErr  error

	state         atomic.Value
	framesWritten atomic.Uint64
	bytesWritten  atomic.Uint64
	notReady      atomic.Uint64
	skipped       atomic.Uint64
	startedAt     atomic.Int64
	lastFrameAt   atomic.Int64
	lastErr       atomic.Value
}

// New creates a pipeline. It takes ownership of source and sink: both are
// closed exactly once when Run returns, or by Close if Run never starts.
func New(source Source, sink Sink, opts Options) *Pipeline {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}

	b := opts.Backoff
	if b == nil {
		b = backoff.NewConstantBackOff(opts.PollInterval)
	}

	p := &Pipeline{
		source:  source,
		sink:    sink,
		opts:    opts,
		backoff: b,
	}
	p.state.Store(StateIdle)
	return p
}

// RunID identifies this pipeline in logs and stats
func (p *Pipeline) RunID() string {
	return p.opts.RunID
}

// Run drives the loop until ctx is cancelled (returns nil), the source
// fails, or the sink fails (returns a *StageError). Source and sink are
// closed before Run returns.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	if !p.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}

	log := logger.WithComponent("pipeline").With().Str("run_id", p.opts.RunID).Logger()

	p.startedAt.Store(time.Now().UnixNano())
	p.state.Store(StateRunning)
	p.backoff.Reset()

	defer func() {
		if closeErr := p.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to release pipeline resources")
			err = errors.Join(err, closeErr)
		}
		if err != nil {
			p.lastErr.Store(err.Error())
		}
		p.state.Store(StateStopped)

		log.Info().
			Uint64("frames", p.framesWritten.Load()).
			Uint64("bytes", p.bytesWritten.Load()).
			Uint64("skipped", p.skipped.Load()).
			Uint64("not_ready", p.notReady.Load()).
			AnErr("error", err).
			Msg("Pipeline stopped")
	}()

	log.Info().
		Int("width", p.opts.Width).
		Int("height", p.opts.Height).
		Str("format", p.opts.Format.String()).
		Msg("Pipeline started")

	for {
		if ctx.Err() != nil {
			log.Info().Msg("Stop requested")
			return nil
		}

		f, err := p.source.PollFrame()
		if errors.Is(err, capture.ErrNotReady) {
			p.notReady.Add(1)
			log.Trace().Msg("Waiting for frame")
			if err := p.suspend(ctx); err != nil {
				log.Info().Msg("Stop requested while waiting for frame")
				return nil
			}
			continue
		}
		if err != nil {
			return &StageError{Stage: StagePoll, Err: err}
		}
		p.backoff.Reset()

		if err := p.writeFrame(f); err != nil {
			var skip *skipError
			if errors.As(err, &skip) {
				p.skipped.Add(1)
				log.Warn().Err(skip.err).Msg("Skipping frame")
				continue
			}
			return err
		}
	}
}

// suspend waits once before the next poll. It returns ctx.Err() if the
// pipeline is stopped during the wait.
func (p *Pipeline) suspend(ctx context.Context) error {
	d := p.backoff.NextBackOff()
	if d == backoff.Stop {
		d = p.opts.PollInterval
	}
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type skipError struct {
	err error
}

func (e *skipError) Error() string { return e.err.Error() }

// writeFrame normalizes f and writes it with a single Write call
func (p *Pipeline) writeFrame(f *frame.Frame) error {
	if !f.Format.Supported() {
		return &skipError{err: fmt.Errorf("%w: %s", frame.ErrUnsupportedFormat, f.Format)}
	}
	if p.opts.Format != frame.Unsupported && !f.Format.Compatible(p.opts.Format) {
		return &skipError{err: fmt.Errorf("%w: frame is %s, sink expects %s",
			frame.ErrUnsupportedFormat, f.Format, p.opts.Format)}
	}
	if (p.opts.Width > 0 && f.Width != p.opts.Width) || (p.opts.Height > 0 && f.Height != p.opts.Height) {
		return &StageError{Stage: StagePoll, Err: fmt.Errorf("%w: frame is %dx%d, session is %dx%d",
			capture.ErrGeometryChanged, f.Width, f.Height, p.opts.Width, p.opts.Height)}
	}

	data, err := frame.Normalize(f, p.scratch)
	if err != nil {
		return &StageError{Stage: StagePoll, Err: err}
	}
	if f.Padded() {
		p.scratch = data
	}

	n, err := p.sink.Write(data)
	if err == nil && n != len(data) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &StageError{Stage: StageWrite, Err: err}
	}

	p.framesWritten.Add(1)
	p.bytesWritten.Add(uint64(n))
	p.lastFrameAt.Store(time.Now().UnixNano())
	return nil
}

// Close releases the source and the sink. Only the first call acts.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		if err := p.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close capture session: %w", err))
		}
		if err := p.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}

// Stats returns a snapshot of the counters; safe for concurrent use
func (p *Pipeline) Stats() Stats {
	s := Stats{
		RunID:         p.opts.RunID,
		State:         p.state.Load().(State),
		FramesWritten: p.framesWritten.Load(),
		BytesWritten:  p.bytesWritten.Load(),
		NotReady:      p.notReady.Load(),
		Skipped:       p.skipped.Load(),
	}
	if ns := p.startedAt.Load(); ns != 0 {
		s.StartedAt = time.Unix(0, ns)
	}
	if ns := p.lastFrameAt.Load(); ns != 0 {
		s.LastFrameAt = time.Unix(0, ns)
	}
	if msg, ok := p.lastErr.Load().(string); ok {
		s.Error = msg
	}
	return s
}
