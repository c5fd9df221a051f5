package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/bryanchriswhite/rawcast/internal/capture"
	"github.com/bryanchriswhite/rawcast/internal/frame"
)

// step is one scripted PollFrame result
type step struct {
	frame *frame.Frame
	err   error
}

// fakeSource replays steps, then reports the final error forever
type fakeSource struct {
	steps []step
	final error

	sink   *fakeSink
	polls  int
	closes atomic.Int32

	// violation records a poll issued while a frame was still unwritten
	violation bool
	emitted   int

	onPoll func(n int)
}

func (s *fakeSource) PollFrame() (*frame.Frame, error) {
	s.polls++
	if s.onPoll != nil {
		s.onPoll(s.polls)
	}
	if s.sink != nil && s.sink.attempts() < s.emitted {
		s.violation = true
	}

	if len(s.steps) == 0 {
		return nil, s.final
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	if st.frame != nil && st.frame.Format.Supported() {
		s.emitted++
	}
	return st.frame, st.err
}

func (s *fakeSource) Close() error {
	s.closes.Add(1)
	return nil
}

type fakeSink struct {
	mu       sync.Mutex
	writes   [][]byte
	tries    int
	closes   atomic.Int32
	failAt   int // 1-based write attempt that fails, 0 = never
	writeErr error
}

func (s *fakeSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tries++
	if s.failAt > 0 && s.tries == s.failAt {
		return 0, s.writeErr
	}
	s.writes = append(s.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (s *fakeSink) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tries
}

func (s *fakeSink) Close() error {
	s.closes.Add(1)
	return nil
}

// countingBackOff never waits and counts suspensions
type countingBackOff struct {
	next   atomic.Int64
	resets atomic.Int64
}

func (b *countingBackOff) NextBackOff() time.Duration {
	b.next.Add(1)
	return 0
}

func (b *countingBackOff) Reset() { b.resets.Add(1) }

// paddedFrame builds a 4x2 bgr0 frame with stride 20 (4 padding bytes per row)
func paddedFrame(fill byte) *frame.Frame {
	data := make([]byte, 40)
	for row := 0; row < 2; row++ {
		for i := 0; i < 16; i++ {
			data[row*20+i] = fill + byte(row)
		}
		for i := 16; i < 20; i++ {
			data[row*20+i] = 0xEE
		}
	}
	return &frame.Frame{Width: 4, Height: 2, Format: frame.BGR0, Stride: 20, Data: data}
}

var errDisplayGone = errors.New("display disconnected")

func TestEndToEndThreeFramesThenFatal(t *testing.T) {
	sink := &fakeSink{}
	src := &fakeSource{
		steps: []step{
			{frame: paddedFrame(0x10)},
			{frame: paddedFrame(0x20)},
			{frame: paddedFrame(0x30)},
			{err: errDisplayGone},
		},
		sink: sink,
	}

	p := New(src, sink, Options{Width: 4, Height: 2, Format: frame.BGR0, Backoff: &countingBackOff{}})
	err := p.Run(context.Background())

	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StagePoll {
		t.Fatalf("Run() = %v, want frame poll StageError", err)
	}
	if !errors.Is(err, errDisplayGone) {
		t.Errorf("Run() error should wrap the capture failure: %v", err)
	}

	if len(sink.writes) != 3 {
		t.Fatalf("writes = %d, want 3", len(sink.writes))
	}
	for i, w := range sink.writes {
		if len(w) != 32 {
			t.Errorf("write %d = %d bytes, want 32", i, len(w))
		}
		if bytes.IndexByte(w, 0xEE) >= 0 {
			t.Errorf("write %d contains padding bytes", i)
		}
	}

	want := append(bytes.Repeat([]byte{0x20}, 16), bytes.Repeat([]byte{0x21}, 16)...)
	if !bytes.Equal(sink.writes[1], want) {
		t.Errorf("write 1 = %x, want %x", sink.writes[1], want)
	}

	if got := p.Stats(); got.FramesWritten != 3 || got.BytesWritten != 96 || got.State != StateStopped {
		t.Errorf("stats = %+v", got)
	}
}

func TestUnsupportedFormatIsSkipped(t *testing.T) {
	sink := &fakeSink{}
	odd := &frame.Frame{Width: 4, Height: 2, Format: frame.Unsupported, Data: make([]byte, 64)}
	src := &fakeSource{
		steps: []step{
			{frame: paddedFrame(1)},
			{frame: odd},
			{frame: paddedFrame(2)},
		},
		final: errDisplayGone,
		sink:  sink,
	}

	p := New(src, sink, Options{Backoff: &countingBackOff{}})
	err := p.Run(context.Background())
	if !errors.Is(err, errDisplayGone) {
		t.Fatalf("Run() = %v", err)
	}

	if len(sink.writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(sink.writes))
	}
	if got := p.Stats().Skipped; got != 1 {
		t.Errorf("skipped = %d, want 1", got)
	}
}

func TestMismatchedFormatIsSkipped(t *testing.T) {
	sink := &fakeSink{}
	rgba := &frame.Frame{Width: 4, Height: 2, Format: frame.RGBA, Stride: 16, Data: make([]byte, 32)}
	src := &fakeSource{
		steps: []step{{frame: rgba}, {frame: paddedFrame(1)}},
		final: errDisplayGone,
	}

	p := New(src, sink, Options{Width: 4, Height: 2, Format: frame.BGR0, Backoff: &countingBackOff{}})
	_ = p.Run(context.Background())

	if len(sink.writes) != 1 {
		t.Errorf("writes = %d, want 1", len(sink.writes))
	}
}

func TestGeometryChangeIsFatal(t *testing.T) {
	sink := &fakeSink{}
	big := &frame.Frame{Width: 8, Height: 2, Format: frame.BGR0, Stride: 32, Data: make([]byte, 64)}
	src := &fakeSource{steps: []step{{frame: paddedFrame(1)}, {frame: big}}, final: errDisplayGone}

	p := New(src, sink, Options{Width: 4, Height: 2, Format: frame.BGR0, Backoff: &countingBackOff{}})
	err := p.Run(context.Background())

	if !errors.Is(err, capture.ErrGeometryChanged) {
		t.Fatalf("Run() = %v, want ErrGeometryChanged", err)
	}
	if len(sink.writes) != 1 {
		t.Errorf("writes = %d, want 1", len(sink.writes))
	}
}

func TestNotReadyRetryBound(t *testing.T) {
	sink := &fakeSink{}
	var steps []step
	for i := 0; i < 50; i++ {
		steps = append(steps, step{err: capture.ErrNotReady})
	}
	steps = append(steps, step{frame: paddedFrame(1)})
	for i := 0; i < 7; i++ {
		steps = append(steps, step{err: capture.ErrNotReady})
	}
	steps = append(steps, step{frame: paddedFrame(2)})

	src := &fakeSource{steps: steps, final: errDisplayGone}
	bo := &countingBackOff{}

	p := New(src, sink, Options{Backoff: bo})
	err := p.Run(context.Background())
	if !errors.Is(err, errDisplayGone) {
		t.Fatalf("Run() = %v", err)
	}

	// one suspension per not-ready poll, never more
	if got := bo.next.Load(); got != 57 {
		t.Errorf("suspensions = %d, want 57", got)
	}
	if got := p.Stats().NotReady; got != 57 {
		t.Errorf("not_ready = %d, want 57", got)
	}
	if len(sink.writes) != 2 {
		t.Errorf("writes = %d, want 2", len(sink.writes))
	}
	// 57 not-ready + 2 frames + 1 fatal
	if src.polls != 60 {
		t.Errorf("polls = %d, want 60", src.polls)
	}
}

func TestNotReadySleepsBetweenPolls(t *testing.T) {
	sink := &fakeSink{}
	src := &fakeSource{
		steps: []step{{err: capture.ErrNotReady}, {err: capture.ErrNotReady}, {err: capture.ErrNotReady}},
		final: errDisplayGone,
	}

	p := New(src, sink, Options{PollInterval: 10 * time.Millisecond})
	start := time.Now()
	_ = p.Run(context.Background())

	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("three not-ready polls took %v, want at least 30ms", elapsed)
	}
}

func TestSingleFrameInFlight(t *testing.T) {
	sink := &fakeSink{}
	var steps []step
	for i := 0; i < 10; i++ {
		steps = append(steps, step{frame: paddedFrame(byte(i))})
		if i%3 == 0 {
			steps = append(steps, step{err: capture.ErrNotReady})
		}
	}
	src := &fakeSource{steps: steps, final: errDisplayGone, sink: sink}

	p := New(src, sink, Options{Backoff: &countingBackOff{}})
	_ = p.Run(context.Background())

	if src.violation {
		t.Error("a frame was polled before the previous frame's write completed")
	}
	if len(sink.writes) != 10 {
		t.Errorf("writes = %d, want 10", len(sink.writes))
	}
}

func TestShutdownClosesOncePerPath(t *testing.T) {
	tests := []struct {
		name      string
		setup     func() (*fakeSource, *fakeSink, context.Context)
		wantErr   bool
		wantStage Stage
	}{
		{
			name: "fatal capture error",
			setup: func() (*fakeSource, *fakeSink, context.Context) {
				return &fakeSource{final: errDisplayGone}, &fakeSink{}, context.Background()
			},
			wantErr:   true,
			wantStage: StagePoll,
		},
		{
			name: "sink write failure",
			setup: func() (*fakeSource, *fakeSink, context.Context) {
				src := &fakeSource{steps: []step{{frame: paddedFrame(1)}, {frame: paddedFrame(2)}}, final: errDisplayGone}
				return src, &fakeSink{failAt: 2, writeErr: syscall.EPIPE}, context.Background()
			},
			wantErr:   true,
			wantStage: StageWrite,
		},
		{
			name: "external stop",
			setup: func() (*fakeSource, *fakeSink, context.Context) {
				ctx, cancel := context.WithCancel(context.Background())
				src := &fakeSource{final: capture.ErrNotReady}
				src.onPoll = func(n int) {
					if n == 5 {
						cancel()
					}
				}
				return src, &fakeSink{}, ctx
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, sink, ctx := tt.setup()
			p := New(src, sink, Options{Backoff: &countingBackOff{}})

			err := p.Run(ctx)
			if tt.wantErr {
				var stageErr *StageError
				if !errors.As(err, &stageErr) || stageErr.Stage != tt.wantStage {
					t.Fatalf("Run() = %v, want stage %q", err, tt.wantStage)
				}
			} else if err != nil {
				t.Fatalf("Run() = %v, want nil", err)
			}

			// extra Close calls must not close again
			_ = p.Close()
			_ = p.Close()

			if got := src.closes.Load(); got != 1 {
				t.Errorf("source closed %d times, want 1", got)
			}
			if got := sink.closes.Load(); got != 1 {
				t.Errorf("sink closed %d times, want 1", got)
			}
		})
	}
}

func TestSinkWriteErrorWrapsCause(t *testing.T) {
	sink := &fakeSink{failAt: 1, writeErr: syscall.EPIPE}
	src := &fakeSource{steps: []step{{frame: paddedFrame(1)}}, final: errDisplayGone}

	err := New(src, sink, Options{Backoff: &countingBackOff{}}).Run(context.Background())
	if !errors.Is(err, syscall.EPIPE) {
		t.Fatalf("Run() = %v, want EPIPE", err)
	}
	if got := err.Error(); !strings.HasPrefix(got, "sink write: ") {
		t.Errorf("error message = %q", got)
	}
}

func TestStopWhileWaitingForFrame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{final: capture.ErrNotReady}
	sink := &fakeSink{}

	p := New(src, sink, Options{PollInterval: time.Hour})

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil on stop", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not observe stop during suspension")
	}
	if sink.closes.Load() != 1 {
		t.Error("sink not closed after stop")
	}
}

func TestRunOnlyOnce(t *testing.T) {
	src := &fakeSource{final: errDisplayGone}
	p := New(src, &fakeSink{}, Options{Backoff: &countingBackOff{}})

	_ = p.Run(context.Background())
	if err := p.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("second Run() = %v, want ErrAlreadyRun", err)
	}
}

func TestPassthroughWritesSourceBytes(t *testing.T) {
	data := make([]byte, 48)
	for i := range data {
		data[i] = byte(i)
	}
	f := &frame.Frame{Width: 4, Height: 3, Format: frame.BGRA, Stride: 16, Data: data}
	sink := &fakeSink{}
	src := &fakeSource{steps: []step{{frame: f}}, final: errDisplayGone}

	_ = New(src, sink, Options{Backoff: &countingBackOff{}}).Run(context.Background())

	if len(sink.writes) != 1 || !bytes.Equal(sink.writes[0], data) {
		t.Errorf("passthrough write mismatch")
	}
}

func TestStatsRunID(t *testing.T) {
	p := New(&fakeSource{}, &fakeSink{}, Options{RunID: "fixed"})
	if p.RunID() != "fixed" || p.Stats().RunID != "fixed" {
		t.Errorf("run id = %q", p.RunID())
	}
	if p.Stats().State != StateIdle {
		t.Errorf("state = %q, want idle", p.Stats().State)
	}

	generated := New(&fakeSource{}, &fakeSink{}, Options{})
	if len(generated.RunID()) != 36 {
		t.Errorf("generated run id = %q, want a uuid", generated.RunID())
	}
}
