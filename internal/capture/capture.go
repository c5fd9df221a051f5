package capture

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/bryanchriswhite/rawcast/internal/config"
	"github.com/bryanchriswhite/rawcast/internal/frame"
)

var (
	// ErrNotReady means no new frame exists since the last poll. It is
	// not a failure; callers retry shortly.
	ErrNotReady = errors.New("frame not ready")

	ErrUnavailable     = errors.New("screen capture unavailable")
	ErrNoDisplay       = errors.New("no display found")
	ErrInvalidOptions  = errors.New("invalid capture options")
	ErrSessionClosed   = errors.New("capture session closed")
	ErrGeometryChanged = errors.New("display geometry changed")
	ErrCaptureFailed   = errors.New("frame capture failed")
)

// Display identifies a physical screen as seen by a backend
type Display struct {
	Backend string          `json:"backend"`
	Index   int             `json:"index"`
	Name    string          `json:"name"`
	Bounds  image.Rectangle `json:"bounds"`
	Primary bool            `json:"primary"`
}

func (d Display) String() string {
	return fmt.Sprintf("%s:%d %s %dx%d+%d+%d", d.Backend, d.Index, d.Name,
		d.Bounds.Dx(), d.Bounds.Dy(), d.Bounds.Min.X, d.Bounds.Min.Y)
}

// Options configures a capture session
type Options struct {
	// FPS is the target frame rate. Polls faster than this report ErrNotReady.
	FPS int

	// PixelFormat declares the frame layout. Unsupported (the zero value)
	// selects the backend's native format.
	PixelFormat frame.PixelFormat

	// Crop is relative to the display origin. Empty captures the whole display.
	Crop image.Rectangle

	// Scale is the output resolution. Zero keeps the captured size.
	Scale image.Point

	ShowCursor bool
}

// OptionsFromConfig translates the capture section of the configuration
func OptionsFromConfig(cfg config.CaptureConfig) (Options, error) {
	opts := Options{
		FPS:        cfg.FPS,
		ShowCursor: cfg.ShowCursor,
	}

	if cfg.PixelFormat != "" && cfg.PixelFormat != config.PixelFormatAuto {
		pf, err := frame.ParsePixelFormat(cfg.PixelFormat)
		if err != nil {
			return Options{}, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
		opts.PixelFormat = pf
	}

	if cfg.Crop.Enabled() {
		opts.Crop = image.Rect(cfg.Crop.X, cfg.Crop.Y, cfg.Crop.X+cfg.Crop.Width, cfg.Crop.Y+cfg.Crop.Height)
	}
	if cfg.Scale.Enabled() {
		opts.Scale = image.Pt(cfg.Scale.Width, cfg.Scale.Height)
	}

	if opts.FPS <= 0 {
		return Options{}, fmt.Errorf("%w: fps must be positive", ErrInvalidOptions)
	}
	return opts, nil
}

// region resolves the capture rectangle in backend coordinates
func (o Options) region(d Display) (image.Rectangle, error) {
	if o.Crop.Empty() {
		return d.Bounds, nil
	}
	r := o.Crop.Add(d.Bounds.Min)
	if !r.In(d.Bounds) {
		return image.Rectangle{}, fmt.Errorf("%w: crop %v exceeds display %dx%d",
			ErrInvalidOptions, o.Crop, d.Bounds.Dx(), d.Bounds.Dy())
	}
	return r, nil
}

// resolveFormat picks the session format from the native layout and an
// optional request
func (o Options) resolveFormat(native frame.PixelFormat) (frame.PixelFormat, error) {
	if o.PixelFormat == frame.Unsupported {
		return native, nil
	}
	if !o.PixelFormat.Compatible(native) {
		return frame.Unsupported, fmt.Errorf("%w: pixel format %s not available (native layout is %s)",
			ErrInvalidOptions, o.PixelFormat, native)
	}
	return o.PixelFormat, nil
}

// Session is an open capture on one display. Its geometry and format are
// fixed for its lifetime.
type Session interface {
	Width() int
	Height() int
	Format() frame.PixelFormat
	FPS() int

	// PollFrame returns the next frame, ErrNotReady, or a fatal error.
	// A returned frame is valid until the next call.
	PollFrame() (*frame.Frame, error)

	Close() error
}

// Backend is an OS screen capture facility
type Backend interface {
	Name() string
	Displays() ([]Display, error)
	PrimaryDisplay() (Display, error)

	// Open starts a session on d. The session owns the backend's
	// resources from then on.
	Open(d Display, opts Options) (Session, error)

	// Close releases resources not handed to a session
	Close() error
}

// pacer enforces the advisory frame rate
type pacer struct {
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

func newPacer(fps int) *pacer {
	p := &pacer{now: time.Now}
	if fps > 0 {
		p.interval = time.Second / time.Duration(fps)
	}
	return p
}

func (p *pacer) ready() bool {
	return p.last.IsZero() || p.now().Sub(p.last) >= p.interval
}

func (p *pacer) mark() {
	p.last = p.now()
}
