package capture

import (
	"fmt"
	"image"

	"github.com/bryanchriswhite/rawcast/internal/frame"
	"github.com/bryanchriswhite/rawcast/internal/logger"
	"github.com/kbinani/screenshot"
)

// ScreenshotBackend captures through github.com/kbinani/screenshot, which
// works on Linux (X11), macOS and Windows but always yields RGBA
type ScreenshotBackend struct{}

// NewScreenshotBackend checks that at least one display is active
func NewScreenshotBackend() (*ScreenshotBackend, error) {
	if screenshot.NumActiveDisplays() <= 0 {
		return nil, fmt.Errorf("%w: screenshot backend found no active displays%s", ErrNoDisplay, environmentHint())
	}
	return &ScreenshotBackend{}, nil
}

// Name returns the backend name
func (b *ScreenshotBackend) Name() string {
	return "screenshot"
}

// Close is a no-op; the library opens connections per capture
func (b *ScreenshotBackend) Close() error {
	return nil
}

// Displays lists active displays; display 0 is the primary one
func (b *ScreenshotBackend) Displays() ([]Display, error) {
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return nil, ErrNoDisplay
	}
	displays := make([]Display, 0, n)
	for i := 0; i < n; i++ {
		displays = append(displays, Display{
			Backend: b.Name(),
			Index:   i,
			Name:    fmt.Sprintf("display%d", i),
			Bounds:  screenshot.GetDisplayBounds(i),
			Primary: i == 0,
		})
	}
	return displays, nil
}

// PrimaryDisplay returns display 0
func (b *ScreenshotBackend) PrimaryDisplay() (Display, error) {
	displays, err := b.Displays()
	if err != nil {
		return Display{}, err
	}
	return displays[0], nil
}

// Open starts a session on d
func (b *ScreenshotBackend) Open(d Display, opts Options) (Session, error) {
	format, err := opts.resolveFormat(frame.RGBA)
	if err != nil {
		return nil, err
	}
	region, err := opts.region(d)
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("screenshot-capture")
	if opts.ShowCursor {
		log.Warn().Msg("Screenshot backend cannot draw the cursor")
	}

	s := &screenshotSession{
		region: region,
		format: format,
		fps:    opts.FPS,
		pacer:  newPacer(opts.FPS),
	}
	if opts.Scale != (image.Point{}) {
		sc, err := newScaler(format, opts.Scale)
		if err != nil {
			return nil, err
		}
		s.scaler = sc
	}

	log.Info().
		Str("display", d.String()).
		Str("format", format.String()).
		Int("width", s.Width()).
		Int("height", s.Height()).
		Int("fps", opts.FPS).
		Msg("Screenshot capture session opened")

	return s, nil
}

type screenshotSession struct {
	region image.Rectangle
	format frame.PixelFormat
	fps    int
	pacer  *pacer
	scaler *scaler
	closed bool
}

func (s *screenshotSession) Width() int {
	if s.scaler != nil {
		return s.scaler.size.X
	}
	return s.region.Dx()
}

func (s *screenshotSession) Height() int {
	if s.scaler != nil {
		return s.scaler.size.Y
	}
	return s.region.Dy()
}

func (s *screenshotSession) Format() frame.PixelFormat { return s.format }

func (s *screenshotSession) FPS() int { return s.fps }

func (s *screenshotSession) PollFrame() (*frame.Frame, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if !s.pacer.ready() {
		return nil, ErrNotReady
	}

	img, err := screenshot.CaptureRect(s.region)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	s.pacer.mark()

	b := img.Bounds()
	if b.Dx() != s.region.Dx() || b.Dy() != s.region.Dy() {
		return nil, fmt.Errorf("%w: captured %dx%d, session is %dx%d",
			ErrGeometryChanged, b.Dx(), b.Dy(), s.region.Dx(), s.region.Dy())
	}

	f := &frame.Frame{
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: s.format,
		Stride: img.Stride,
		Data:   img.Pix[img.PixOffset(b.Min.X, b.Min.Y):],
	}
	if s.scaler != nil {
		f = s.scaler.scale(f)
	}
	return f, nil
}

func (s *screenshotSession) Close() error {
	s.closed = true
	return nil
}
