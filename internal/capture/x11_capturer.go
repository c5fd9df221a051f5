package capture

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/rawcast/internal/frame"
	"github.com/bryanchriswhite/rawcast/internal/logger"
)

// X11Backend captures the screen with core X11 GetImage requests
type X11Backend struct {
	conn   *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo
	setup  *xproto.SetupInfo
	randr  bool
	mu     sync.Mutex
}

// NewX11Backend connects to the X server named by $DISPLAY
func NewX11Backend() (*X11Backend, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to X server: %v%s", ErrUnavailable, err, environmentHint())
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	b := &X11Backend{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
		setup:  setup,
	}

	log := logger.WithComponent("x11-capture")
	if err := randr.Init(conn); err != nil {
		log.Debug().Err(err).Msg("RandR extension not available, using the whole root window")
	} else if _, err := randr.QueryVersion(conn, 1, 3).Reply(); err != nil {
		log.Debug().Err(err).Msg("RandR version query failed, using the whole root window")
	} else {
		b.randr = true
	}

	return b, nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return "x11"
}

// Close closes the X connection unless a session took it over
func (b *X11Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	return nil
}

func (b *X11Backend) rootDisplay() Display {
	return Display{
		Backend: b.Name(),
		Index:   0,
		Name:    "root",
		Bounds:  image.Rect(0, 0, int(b.screen.WidthInPixels), int(b.screen.HeightInPixels)),
		Primary: true,
	}
}

// Displays lists connected RandR outputs, or the root window when RandR is missing
func (b *X11Backend) Displays() ([]Display, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil, ErrSessionClosed
	}
	if !b.randr {
		return []Display{b.rootDisplay()}, nil
	}

	res, err := randr.GetScreenResourcesCurrent(b.conn, b.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	var primary randr.Output
	if reply, err := randr.GetOutputPrimary(b.conn, b.root).Reply(); err == nil {
		primary = reply.Output
	}

	var displays []Display
	for _, output := range res.Outputs {
		info, err := randr.GetOutputInfo(b.conn, output, res.ConfigTimestamp).Reply()
		if err != nil || info.Connection != randr.ConnectionConnected || info.Crtc == 0 {
			continue
		}
		crtc, err := randr.GetCrtcInfo(b.conn, info.Crtc, res.ConfigTimestamp).Reply()
		if err != nil || crtc.Width == 0 || crtc.Height == 0 {
			continue
		}
		displays = append(displays, Display{
			Backend: b.Name(),
			Index:   len(displays),
			Name:    string(info.Name),
			Bounds:  image.Rect(int(crtc.X), int(crtc.Y), int(crtc.X)+int(crtc.Width), int(crtc.Y)+int(crtc.Height)),
			Primary: output == primary,
		})
	}

	if len(displays) == 0 {
		return []Display{b.rootDisplay()}, nil
	}
	return displays, nil
}

// PrimaryDisplay returns the RandR primary output, falling back to the
// first connected output and then to the root window
func (b *X11Backend) PrimaryDisplay() (Display, error) {
	displays, err := b.Displays()
	if err != nil {
		logger.WithComponent("x11-capture").Warn().Err(err).Msg("Failed to enumerate outputs, using root window")
		return b.rootDisplay(), nil
	}
	for _, d := range displays {
		if d.Primary {
			return d, nil
		}
	}
	d := displays[0]
	d.Primary = true
	return d, nil
}

// nativeFormat derives the ZPixmap layout of the root window
func (b *X11Backend) nativeFormat() (frame.PixelFormat, int, int, error) {
	depth := b.screen.RootDepth
	for _, pf := range b.setup.PixmapFormats {
		if pf.Depth != depth {
			continue
		}
		if pf.BitsPerPixel != 32 || b.setup.ImageByteOrder != xproto.ImageOrderLSBFirst {
			return frame.Unsupported, 0, 0, fmt.Errorf("%w: root depth %d with %d bits per pixel (byte order %d) is not supported",
				ErrUnavailable, depth, pf.BitsPerPixel, b.setup.ImageByteOrder)
		}
		native := frame.BGR0
		if depth == 32 {
			native = frame.BGRA
		}
		return native, int(pf.BitsPerPixel), int(pf.ScanlinePad), nil
	}
	return frame.Unsupported, 0, 0, fmt.Errorf("%w: no pixmap format for root depth %d", ErrUnavailable, depth)
}

// Open starts capturing d and hands the X connection to the session
func (b *X11Backend) Open(d Display, opts Options) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil, ErrSessionClosed
	}

	native, bpp, pad, err := b.nativeFormat()
	if err != nil {
		return nil, err
	}
	format, err := opts.resolveFormat(native)
	if err != nil {
		return nil, err
	}
	region, err := opts.region(d)
	if err != nil {
		return nil, err
	}

	width := region.Dx()
	rowBits := width * bpp
	stride := ((rowBits + pad - 1) / pad) * pad / 8

	s := &x11Session{
		conn:   b.conn,
		root:   b.root,
		region: region,
		format: format,
		stride: stride,
		fps:    opts.FPS,
		pacer:  newPacer(opts.FPS),
	}

	log := logger.WithComponent("x11-capture")
	if opts.ShowCursor {
		if cur, err := newCursorOverlay(b.conn); err != nil {
			log.Warn().Err(err).Msg("XFIXES not available, cursor will not be drawn")
		} else {
			s.cursor = cur
		}
	}

	if opts.Scale != (image.Point{}) {
		sc, err := newScaler(format, opts.Scale)
		if err != nil {
			return nil, err
		}
		s.scaler = sc
	}

	b.conn = nil

	log.Info().
		Str("display", d.String()).
		Str("format", format.String()).
		Int("width", s.Width()).
		Int("height", s.Height()).
		Int("stride", stride).
		Int("fps", opts.FPS).
		Msg("X11 capture session opened")

	return s, nil
}

type x11Session struct {
	conn   *xgb.Conn
	root   xproto.Window
	region image.Rectangle
	format frame.PixelFormat
	stride int
	fps    int
	pacer  *pacer
	cursor *cursorOverlay
	scaler *scaler
	closed bool
}

func (s *x11Session) Width() int {
	if s.scaler != nil {
		return s.scaler.size.X
	}
	return s.region.Dx()
}

func (s *x11Session) Height() int {
	if s.scaler != nil {
		return s.scaler.size.Y
	}
	return s.region.Dy()
}

func (s *x11Session) Format() frame.PixelFormat { return s.format }

func (s *x11Session) FPS() int { return s.fps }

// PollFrame grabs the capture region from the root window
func (s *x11Session) PollFrame() (*frame.Frame, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if !s.pacer.ready() {
		return nil, ErrNotReady
	}

	width, height := s.region.Dx(), s.region.Dy()
	reply, err := xproto.GetImage(
		s.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(s.root),
		int16(s.region.Min.X), int16(s.region.Min.Y),
		uint16(width), uint16(height),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("%w: get image: %v", ErrCaptureFailed, err)
	}
	s.pacer.mark()

	if len(reply.Data) < s.stride*(height-1)+width*4 {
		return nil, fmt.Errorf("%w: got %d bytes for %dx%d (stride %d)",
			ErrGeometryChanged, len(reply.Data), width, height, s.stride)
	}

	f := &frame.Frame{
		Width:  width,
		Height: height,
		Format: s.format,
		Stride: s.stride,
		Data:   reply.Data,
	}

	if s.cursor != nil {
		s.cursor.draw(f, s.region.Min)
	}
	if s.scaler != nil {
		f = s.scaler.scale(f)
	}
	return f, nil
}

// Close releases the X connection; safe to call more than once
func (s *x11Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.conn.Close()
	return nil
}

// cursorOverlay composites the pointer image, which GetImage never includes
type cursorOverlay struct {
	conn *xgb.Conn
}

func newCursorOverlay(conn *xgb.Conn) (*cursorOverlay, error) {
	if err := xfixes.Init(conn); err != nil {
		return nil, err
	}
	if _, err := xfixes.QueryVersion(conn, 4, 0).Reply(); err != nil {
		return nil, err
	}
	return &cursorOverlay{conn: conn}, nil
}

func (c *cursorOverlay) draw(f *frame.Frame, origin image.Point) {
	reply, err := xfixes.GetCursorImage(c.conn).Reply()
	if err != nil {
		logger.WithComponent("x11-capture").Debug().Err(err).Msg("Failed to get cursor image")
		return
	}

	img := cursorImage{
		pos:    image.Pt(int(reply.X)-int(reply.Xhot), int(reply.Y)-int(reply.Yhot)).Sub(origin),
		width:  int(reply.Width),
		height: int(reply.Height),
		argb:   reply.CursorImage,
	}
	img.blend(f)
}

// cursorImage is a premultiplied ARGB pointer image positioned in frame coordinates
type cursorImage struct {
	pos    image.Point
	width  int
	height int
	argb   []uint32
}

// blend draws the cursor onto a 4-byte B,G,R,x frame
func (c cursorImage) blend(f *frame.Frame) {
	if f.Format.BytesPerPixel() != 4 || len(c.argb) < c.width*c.height {
		return
	}
	stride := f.RowStride()

	for cy := 0; cy < c.height; cy++ {
		y := c.pos.Y + cy
		if y < 0 || y >= f.Height {
			continue
		}
		for cx := 0; cx < c.width; cx++ {
			x := c.pos.X + cx
			if x < 0 || x >= f.Width {
				continue
			}
			p := c.argb[cy*c.width+cx]
			a := p >> 24
			if a == 0 {
				continue
			}
			i := y*stride + x*4
			inv := 255 - a
			f.Data[i] = uint8(p&0xff + uint32(f.Data[i])*inv/255)
			f.Data[i+1] = uint8((p>>8)&0xff + uint32(f.Data[i+1])*inv/255)
			f.Data[i+2] = uint8((p>>16)&0xff + uint32(f.Data[i+2])*inv/255)
		}
	}
}
