package capture

import (
	"fmt"
	"image"

	"github.com/bryanchriswhite/rawcast/internal/frame"
	"golang.org/x/image/draw"
)

// scaler downsizes 4-byte packed frames. Bilinear interpolation treats each
// byte lane independently, so channel order does not matter.
type scaler struct {
	size image.Point
	dst  *image.RGBA
}

func newScaler(format frame.PixelFormat, size image.Point) (*scaler, error) {
	if format.BytesPerPixel() != 4 {
		return nil, fmt.Errorf("%w: scaling requires a 4-byte pixel format, got %s", ErrInvalidOptions, format)
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("%w: scale size %v", ErrInvalidOptions, size)
	}
	return &scaler{
		size: size,
		dst:  image.NewRGBA(image.Rect(0, 0, size.X, size.Y)),
	}, nil
}

// scale returns a packed frame backed by the scaler's buffer, valid until
// the next call
func (s *scaler) scale(f *frame.Frame) *frame.Frame {
	src := &image.RGBA{
		Pix:    f.Data,
		Stride: f.RowStride(),
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
	draw.ApproxBiLinear.Scale(s.dst, s.dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	return &frame.Frame{
		Width:  s.size.X,
		Height: s.size.Y,
		Format: f.Format,
		Stride: s.dst.Stride,
		Data:   s.dst.Pix,
	}
}
