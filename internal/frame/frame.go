// Package frame describes captured screen frames and strips the row
// padding capture APIs leave behind, so a sink receives tightly packed
// rows it can re-segment from width, height and pixel format alone.
package frame

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	ErrInvalidGeometry   = errors.New("invalid frame geometry")
)

// Frame is one captured screen snapshot
type Frame struct {
	Width  int
	Height int
	Format PixelFormat

	// Stride is the number of bytes per row of the first plane, padding
	// included. Zero means len(Data)/Height for packed formats. Planar
	// frames may leave it zero only when Data is exactly the packed size.
	Stride int

	Data []byte
}

// RowStride returns the effective stride of the first plane, or 0 when it
// cannot be derived
func (f *Frame) RowStride() int {
	if f.Stride > 0 {
		return f.Stride
	}
	if f.Height <= 0 {
		return 0
	}
	if f.Format.Planar() {
		if len(f.Data) == FrameSize(f.Width, f.Height, f.Format) {
			return f.Width
		}
		return 0
	}
	return len(f.Data) / f.Height
}

// RowLen returns the unpadded byte length of one row of the first plane
func (f *Frame) RowLen() int {
	if f.Format.Planar() {
		return f.Width
	}
	return f.Width * f.Format.BytesPerPixel()
}

// Size returns the number of bytes the frame occupies once normalized
func (f *Frame) Size() int {
	return FrameSize(f.Width, f.Height, f.Format)
}

// FrameSize returns the packed size of a width x height frame in format
func FrameSize(width, height int, format PixelFormat) int {
	if format.Planar() {
		cw, ch := chromaDims(width, height)
		return width*height + 2*cw*ch
	}
	return width * height * format.BytesPerPixel()
}

func chromaDims(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

type plane struct {
	offset int
	stride int
	rowlen int
	rows   int
}

// planes returns the layout of every plane in the source buffer
func (f *Frame) planes() []plane {
	stride := f.RowStride()
	if !f.Format.Planar() {
		return []plane{{offset: 0, stride: stride, rowlen: f.RowLen(), rows: f.Height}}
	}

	cw, ch := chromaDims(f.Width, f.Height)
	cstride := (stride + 1) / 2
	luma := stride * f.Height
	chroma := cstride * ch
	return []plane{
		{offset: 0, stride: stride, rowlen: f.Width, rows: f.Height},
		{offset: luma, stride: cstride, rowlen: cw, rows: ch},
		{offset: luma + chroma, stride: cstride, rowlen: cw, rows: ch},
	}
}

// Validate checks the frame against its declared geometry
func (f *Frame) Validate() error {
	if !f.Format.Supported() {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Format)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidGeometry, f.Width, f.Height)
	}
	if f.Stride == 0 && f.Format.Planar() && f.RowStride() == 0 {
		return fmt.Errorf("%w: %s frame of %d bytes needs an explicit stride (packed size is %d)",
			ErrInvalidGeometry, f.Format, len(f.Data), f.Size())
	}

	for i, p := range f.planes() {
		if p.stride < p.rowlen {
			return fmt.Errorf("%w: plane %d stride %d shorter than row length %d",
				ErrInvalidGeometry, i, p.stride, p.rowlen)
		}
		// The last row may omit its trailing padding.
		need := p.offset + (p.rows-1)*p.stride + p.rowlen
		if len(f.Data) < need {
			return fmt.Errorf("%w: plane %d needs %d bytes, buffer has %d",
				ErrInvalidGeometry, i, need, len(f.Data))
		}
	}
	return nil
}

// Padded reports whether any plane carries row padding
func (f *Frame) Padded() bool {
	for _, p := range f.planes() {
		if p.stride != p.rowlen {
			return true
		}
	}
	return false
}

// Normalize returns the frame bytes with all row padding removed, rows
// top to bottom, planes in order. buf is reused when it has enough
// capacity. When the frame has no padding the result aliases f.Data.
func Normalize(f *Frame, buf []byte) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	size := f.Size()
	if !f.Padded() {
		return f.Data[:size], nil
	}

	if cap(buf) < size {
		buf = make([]byte, 0, size)
	}
	out := buf[:0]
	for _, p := range f.planes() {
		for row := 0; row < p.rows; row++ {
			start := p.offset + row*p.stride
			out = append(out, f.Data[start:start+p.rowlen]...)
		}
	}
	return out, nil
}
