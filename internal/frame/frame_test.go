package frame

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNormalizeStripsPadding(t *testing.T) {
	// 2x2 BGR0, rowlen 8, stride 10
	var data []byte
	rowA := []byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7}
	rowB := []byte{0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5, 0xB6, 0xB7}
	data = append(data, rowA...)
	data = append(data, 0xEE, 0xEE)
	data = append(data, rowB...)
	data = append(data, 0xEE, 0xEE)

	f := &Frame{Width: 2, Height: 2, Format: BGR0, Stride: 10, Data: data}

	got, err := Normalize(f, nil)
	if err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}

	want := append(append([]byte{}, rowA...), rowB...)
	if !bytes.Equal(got, want) {
		t.Errorf("Normalize() = %x, want %x", got, want)
	}
	if len(got) != 16 {
		t.Errorf("len = %d, want 16", len(got))
	}
}

func TestNormalizePassthrough(t *testing.T) {
	data := make([]byte, 4*3*4+7) // trailing garbage beyond height*rowlen
	for i := range data {
		data[i] = byte(i)
	}
	f := &Frame{Width: 4, Height: 3, Format: BGRA, Stride: 16, Data: data}

	got, err := Normalize(f, nil)
	if err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}
	if !bytes.Equal(got, data[:48]) {
		t.Errorf("passthrough mismatch: got %d bytes", len(got))
	}
}

func TestNormalizeDerivedStride(t *testing.T) {
	// No explicit stride: derived as len/height, 3 bytes padding per row.
	f := &Frame{Width: 1, Height: 3, Format: RGB, Data: []byte{
		1, 2, 3, 0, 0, 0,
		4, 5, 6, 0, 0, 0,
		7, 8, 9, 0, 0, 0,
	}}

	if got := f.RowStride(); got != 6 {
		t.Fatalf("RowStride() = %d, want 6", got)
	}

	got, err := Normalize(f, nil)
	if err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	if !bytes.Equal(got, want) {
		t.Errorf("Normalize() = %v, want %v", got, want)
	}
}

func TestNormalizeShortLastRow(t *testing.T) {
	f := &Frame{Width: 1, Height: 2, Format: BGRA, Stride: 8, Data: []byte{
		1, 2, 3, 4, 0, 0, 0, 0,
		5, 6, 7, 8,
	}}

	got, err := Normalize(f, nil)
	if err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("Normalize() = %v", got)
	}
}

func TestNormalizePlanar(t *testing.T) {
	// 2x2 yuv420p, luma stride 4 (2 padding), chroma stride 2 (1 padding)
	data := []byte{
		// Y
		10, 11, 0, 0,
		12, 13, 0, 0,
		// U
		20, 0,
		// V
		30, 0,
	}
	f := &Frame{Width: 2, Height: 2, Format: YUV420P, Stride: 4, Data: data}

	got, err := Normalize(f, nil)
	if err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}
	want := []byte{10, 11, 12, 13, 20, 30}
	if !bytes.Equal(got, want) {
		t.Errorf("Normalize() = %v, want %v", got, want)
	}
	if f.Size() != 6 {
		t.Errorf("Size() = %d, want 6", f.Size())
	}
}

func TestNormalizePlanarDerivedStride(t *testing.T) {
	// tightly packed 2x2 yuv420p: 4 luma bytes, 1 U, 1 V
	data := []byte{10, 11, 12, 13, 20, 30}
	f := &Frame{Width: 2, Height: 2, Format: YUV420P, Data: data}

	if got := f.RowStride(); got != 2 {
		t.Fatalf("RowStride() = %d, want 2", got)
	}
	got, err := Normalize(f, nil)
	if err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Normalize() = %v, want %v", got, data)
	}
	if &got[0] != &data[0] {
		t.Error("packed planar frame should pass through without copying")
	}
}

func TestNormalizePlanarOddPacked(t *testing.T) {
	// 3x3 yuv420p packs to 9 + 2*2*2 = 17 bytes
	data := make([]byte, 17)
	for i := range data {
		data[i] = byte(i)
	}
	f := &Frame{Width: 3, Height: 3, Format: YUV420P, Data: data}

	got, err := Normalize(f, nil)
	if err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Normalize() = %v, want %v", got, data)
	}
}

func TestPlanarZeroStrideNeedsPackedSize(t *testing.T) {
	f := &Frame{Width: 2, Height: 2, Format: YUV420P, Data: make([]byte, 12)}

	err := f.Validate()
	if !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("Validate() = %v, want ErrInvalidGeometry", err)
	}
	if !strings.Contains(err.Error(), "explicit stride") {
		t.Errorf("error %q should ask for an explicit stride", err)
	}
}

func TestNormalizeReusesBuffer(t *testing.T) {
	f := &Frame{Width: 1, Height: 2, Format: BGRA, Stride: 6, Data: []byte{
		1, 2, 3, 4, 0, 0,
		5, 6, 7, 8, 0, 0,
	}}

	scratch := make([]byte, 0, 64)
	got, err := Normalize(f, scratch)
	if err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}
	if &got[0] != &scratch[:1][0] {
		t.Error("expected scratch buffer to be reused")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		wantErr error
	}{
		{
			name:    "unsupported format",
			frame:   Frame{Width: 1, Height: 1, Format: Unsupported, Data: make([]byte, 4)},
			wantErr: ErrUnsupportedFormat,
		},
		{
			name:    "zero width",
			frame:   Frame{Width: 0, Height: 1, Format: BGRA, Data: make([]byte, 4)},
			wantErr: ErrInvalidGeometry,
		},
		{
			name:    "stride shorter than row",
			frame:   Frame{Width: 2, Height: 1, Format: BGRA, Stride: 6, Data: make([]byte, 8)},
			wantErr: ErrInvalidGeometry,
		},
		{
			name:    "buffer too short",
			frame:   Frame{Width: 2, Height: 2, Format: BGRA, Stride: 8, Data: make([]byte, 12)},
			wantErr: ErrInvalidGeometry,
		},
		{
			name:  "valid",
			frame: Frame{Width: 2, Height: 2, Format: BGRA, Stride: 8, Data: make([]byte, 16)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParsePixelFormat(t *testing.T) {
	for _, f := range Formats() {
		got, err := ParsePixelFormat(f.String())
		if err != nil {
			t.Fatalf("ParsePixelFormat(%q) failed: %v", f, err)
		}
		if got != f {
			t.Errorf("ParsePixelFormat(%q) = %v", f, got)
		}
	}

	if got, err := ParsePixelFormat(" BGRx "); err != nil || got != BGRx {
		t.Errorf("ParsePixelFormat(BGRx) = %v, %v", got, err)
	}

	if _, err := ParsePixelFormat("nv12"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestCompatible(t *testing.T) {
	if !BGRx.Compatible(BGR0) {
		t.Error("bgrx and bgr0 share the ffmpeg layout")
	}
	if BGRA.Compatible(RGBA) {
		t.Error("bgra and rgba differ in channel order")
	}
	if Unsupported.Compatible(BGRA) {
		t.Error("unsupported is never compatible")
	}
}
