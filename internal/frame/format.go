package frame

import (
	"fmt"
	"strings"
)

// PixelFormat tags the byte layout of a captured frame
type PixelFormat int

const (
	Unsupported PixelFormat = iota
	BGRA
	RGB
	YUV420P
	XBGR
	BGRx
	BGR0
	RGBA
)

type formatInfo struct {
	name          string
	ffmpeg        string
	bytesPerPixel int
	planar        bool
}

var formats = map[PixelFormat]formatInfo{
	BGRA:    {name: "bgra", ffmpeg: "bgra", bytesPerPixel: 4},
	RGB:     {name: "rgb", ffmpeg: "rgb24", bytesPerPixel: 3},
	YUV420P: {name: "yuv420p", ffmpeg: "yuv420p", planar: true},
	XBGR:    {name: "xbgr", ffmpeg: "0bgr", bytesPerPixel: 4},
	BGRx:    {name: "bgrx", ffmpeg: "bgr0", bytesPerPixel: 4},
	BGR0:    {name: "bgr0", ffmpeg: "bgr0", bytesPerPixel: 4},
	RGBA:    {name: "rgba", ffmpeg: "rgba", bytesPerPixel: 4},
}

// Formats returns every recognized pixel format in declaration order
func Formats() []PixelFormat {
	return []PixelFormat{BGRA, RGB, YUV420P, XBGR, BGRx, BGR0, RGBA}
}

// ParsePixelFormat looks up a format by its name (case-insensitive)
func ParsePixelFormat(s string) (PixelFormat, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for _, f := range Formats() {
		if formats[f].name == want {
			return f, nil
		}
	}
	return Unsupported, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// String returns the format name used in configuration
func (f PixelFormat) String() string {
	if info, ok := formats[f]; ok {
		return info.name
	}
	return "unsupported"
}

// Supported reports whether the pipeline has a normalization rule for f
func (f PixelFormat) Supported() bool {
	_, ok := formats[f]
	return ok
}

// BytesPerPixel returns the packed pixel size, or 0 for planar and unknown formats
func (f PixelFormat) BytesPerPixel() int {
	return formats[f].bytesPerPixel
}

// Planar reports whether the format stores luma and chroma in separate planes
func (f PixelFormat) Planar() bool {
	return formats[f].planar
}

// FFmpegName returns the value for ffmpeg's -pixel_format option
func (f PixelFormat) FFmpegName() string {
	return formats[f].ffmpeg
}

// Compatible reports whether frames in format f can be fed to a sink
// declared with format declared without reinterpreting bytes
func (f PixelFormat) Compatible(declared PixelFormat) bool {
	if f == declared {
		return true
	}
	return f.Supported() && declared.Supported() && f.FFmpegName() == declared.FFmpegName()
}
