package output

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bryanchriswhite/rawcast/internal/config"
	"github.com/bryanchriswhite/rawcast/internal/frame"
)

// Output is a byte-stream consumer of normalized frames
type Output interface {
	// Start launches the output
	Start() error

	// Write sends raw frame bytes. One call carries one whole frame.
	Write(p []byte) (int, error)

	// Close flushes and shuts the output down. Safe to call more than once.
	Close() error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config describes the raw stream an encoder should expect and how to launch it
type Config struct {
	Width       int
	Height      int
	FPS         int
	PixelFormat frame.PixelFormat

	Command      string
	OutputArgs   []string
	ExtraArgs    []string
	WriteTimeout time.Duration
	CloseTimeout time.Duration
}

// ConfigFromEncoder combines session geometry with the encoder section of the configuration
func ConfigFromEncoder(enc config.EncoderConfig, width, height, fps int, pf frame.PixelFormat) Config {
	return Config{
		Width:        width,
		Height:       height,
		FPS:          fps,
		PixelFormat:  pf,
		Command:      enc.Command,
		OutputArgs:   enc.OutputArgs,
		ExtraArgs:    enc.ExtraArgs,
		WriteTimeout: enc.WriteTimeout,
		CloseTimeout: enc.CloseTimeout,
	}
}

// FrameSize is the number of bytes the encoder reads per frame
func (c Config) FrameSize() int {
	return frame.FrameSize(c.Width, c.Height, c.PixelFormat)
}

func isFFplay(command string) bool {
	base := strings.TrimSuffix(filepath.Base(command), ".exe")
	return base == "ffplay"
}

// BuildArgs returns the encoder command line (without the program name).
// Extra args come first, then the rawvideo input description read from
// stdin. ffplay gets "-autoexit -" so it quits when stdin closes; any other
// program gets "-i -" followed by the output args.
func BuildArgs(cfg Config) []string {
	input := []string{
		"-f", "rawvideo",
		"-pixel_format", cfg.PixelFormat.FFmpegName(),
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-framerate", strconv.Itoa(cfg.FPS),
	}

	args := append([]string{}, cfg.ExtraArgs...)
	args = append(args, input...)

	if isFFplay(cfg.Command) {
		args = append(args, cfg.OutputArgs...)
		return append(args, "-autoexit", "-")
	}

	args = append(args, "-i", "-")
	return append(args, cfg.OutputArgs...)
}
