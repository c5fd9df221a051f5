package commands

import (
	"fmt"
	"strconv"
	"strings"
)

// geometry is an X11-style "WxH" or "WxH+X+Y" string
type geometry struct {
	Width, Height int
	X, Y          int
}

func parseGeometry(s string) (geometry, error) {
	var g geometry

	size, offset, hasOffset := strings.Cut(strings.TrimSpace(s), "+")
	ws, hs, ok := strings.Cut(strings.ToLower(size), "x")
	if !ok {
		return g, fmt.Errorf("invalid geometry %q (use WxH or WxH+X+Y)", s)
	}

	var err error
	if g.Width, err = positive(ws); err != nil {
		return g, fmt.Errorf("invalid geometry %q: width %w", s, err)
	}
	if g.Height, err = positive(hs); err != nil {
		return g, fmt.Errorf("invalid geometry %q: height %w", s, err)
	}

	if hasOffset {
		xs, ys, ok := strings.Cut(offset, "+")
		if !ok {
			return g, fmt.Errorf("invalid geometry %q (use WxH or WxH+X+Y)", s)
		}
		if g.X, err = strconv.Atoi(xs); err != nil || g.X < 0 {
			return g, fmt.Errorf("invalid geometry %q: bad x offset", s)
		}
		if g.Y, err = strconv.Atoi(ys); err != nil || g.Y < 0 {
			return g, fmt.Errorf("invalid geometry %q: bad y offset", s)
		}
	}
	return g, nil
}

func positive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer, got %q", s)
	}
	return n, nil
}
