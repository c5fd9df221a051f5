package commands

import (
	"bytes"
	"image"
	"strings"
	"testing"

	"github.com/bryanchriswhite/rawcast/internal/capture"
)

func TestPrintDisplaysTable(t *testing.T) {
	var buf bytes.Buffer
	displays := []capture.Display{
		{Backend: "x11", Index: 0, Name: "DP-1", Bounds: image.Rect(0, 0, 2560, 1440), Primary: true},
		{Backend: "x11", Index: 1, Name: "HDMI-1", Bounds: image.Rect(2560, 0, 4480, 1080)},
	}
	if err := printDisplaysTable(&buf, displays); err != nil {
		t.Fatalf("printDisplaysTable failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[2], "2560x1440") || !strings.HasSuffix(lines[2], "Yes") {
		t.Errorf("primary row = %q", lines[2])
	}
	if !strings.Contains(lines[3], "+2560+0") || !strings.HasSuffix(lines[3], "No") {
		t.Errorf("secondary row = %q", lines[3])
	}
}

func TestPrintFormatsTable(t *testing.T) {
	var buf bytes.Buffer
	if err := printFormatsTable(&buf); err != nil {
		t.Fatalf("printFormatsTable failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"bgr0", "rgb24", "yuv420p", "planar", "0bgr"} {
		if !strings.Contains(out, want) {
			t.Errorf("formats table missing %q:\n%s", want, out)
		}
	}
}
