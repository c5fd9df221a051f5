package capture

import (
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
)

// xdg-desktop-portal D-Bus constants
const (
	portalService   = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenCastIface = "org.freedesktop.portal.ScreenCast"
)

// probeScreenCastPortal returns the ScreenCast portal version on the session bus
func probeScreenCastPortal() (uint32, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return 0, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer conn.Close()

	obj := conn.Object(portalService, dbus.ObjectPath(portalPath))
	variant, err := obj.GetProperty(screenCastIface + ".version")
	if err != nil {
		return 0, fmt.Errorf("failed to query ScreenCast portal: %w", err)
	}

	version, ok := variant.Value().(uint32)
	if !ok {
		return 0, fmt.Errorf("unexpected ScreenCast version type %T", variant.Value())
	}
	return version, nil
}

// environmentHint explains why capture may be unavailable in the current
// session. It returns an empty string when there is nothing to add.
func environmentHint() string {
	return hintFor(os.Getenv("WAYLAND_DISPLAY"), os.Getenv("DISPLAY"), probeScreenCastPortal)
}

func hintFor(wayland, x11 string, probe func() (uint32, error)) string {
	if wayland == "" {
		if x11 == "" {
			return " (DISPLAY is not set)"
		}
		return ""
	}

	hint := " (Wayland session detected"
	if version, err := probe(); err == nil {
		hint += fmt.Sprintf("; xdg-desktop-portal ScreenCast v%d is present but needs a PipeWire consumer", version)
	}
	if x11 == "" {
		hint += "; DISPLAY is not set, XWayland is not reachable"
	}
	return hint + ")"
}
