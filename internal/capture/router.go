package capture

import (
	"errors"
	"fmt"

	"github.com/bryanchriswhite/rawcast/internal/config"
	"github.com/bryanchriswhite/rawcast/internal/logger"
)

type backendFactory func() (Backend, error)

var factories = map[string]backendFactory{
	config.BackendX11: func() (Backend, error) {
		return NewX11Backend()
	},
	config.BackendScreenshot: func() (Backend, error) {
		return NewScreenshotBackend()
	},
}

// autoOrder is the preference order for the auto backend
var autoOrder = []string{config.BackendX11, config.BackendScreenshot}

// NewBackend returns the named capture backend. "auto" tries X11 first and
// falls back to the portable screenshot backend.
func NewBackend(name string) (Backend, error) {
	return newBackend(name, factories, autoOrder)
}

func newBackend(name string, factories map[string]backendFactory, order []string) (Backend, error) {
	if name != config.BackendAuto {
		factory, ok := factories[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown capture backend %q", ErrInvalidOptions, name)
		}
		return factory()
	}

	log := logger.WithComponent("capture-router")

	var errs []error
	for _, candidate := range order {
		b, err := factories[candidate]()
		if err != nil {
			log.Warn().Err(err).Str("backend", candidate).Msg("Capture backend not available")
			errs = append(errs, err)
			continue
		}
		log.Info().Str("backend", candidate).Msg("Capture backend selected")
		return b, nil
	}

	return nil, fmt.Errorf("%w: no capture backends available: %w", ErrUnavailable, errors.Join(errs...))
}
