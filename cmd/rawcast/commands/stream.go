package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/rawcast/internal/api"
	"github.com/bryanchriswhite/rawcast/internal/capture"
	"github.com/bryanchriswhite/rawcast/internal/config"
	"github.com/bryanchriswhite/rawcast/internal/logger"
	"github.com/bryanchriswhite/rawcast/internal/output"
	"github.com/bryanchriswhite/rawcast/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream the primary display to the encoder",
	Long: `Capture the primary display and write every frame, stripped of row
padding, to the encoder's standard input as rawvideo.

The stream runs until interrupted (Ctrl+C or SIGTERM), the encoder exits,
or capture fails. An interrupt is a clean stop and exits with status 0.`,
	Example: `  # Preview the screen in ffplay at 24 fps (default)
  rawcast stream

  # Record to a file with ffmpeg
  rawcast stream --encoder ffmpeg --output-arg=-c:v --output-arg=libx264 --output-arg=out.mkv

  # Capture a region, downscale it and expose the status API
  rawcast stream --crop 1280x720+100+100 --scale 640x360 --status`,
	Args: cobra.NoArgs,
	RunE: runStream,
}

// streamFlagKeys maps stream flags onto configuration keys
var streamFlagKeys = map[string]string{
	"backend":       "capture.backend",
	"fps":           "capture.fps",
	"pixel-format":  "capture.pixel_format",
	"show-cursor":   "capture.show_cursor",
	"poll-interval": "capture.poll_interval",
	"encoder":       "encoder.command",
	"write-timeout": "encoder.write_timeout",
	"status":        "status.enabled",
	"status-port":   "status.port",
}

func init() {
	rootCmd.AddCommand(streamCmd)
	addStreamFlags(streamCmd.Flags())
}

func addStreamFlags(f *pflag.FlagSet) {
	f.StringP("backend", "b", config.BackendAuto, "capture backend (auto, x11, screenshot)")
	f.Int("fps", 24, "target frame rate")
	f.String("pixel-format", config.PixelFormatAuto, "pixel format (auto or see 'rawcast formats')")
	f.Bool("show-cursor", true, "draw the mouse cursor (x11 only)")
	f.Duration("poll-interval", pipeline.DefaultPollInterval, "pause between polls when no frame is ready")
	f.String("crop", "", "capture region relative to the display, WxH+X+Y")
	f.String("scale", "", "output resolution, WxH")
	f.StringP("encoder", "e", "ffplay", "encoder command reading rawvideo on stdin")
	f.StringArray("output-arg", nil, "encoder output argument (repeatable)")
	f.Duration("write-timeout", 0, "abort when a frame write blocks longer than this (0 waits forever)")
	f.Bool("status", false, "serve the status API")
	f.Int("status-port", 8090, "status API port")
}

// applyStreamFlags overrides configuration with flags given on the command line
func applyStreamFlags(flags *pflag.FlagSet, v *viper.Viper) error {
	for name, key := range streamFlagKeys {
		fl := flags.Lookup(name)
		if fl == nil || !fl.Changed {
			continue
		}
		value, err := config.ParseValue(key, fl.Value.String())
		if err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
		v.Set(key, value)
	}

	if flags.Changed("output-arg") {
		args, _ := flags.GetStringArray("output-arg")
		v.Set("encoder.output_args", args)
	}

	if flags.Changed("crop") {
		s, _ := flags.GetString("crop")
		g, err := parseGeometry(s)
		if err != nil {
			return fmt.Errorf("--crop: %w", err)
		}
		v.Set("capture.crop.x", g.X)
		v.Set("capture.crop.y", g.Y)
		v.Set("capture.crop.width", g.Width)
		v.Set("capture.crop.height", g.Height)
	}

	if flags.Changed("scale") {
		s, _ := flags.GetString("scale")
		g, err := parseGeometry(s)
		if err != nil {
			return fmt.Errorf("--scale: %w", err)
		}
		if g.X != 0 || g.Y != 0 {
			return fmt.Errorf("--scale: offsets are not allowed, use WxH")
		}
		v.Set("capture.scale.width", g.Width)
		v.Set("capture.scale.height", g.Height)
	}
	return nil
}

func runStream(cmd *cobra.Command, args []string) error {
	if err := applyStreamFlags(cmd.Flags(), configMgr.GetViper()); err != nil {
		return err
	}

	cfg, err := configMgr.Get()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.WithComponent("stream")
	log.Debug().Str("config", configMgr.GetConfigPath()).Msg("Configuration loaded")

	// Installed before the encoder starts: it runs in its own process group
	// and only a clean close of its stdin stops it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := capture.OptionsFromConfig(cfg.Capture)
	if err != nil {
		return pipeline.Wrap(pipeline.StageSession, err)
	}

	backend, err := capture.NewBackend(cfg.Capture.Backend)
	if err != nil {
		return pipeline.Wrap(pipeline.StageDisplay, err)
	}
	// The session takes over whatever the backend still holds.
	defer backend.Close()

	display, err := backend.PrimaryDisplay()
	if err != nil {
		return pipeline.Wrap(pipeline.StageDisplay, err)
	}
	log.Info().
		Str("backend", backend.Name()).
		Str("display", display.String()).
		Msg("Primary display resolved")

	session, err := backend.Open(display, opts)
	if err != nil {
		return pipeline.Wrap(pipeline.StageSession, err)
	}

	enc := output.NewEncoder(output.ConfigFromEncoder(cfg.Encoder,
		session.Width(), session.Height(), session.FPS(), session.Format()))
	if err := enc.StartContext(ctx); err != nil {
		session.Close()
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("Stop requested before the encoder started")
			return nil
		}
		return pipeline.Wrap(pipeline.StageLaunch, err)
	}

	p := pipeline.New(session, enc, pipeline.Options{
		Width:        session.Width(),
		Height:       session.Height(),
		Format:       session.Format(),
		PollInterval: cfg.Capture.PollInterval,
	})

	if cfg.Status.Enabled {
		srv := api.NewServer(p, api.StreamInfo{
			Backend:     backend.Name(),
			Display:     display.String(),
			Width:       session.Width(),
			Height:      session.Height(),
			FPS:         session.FPS(),
			PixelFormat: session.Format().FFmpegName(),
			Encoder:     cfg.Encoder.Command,
		}, cfg.Status.Interval)

		go func() {
			if err := srv.Start(ctx, cfg.Status.Port); err != nil {
				log.Error().Err(err).Msg("Status server failed")
			}
		}()
	}

	log.Info().
		Str("run_id", p.RunID()).
		Int("width", session.Width()).
		Int("height", session.Height()).
		Int("fps", session.FPS()).
		Str("pixel_format", session.Format().String()).
		Str("encoder", enc.Name()).
		Msg("Streaming, press Ctrl+C to stop")

	if err := p.Run(ctx); err != nil {
		return fmt.Errorf("stream %s: %w", p.RunID(), withEncoderExit(err, enc.ExitErr()))
	}
	return nil
}

// withEncoderExit adds the encoder's exit status to a sink write failure,
// which usually means the encoder went away
func withEncoderExit(err, exitErr error) error {
	var stageErr *pipeline.StageError
	if exitErr == nil || !errors.As(err, &stageErr) || stageErr.Stage != pipeline.StageWrite {
		return err
	}
	return fmt.Errorf("%w (encoder exited: %v)", err, exitErr)
}
