package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/rawcast/internal/config"
	"github.com/bryanchriswhite/rawcast/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	configMgr *config.Manager

	rootCmd = &cobra.Command{
		Use:   "rawcast",
		Short: "rawcast - Stream the primary display to an encoder as raw video",
		Long: `rawcast captures live frames from the primary display and pipes them,
stripped of row padding, into an encoder subprocess (ffplay by default)
as a rawvideo stream on its standard input.

Features:
  • X11 capture with cursor overlay, or portable screenshot capture
  • Optional crop region and downscaling
  • Any ffmpeg-compatible encoder command
  • Persistent configuration with environment overrides
  • Optional local status API`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	// Assigned here rather than in the literal to avoid an initialization cycle.
	rootCmd.PersistentPreRunE = initConfig

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/rawcast/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", true, "human-readable console logs")
}

// initConfig loads the configuration and sets up logging
func initConfig(cmd *cobra.Command, args []string) error {
	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg, err := mgr.Get()
	if err != nil {
		return err
	}

	// Logging flags apply to this invocation only and are never saved.
	flags := rootCmd.PersistentFlags()
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-pretty") {
		cfg.LogPretty, _ = flags.GetBool("log-pretty")
	}
	if !logger.IsValidLevel(cfg.LogLevel) {
		return fmt.Errorf("invalid log level %q (use %v)", cfg.LogLevel, logger.ValidLevels)
	}
	logger.Init(cfg.LogLevel, cfg.LogPretty)

	configMgr = mgr
	return nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
