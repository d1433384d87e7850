package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/castpanel/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "castpanel",
	Short: "Control surface for a live broadcast audio mixer",
	Long: `Castpanel is a control surface for a live broadcast audio mixer.

It manages a fixed set of workspace panels, a bank of channel strips
with processor chains, and a master bus, and exposes everything over a
web API for remote control plus a terminal meter bridge.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		// The serve command manages its own configuration lifecycle so
		// profiles can be switched at runtime.
		if cmd.Name() == "serve" || cmd.Name() == "validate" {
			return nil
		}

		configPath := resolveConfigPath()
		if configPath == "" {
			cfg = config.Default()
			return nil
		}

		var err error
		cfg, err = config.LoadWithProfile(configPath, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/castpanel.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(panelsCmd)
	rootCmd.AddCommand(metersCmd)
}

// resolveConfigPath returns the config file to load, or empty when no
// file is available and built-in defaults should be used.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}

	defaultPath := os.ExpandEnv("$HOME/.config/castpanel.yaml")
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath
	}

	return ""
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	default:
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}
