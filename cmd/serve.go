package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/castpanel/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the castpanel web server to control the mixer via a web API.
This allows you to drive panels, faders and presets from any device on
the same network.

The server will display the local network URL for easy access from mobile devices.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")

		// An empty path means no config file exists and the server
		// falls back to built-in defaults.
		configPath := resolveConfigPath()

		srv, err := server.New(configPath, port)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		slog.Info("castpanel web server starting", "port", port, "config", configPath)

		// Start server (this blocks)
		if err := srv.Start(cmd.Context()); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
}
