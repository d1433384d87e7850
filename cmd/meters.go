package cmd

import (
	"fmt"

	"github.com/audiolibrelab/castpanel/internal/display"
	"github.com/audiolibrelab/castpanel/internal/service"

	"github.com/spf13/cobra"
)

var metersCmd = &cobra.Command{
	Use:   "meters",
	Short: "Show a terminal meter bridge",
	Long: `Run the mixer locally and show a terminal meter bridge with one
strip per channel plus the master bus. Press q to quit and r to reset
the held peak readouts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := service.New(cfg, resolveConfigPath())
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}

		if err := svc.Start(cmd.Context()); err != nil {
			return fmt.Errorf("failed to start mixer: %w", err)
		}
		defer svc.Stop()

		tui := display.NewTui(svc)
		tui.Initialize()
		tui.Start()
		tui.WaitForShutdown()

		return nil
	},
}
