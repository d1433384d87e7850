package cmd

import (
	"fmt"

	"github.com/audiolibrelab/castpanel/internal/panel"

	"github.com/spf13/cobra"
)

var panelsCmd = &cobra.Command{
	Use:   "panels",
	Short: "List the available panels and their startup state",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cfg.PanelOptions()

		fmt.Printf("Panels (max open: %d, eviction: %s)\n", opts.MaxPanels, opts.Strategy)
		for _, kind := range panel.AllKinds() {
			marker := " "
			if opts.InitialPanels[kind] {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, kind)
		}
		fmt.Println("\n* opens at startup")

		return nil
	},
}
