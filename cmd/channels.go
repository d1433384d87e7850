package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List the configured channel strips",
	Long:  `List all channel strips in the resolved configuration, including their processor chains.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listChannels()
	},
}

func listChannels() error {
	fmt.Printf("Channel strips (%d):\n", len(cfg.Channels))

	for i, ch := range cfg.Channels {
		fmt.Printf("  %d. %s (%s)\n", i+1, ch.Name, ch.ID)
		if ch.Device != "" {
			fmt.Printf("     device: %s\n", ch.Device)
		}
		fmt.Printf("     gain: %.0f  pan: %.0f\n", ch.Gain, ch.Pan)

		if len(ch.Processors) > 0 {
			types := make([]string, len(ch.Processors))
			for j, proc := range ch.Processors {
				types[j] = proc.Type
			}
			fmt.Printf("     processors: %s\n", strings.Join(types, " -> "))
		}
	}

	fmt.Printf("\nMaster bus: gain %.0f, %d processor(s)\n",
		cfg.Master.Gain, len(cfg.Master.Processors))

	return nil
}
