package cmd

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/castpanel/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage castpanel configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var configProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List available configuration profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := resolveConfigPath()
		if configPath == "" {
			fmt.Println("No config file found, only built-in defaults are available.")
			return nil
		}

		rootConfig, err := config.ValidateConfigurationFormat(configPath)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}

		for name := range rootConfig.Configs {
			marker := " "
			if name == rootConfig.ActiveConfig {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, name)
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := resolveConfigPath()
		if configPath == "" {
			return fmt.Errorf("no config file found to validate")
		}

		rootConfig, err := config.ValidateConfigurationFormat(configPath)
		if err != nil {
			return fmt.Errorf("configuration is invalid: %w", err)
		}

		fmt.Printf("Configuration is valid: %d channel definition(s), %d profile(s)\n",
			len(rootConfig.Definitions.Channels), len(rootConfig.Configs))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configProfilesCmd)
	configCmd.AddCommand(configValidateCmd)
}
