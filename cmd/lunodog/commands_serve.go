package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the bot.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and serve the config command",
		Long: `Start the bot.

The bot connects to the Discord gateway, registers the /config slash command
and keeps every guild's settings in the configured database. When
events.nats_url is set, changes made by other processes are picked up
immediately.`,
		Example: `  # Start with the default config file
  lunodog serve

  # Start with verbose logging
  lunodog serve --config /etc/lunodog.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}
