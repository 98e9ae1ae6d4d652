package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// =============================================================================
// Guild Settings Commands
// =============================================================================

// buildGuildCmd creates the "guild" command group for editing settings
// without going through Discord.
func buildGuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guild",
		Short: "Inspect or change a guild's settings",
		Long: `Read and write guild settings directly in the database.

Role, channel and emoji names are resolved against the guild over the Discord
REST API, so a bot token is still required. When events.nats_url is set,
running bots are told about the change.`,
	}
	cmd.AddCommand(buildGuildShowCmd(), buildGuildSetCmd(), buildGuildResetCmd())
	return cmd
}

func buildGuildShowCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "show <guild-id> [variable]",
		Short: "Show a guild's settings",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			only := ""
			if len(args) == 2 {
				only = args[1]
			}
			return runGuildShow(cmd, configPath, args[0], only, asJSON)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print settings as JSON")
	return cmd
}

func buildGuildSetCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "set <guild-id> <variable> <value>",
		Short: "Change one setting",
		Example: `  # Change the command prefix
  lunodog guild set 123456789012345678 prefix ?

  # Clear the log channel
  lunodog guild set 123456789012345678 log_channel none

  # Replace the auto role table
  lunodog guild set 123456789012345678 auto_roles '[{"role": "Members", "delay": "10m"}]'`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuildSet(cmd, configPath, args[0], args[1], strings.Join(args[2:], " "))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildGuildResetCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "reset <guild-id>",
		Short: "Delete a guild's settings so defaults apply again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuildReset(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
