package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "gamewatch",
		Short: "Game server monitoring dashboard backend",
		Long: `gamewatch reports the state of a supervisord-managed game server,
reconstructs player sessions from its log and serves both over HTTP.

Examples:
  gamewatch serve --config gamewatch.toml
  gamewatch status
  gamewatch players --online
  supervisorctl status hytale-server | gamewatch parse-status`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file")
	root.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "print JSON instead of tables")
	root.PersistentFlags().StringVar(&globalFlags.APIURL, "api-url", "", "query a running gamewatch API (e.g. http://host:8088/api) instead of the local server")
	root.PersistentFlags().StringVar(&globalFlags.APIUser, "api-user", "", "username for the API")
	root.PersistentFlags().StringVar(&globalFlags.APIPassword, "api-password", "", "password for the API (default $GAMEWATCH_API_PASSWORD)")
	root.PersistentFlags().DurationVar(&globalFlags.APITimeout, "api-timeout", 10*time.Second, "API request timeout")
	root.PersistentFlags().BoolVar(&globalFlags.Insecure, "insecure", false, "skip TLS verification for the API")

	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(globalFlags),
		createPlayersCommand(globalFlags),
		createLogsCommand(globalFlags),
		createControlCommand(globalFlags),
		createParseStatusCommand(globalFlags),
		createVersionCommand(globalFlags),
		createModsCommand(globalFlags),
		createBackupCommand(globalFlags),
		createHashPasswordCommand(),
	)
	return root
}
