// Package commands implements the telarch CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "telarch",
	Short: "telarch - Telegram media archiver",
	Long: `telarch archives Telegram media into S3-compatible storage with
content-addressed deduplication. Whitelisted users forward media to the bot;
small files are archived directly, large files are queued over AMQP for a
worker that downloads them through a Telegram user session.

Use "telarch [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/telarch/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(botCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(jobsCmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
