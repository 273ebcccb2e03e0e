// Package commands holds the convert CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/mattjoyce/convert/internal/printer"
)

var (
	configPath string
	logLevel   string

	out = printer.Default()
)

var rootCmd = &cobra.Command{
	Use:   "convert",
	Short: "convert - command bridge for the backup backend",
	Long: `convert routes commands to a JavaScript backend module, runs encrypted
backups as background tasks, and streams their progress.

Configuration is read from --config, $CONVERT_CONFIG, ./convert.yaml or
~/.config/convert/convert.yaml, in that order. Without any file the
built-in defaults are used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command. Errors are already printed by the printer.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to convert.yaml or its directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override service.log_level (debug, info, warn, error)")
}
