package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/convert/internal/printer"
	"github.com/mattjoyce/convert/internal/shell"
)

var restoreRaw bool

var restoreCmd = &cobra.Command{
	Use:   "restore <file.cvbak>",
	Short: "Ask the backend to restore an archive",
	Long: `Ask the backend to restore from an archive.

By default the path must end in .cvbak and the reply is summarised. With
--raw the path is passed as file_path without checks and the backend's
reply is printed as-is.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().BoolVar(&restoreRaw, "raw", false, "Skip the extension check and print the raw reply")
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return out.Error("failed to load config", err.Error())
	}
	setupLogging(cfg, true)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return out.Error("failed to start", err.Error())
	}
	defer a.Close(context.Background())

	if restoreRaw {
		reply, err := a.shell.RestoreFromFile(ctx, args[0])
		if err != nil {
			return out.Error("restore failed", shell.ErrorString(err))
		}
		return printJSON(cmd, reply)
	}

	msg, err := a.shell.RestoreBackup(ctx, args[0])
	if err != nil {
		return out.Error("restore failed", shell.ErrorString(err))
	}
	printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr()).Success("%s", msg)
	return nil
}
