package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/convert/internal/shell"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <cmd> [json-payload]",
	Short: "Send one command to the backend and print its reply",
	Example: `  convert dispatch system.ping
  convert dispatch backup.start '{"target_dir":"/backups"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDispatch,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(cmd *cobra.Command, args []string) error {
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

	var payload json.RawMessage
	if len(args) == 2 {
		payload = json.RawMessage(args[1])
	}

	reply, err := a.shell.Dispatch(ctx, args[0], payload)
	if err != nil {
		return out.Error("dispatch failed", shell.ErrorString(err))
	}
	return printJSON(cmd, reply)
}

func printJSON(cmd *cobra.Command, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		buf.Reset()
		buf.Write(raw)
	}
	fmt.Fprintln(cmd.OutOrStdout(), buf.String())
	return nil
}
