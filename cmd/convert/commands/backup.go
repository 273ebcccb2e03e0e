package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/convert/internal/events"
	"github.com/mattjoyce/convert/internal/printer"
	"github.com/mattjoyce/convert/internal/shell"
	"github.com/mattjoyce/convert/internal/tasks"
	"github.com/mattjoyce/convert/internal/tui"
)

var (
	backupTarget string
	backupPlain  bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run a backup and follow its progress",
	Long: `Start a backup task and follow it to completion.

With backup.source_path set, the source SQLite database is snapshotted and
sealed into an encrypted .cvbak archive in the target directory. Without it
the backup phases are simulated.

Quitting the progress view, or Ctrl+C with --plain, cancels the task.`,
	Args: cobra.NoArgs,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().StringVarP(&backupTarget, "target", "t", "", "Target directory (defaults to backup.target_dir)")
	backupCmd.Flags().BoolVar(&backupPlain, "plain", false, "Print progress lines instead of the interactive view")
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return out.Error("failed to load config", err.Error())
	}
	setupLogging(cfg, true)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return out.Error("failed to start", err.Error())
	}
	defer a.Close(context.Background())

	target := backupTarget
	if target == "" {
		target = cfg.Backup.TargetDir
	}

	// Subscribe before starting so the first events are not missed.
	ch, unsubscribe := a.shell.Subscribe("")
	defer unsubscribe()

	id, err := a.shell.StartBackup(ctx, target)
	if err != nil {
		return out.Error("backup did not start", shell.ErrorString(err))
	}

	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	if backupPlain {
		followPlain(ctx, p, ch, id)
	} else if aborted, err := followTUI(ch, id); err != nil {
		return out.Error("progress view failed", err.Error())
	} else if aborted {
		stop()
	}

	if ctx.Err() != nil {
		if err := a.shell.CancelTask(id); err == nil {
			p.Warning("cancelling %s", id)
		}
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snap, err := a.shell.WaitTask(waitCtx, id)
	if err != nil {
		return out.Error("lost track of task", err.Error())
	}
	return reportTask(p, snap)
}

func followPlain(ctx context.Context, p *printer.Printer, ch <-chan events.ProgressEvent, id string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.TaskID != id {
				continue
			}
			p.Progress(ev)
			if ev.Phase.Terminal() {
				return
			}
		}
	}
}

func followTUI(ch <-chan events.ProgressEvent, id string) (bool, error) {
	final, err := tea.NewProgram(tui.NewProgress(id, "Backup", ch)).Run()
	if err != nil {
		return false, err
	}
	m, ok := final.(tui.ProgressModel)
	return ok && m.Aborted(), nil
}

func reportTask(p *printer.Printer, snap tasks.Snapshot) error {
	switch snap.Status {
	case tasks.StatusSucceeded:
		p.Success("%s %s", snap.ID, snap.Message)
		return nil
	case tasks.StatusCancelled:
		p.Warning("%s cancelled", snap.ID)
		return fmt.Errorf("cancelled")
	default:
		return out.Error(fmt.Sprintf("%s failed", snap.ID), snap.Error)
	}
}
