package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/convert/internal/printer"
	"github.com/mattjoyce/convert/internal/storage"
	"github.com/mattjoyce/convert/internal/tasklog"
)

var (
	tasksLimit int
	tasksPrune time.Duration
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List recent tasks from the task log",
	Args:  cobra.NoArgs,
	RunE:  runTasks,
}

func init() {
	tasksCmd.Flags().IntVarP(&tasksLimit, "limit", "n", 20, "Number of tasks to show")
	tasksCmd.Flags().DurationVar(&tasksPrune, "prune", 0, "Delete finished tasks older than this before listing (e.g. 720h)")
	rootCmd.AddCommand(tasksCmd)
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return out.Error("failed to load config", err.Error())
	}
	setupLogging(cfg, true)

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return out.Error("cannot open task log", err.Error())
	}
	defer db.Close()
	l := tasklog.New(db)

	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	if tasksPrune > 0 {
		n, err := l.Prune(ctx, tasksPrune)
		if err != nil {
			return out.Error("prune failed", err.Error())
		}
		p.Success("pruned %d task(s)", n)
	}

	recent, err := l.Recent(ctx, tasksLimit)
	if err != nil {
		return out.Error("cannot read task log", err.Error())
	}
	if len(recent) == 0 {
		p.Info("no tasks recorded")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tKIND\tSTATUS\tPHASE\t%\tCREATED\tDETAIL")
	for _, s := range recent {
		detail := s.Message
		if s.Error != "" {
			detail = s.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.0f\t%s\t%s\n",
			s.ID, s.Kind, s.Status, s.Phase, s.Progress, humanize.Time(s.CreatedAt), detail)
	}
	return tw.Flush()
}
