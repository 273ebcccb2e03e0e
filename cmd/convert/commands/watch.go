package commands

import (
	"context"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/convert/internal/events"
	"github.com/mattjoyce/convert/internal/log"
	"github.com/mattjoyce/convert/internal/tui"
)

var (
	watchURL  string
	watchTask string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of a running server's tasks",
	Long: `Connect to the /events stream of a running 'convert serve' and show every
task's progress. The server address and token come from the api section of
the config unless --url is given.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "", "Server base URL (defaults to http://<api.listen>)")
	watchCmd.Flags().StringVar(&watchTask, "task", "", "Follow a single task id")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return out.Error("failed to load config", err.Error())
	}
	setupLogging(cfg, true)

	base := watchURL
	if base == "" {
		base = "http://" + cfg.API.Listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch := make(chan events.ProgressEvent, 64)
	go func() {
		if err := tui.StreamEvents(ctx, nil, base, cfg.API.Token, watchTask, ch); err != nil && ctx.Err() == nil {
			log.WithComponent("watch").Warn("event stream ended", "url", base, "error", err)
		}
	}()

	var model tea.Model = tui.NewMonitor(ch)
	if watchTask != "" {
		model = tui.NewProgress(watchTask, "Task", ch)
	}
	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && ctx.Err() == nil {
		return out.Error("watch failed", err.Error())
	}
	return nil
}
