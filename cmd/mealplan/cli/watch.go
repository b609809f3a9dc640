package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mealplan/internal/jobsync"

	"github.com/spf13/cobra"
)

var watchOnce bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow jobs started from any client and print their results",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "exit after the first job finishes")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newClient(cfg)
	presenter := newLinePresenter(client, os.Stdout)
	syncer := jobsync.New(ctx, client, presenter, jobsync.WithIntervals(cfg.Client.PollEvery(), cfg.Client.WatchEvery()))
	defer syncer.Close()
	syncer.StartBackgroundWatch()

	if !jsonOut {
		fmt.Printf("Watching %s for jobs (ctrl+c to stop)...\n", client.BaseURL())
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-presenter.done:
			if watchOnce {
				return err
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "job failed: %v\n", err)
			}
		}
	}
}
