package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mealplan/internal/api"
	"mealplan/internal/jobsync"

	"github.com/spf13/cobra"
)

var (
	genPostalCode string
	genPeople     int
	genMeals      int
	genCuisine    string
	genNoAutoSend bool
	genNoWait     bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Start a meal plan and follow it until it finishes",
	RunE:  runGenerate,
}

func init() {
	addGenerateFlags(generateCmd)
	rootCmd.AddCommand(generateCmd)
}

func addGenerateFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&genPostalCode, "postal-code", "", "postal code for flyer lookup (default from backend)")
	cmd.Flags().IntVar(&genPeople, "people", 0, "number of people (default from backend)")
	cmd.Flags().IntVar(&genMeals, "meals", 0, "number of meals (default from backend)")
	cmd.Flags().StringVar(&genCuisine, "cuisine", "", "cuisine preference (default from backend)")
	cmd.Flags().BoolVar(&genNoAutoSend, "no-auto-send", false, "do not deliver results to Discord automatically")
	cmd.Flags().BoolVar(&genNoWait, "no-wait", false, "return once the job is accepted")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newClient(cfg)
	defaults, err := client.Config(ctx)
	if err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}
	req := buildGenerateRequest(cmd, defaults)
	if err := req.Validate(); err != nil {
		return err
	}

	presenter := newLinePresenter(client, os.Stdout)
	syncer := jobsync.New(ctx, client, presenter, jobsync.WithIntervals(cfg.Client.PollEvery(), cfg.Client.WatchEvery()))
	defer syncer.Close()

	resp, err := client.Generate(ctx, req)
	if err != nil {
		return err
	}
	if genNoWait {
		if jsonOut {
			printJSON(resp)
			return nil
		}
		fmt.Println(resp.Message)
		return nil
	}

	presenter.ShowProgress("Initializing...")
	syncer.StartForeground()
	return waitForOutcome(ctx, presenter)
}

// buildGenerateRequest starts from the backend defaults and applies the
// flags the user set.
func buildGenerateRequest(cmd *cobra.Command, defaults api.DefaultConfig) api.GenerateRequest {
	req := api.RequestFromDefaults(defaults)
	flags := cmd.Flags()
	if flags.Changed("postal-code") {
		req.PostalCode = genPostalCode
	}
	if flags.Changed("people") {
		req.NumPeople = genPeople
	}
	if flags.Changed("meals") {
		req.NumMeals = genMeals
	}
	if flags.Changed("cuisine") {
		req.Cuisine = genCuisine
	}
	if genNoAutoSend {
		req.AutoSendDiscord = false
	}
	req.Normalize()
	return req
}

func waitForOutcome(ctx context.Context, p *linePresenter) error {
	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("stopped waiting: %w", ctx.Err())
	}
}
