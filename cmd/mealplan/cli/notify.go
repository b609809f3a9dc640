package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mealplan/internal/config"
	"mealplan/internal/notify"
)

var notifyTest bool

var (
	buildNotifySenders = notify.BuildSenders
	sendNotifyAll      = notify.SendAll
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send a test event to the lifecycle notification channels",
	RunE:  runNotify,
}

func init() {
	notifyCmd.Flags().BoolVar(&notifyTest, "test", false, "send a test notification to all configured channels")
	rootCmd.AddCommand(notifyCmd)
}

type notifyTestOutput struct {
	Success bool           `json:"success"`
	Results notify.Results `json:"results"`
	Error   string         `json:"error,omitempty"`
}

func runNotify(cmd *cobra.Command, args []string) error {
	if !notifyTest {
		return fmt.Errorf("notify currently supports only --test")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	results, err := runNotifyTest(cmd.Context(), cfg)
	if jsonOut {
		out := notifyTestOutput{Success: err == nil, Results: results}
		if err != nil {
			out.Error = err.Error()
		}
		printJSON(out)
		return err
	}
	for _, result := range results {
		switch {
		case result.Success:
			fmt.Printf("%s: ok\n", result.Channel)
		case result.Error != "":
			fmt.Printf("%s: failed (%s)\n", result.Channel, result.Error)
		default:
			fmt.Printf("%s: failed\n", result.Channel)
		}
	}
	if err != nil {
		return err
	}
	fmt.Println("notification test succeeded")
	return nil
}

func runNotifyTest(ctx context.Context, cfg *config.Config) (notify.Results, error) {
	senders := buildNotifySenders(cfg.Notifications, nil)
	if len(senders) == 0 {
		return nil, fmt.Errorf("no notification channels configured")
	}
	d := cfg.FormDefaults()
	payload := notify.Payload{
		Event:     notify.TriggerCompleted,
		RunID:     "00000000-test",
		State:     notify.EventState(notify.TriggerCompleted),
		Summary:   "Test notification: " + notify.RunSummary(d.Cuisine, d.NumPeople, d.NumMeals, d.PostalCode),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	results := sendNotifyAll(ctx, senders, payload, 4*time.Second)
	if results.Succeeded() == 0 {
		return results, fmt.Errorf("all notification channels failed: %s", results.FailureSummary())
	}
	return results, nil
}
