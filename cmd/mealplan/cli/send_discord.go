package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var discordWebhook string

var sendDiscordCmd = &cobra.Command{
	Use:   "send-discord",
	Short: "Deliver the latest meal plan to a Discord webhook",
	RunE:  runSendDiscord,
}

func init() {
	sendDiscordCmd.Flags().StringVar(&discordWebhook, "webhook", "", "Discord webhook URL (default notifications.discord_webhook)")
	rootCmd.AddCommand(sendDiscordCmd)
}

func runSendDiscord(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	webhook := discordWebhook
	if webhook == "" {
		webhook = cfg.Notifications.DiscordWebhook
	}
	resp, err := newClient(cfg).SendDiscord(cmd.Context(), webhook)
	if err != nil {
		return err
	}
	if jsonOut {
		printJSON(resp)
		return nil
	}
	fmt.Println(resp.Message)
	return nil
}
