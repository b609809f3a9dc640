package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the backend's default generation settings",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defaults, err := newClient(cfg).Config(cmd.Context())
	if err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}
	if jsonOut {
		printJSON(defaults)
		return nil
	}

	webhook := "(not set)"
	if defaults.DiscordWebhookURL != "" {
		webhook = "set"
	}
	fmt.Printf("Postal code:  %s\n", defaults.PostalCode)
	fmt.Printf("People:       %d\n", defaults.NumPeople)
	fmt.Printf("Meals:        %d\n", defaults.NumMeals)
	fmt.Printf("Cuisine:      %s\n", defaults.Cuisine)
	fmt.Printf("Headless:     %t\n", defaults.Headless)
	fmt.Printf("Discord:      %s\n", webhook)
	return nil
}
