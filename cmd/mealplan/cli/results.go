package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"mealplan/internal/api"
	"mealplan/internal/render"

	"github.com/spf13/cobra"
)

var resultsFlyer string

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show the latest meal plan",
	RunE:  runResults,
}

func init() {
	resultsCmd.Flags().StringVar(&resultsFlyer, "flyer", "", "also download the stitched flyer image to this path")
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client := newClient(cfg)
	rec, err := client.Recommendations(cmd.Context())
	if err != nil {
		return err
	}

	if resultsFlyer != "" {
		if err := downloadFlyer(cmd.Context(), client, resultsFlyer); err != nil {
			return err
		}
	}

	if jsonOut {
		printJSON(rec)
		return nil
	}
	fmt.Println(render.Results(rec, 80))
	if resultsFlyer != "" {
		fmt.Printf("Flyer saved to %s\n", resultsFlyer)
	}
	return nil
}

// downloadFlyer streams the flyer into path through a temporary sibling
// file that is removed on failure.
func downloadFlyer(ctx context.Context, client *api.Client, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create flyer directory: %w", err)
		}
	}
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create flyer file: %w", err)
	}
	_, copyErr := client.FlyerImage(ctx, f)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		if copyErr != nil {
			return copyErr
		}
		return fmt.Errorf("write flyer file: %w", closeErr)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save flyer file: %w", err)
	}
	return nil
}
