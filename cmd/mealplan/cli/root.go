package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"mealplan/internal/api"
	"mealplan/internal/config"
	"mealplan/internal/db"

	"github.com/spf13/cobra"
)

var (
	cfgPath   string
	verbose   bool
	jsonOut   bool
	serverURL string
	version   = config.Version
	commit    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "mealplan",
	Short:   "Weekly meal plans from grocery flyers",
	Long:    "mealplan stitches the current grocery flyer pages together, asks an LLM for a meal plan and shopping list, and delivers it to your terminal or Discord.",
	Version: fmt.Sprintf("%s (%s)", version, commit),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output JSON")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "backend URL (overrides client.server_url)")
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

// loadConfig resolves the config file. A missing file is not an error:
// built-in defaults plus the environment are enough for the client.
// Priority: --config flag > ./mealplan.toml > ~/.config/mealplan/config.toml.
func loadConfig() (*config.Config, error) {
	path, err := config.Resolve(cfgPath)
	if err != nil {
		return nil, err
	}
	return config.LoadOrDefault(path)
}

func newClient(cfg *config.Config) *api.Client {
	base := cfg.Client.ServerURL
	if serverURL != "" {
		base = serverURL
	}
	return api.NewClient(base, &http.Client{Timeout: cfg.Client.RequestDeadline()})
}

func openStore(cfg *config.Config) (*db.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	// Clean up orphaned WAL sidecar files if the main DB was deleted.
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		_ = os.Remove(cfg.DBPath + "-shm")
		_ = os.Remove(cfg.DBPath + "-wal")
	}
	return db.Open(cfg.DBPath)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
