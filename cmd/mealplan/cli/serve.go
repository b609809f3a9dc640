package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"mealplan/internal/config"
	"mealplan/internal/daemon"

	"github.com/spf13/cobra"
)

var serveLogFile bool

var (
	serverRunning = daemon.IsRunning
	runServer     = daemon.Run
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the meal plan backend (API, workers, notifications)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveLogFile, "log-file", false, "write JSON logs to the configured log file instead of stderr")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serverRunning(cfg.Server.PIDFile) {
		return fmt.Errorf("server is already running (see %s)", cfg.Server.PIDFile)
	}

	closeLog, err := configureServeLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	fmt.Printf("Starting mealplan server on %s...\n", cfg.Server.ListenAddr)
	return runServer(cfg)
}

// configureServeLogging installs the server's slog handler at the config's
// log level (debug with --verbose).
func configureServeLogging(cfg *config.Config) (func(), error) {
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if !serveLogFile {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(f, opts)))
	return func() { _ = f.Close() }, nil
}
