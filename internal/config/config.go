package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"mealplan/internal/api"
)

const Version = "0.1.0"

// LocalConfigName is picked up from the working directory when no --config
// flag is given.
const LocalConfigName = "mealplan.toml"

type Config struct {
	DBPath   string `toml:"db_path"`
	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`

	Client        ClientConfig        `toml:"client"`
	Server        ServerConfig        `toml:"server"`
	Defaults      DefaultsConfig      `toml:"defaults"`
	LLM           LLMConfig           `toml:"llm"`
	Notifications NotificationsConfig `toml:"notifications"`

	// Resolved at runtime (not in TOML).
	BaseDir string `toml:"-"`
	Path    string `toml:"-"`
}

type ClientConfig struct {
	ServerURL      string `toml:"server_url"`
	PollInterval   string `toml:"poll_interval"`
	WatchInterval  string `toml:"watch_interval"`
	RequestTimeout string `toml:"request_timeout"`
}

type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
	PIDFile    string `toml:"pid_file"`
	FlyerDir   string `toml:"flyer_dir"`
	OutputDir  string `toml:"output_dir"`
	MaxWorkers int    `toml:"max_workers"`

	// FlyerSource is "local" (images already in flyer_dir) or "flipp"
	// (browse Flipp for the request's postal code and download the pages).
	FlyerSource     string `toml:"flyer_source"`
	BrowserPath     string `toml:"browser_path"`
	BrowserTimeout  string `toml:"browser_timeout"`
	DownloadWorkers int    `toml:"download_workers"`
}

const (
	FlyerSourceLocal = "local"
	FlyerSourceFlipp = "flipp"
)

// DefaultsConfig seeds the generation form. Environment variables win over
// the file, matching how the web backend read its defaults.
type DefaultsConfig struct {
	PostalCode string `toml:"postal_code"`
	NumPeople  int    `toml:"num_people"`
	NumMeals   int    `toml:"num_meals"`
	Cuisine    string `toml:"cuisine"`
	Headless   *bool  `toml:"headless"`
}

type LLMConfig struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Timeout string   `toml:"timeout"`
}

type NotificationsConfig struct {
	DiscordWebhook string   `toml:"discord_webhook"`
	WebhookURL     string   `toml:"webhook_url"`
	SlackWebhook   string   `toml:"slack_webhook"`
	Desktop        bool     `toml:"desktop"`
	Triggers       []string `toml:"triggers"`
}

const (
	TriggerCompleted = "completed"
	TriggerFailed    = "failed"
)

var defaultNotificationTriggers = []string{
	TriggerCompleted,
	TriggerFailed,
}

const (
	DefaultServerURL  = "http://127.0.0.1:8000"
	DefaultListenAddr = "127.0.0.1:8000"
	DefaultPostalCode = "L6E1T8"
	DefaultCuisine    = "Chinese"
	DefaultLLMCommand = "gemini"
)

// Load reads the config file at path and applies defaults, the env overlay
// and validation. A .env file next to the config is read as a fallback for
// unset environment variables.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.BaseDir = filepath.Dir(path)
	cfg.Path = path
	return finish(cfg)
}

// Default builds a config without any file, rooted at dir.
func Default(dir string) (*Config, error) {
	return finish(&Config{BaseDir: dir})
}

// LoadOrDefault loads path when non-empty and otherwise falls back to
// Default rooted at the working directory.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	return Default(wd)
}

func finish(cfg *Config) (*Config, error) {
	applyDefaults(cfg)
	dotenv, err := readDotEnv(filepath.Join(cfg.BaseDir, ".env"))
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, layeredEnv(dotenv)); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	resolvePaths(cfg)
	return cfg, nil
}

// Resolve picks the config file to use: the explicit flag value, then
// ./mealplan.toml, then the global config. It returns "" when none exists.
func Resolve(flagPath string) (string, error) {
	if flagPath != "" {
		if _, err := os.Stat(flagPath); err != nil {
			return "", fmt.Errorf("config file %s: %w", flagPath, err)
		}
		return flagPath, nil
	}
	if _, err := os.Stat(LocalConfigName); err == nil {
		return LocalConfigName, nil
	}
	global, err := GlobalConfigPath()
	if err != nil {
		return "", nil
	}
	if _, err := os.Stat(global); err == nil {
		return global, nil
	}
	return "", nil
}

func readDotEnv(path string) (map[string]string, error) {
	vals, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return vals, nil
}

type lookupFunc func(key string) (string, bool)

// layeredEnv prefers the process environment over values from .env. A
// variable set to "" counts as unset, as it does everywhere in applyEnv.
func layeredEnv(dotenv map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
}

func applyDefaults(cfg *Config) {
	if cfg.DBPath == "" {
		if d, err := DataDir(); err == nil {
			cfg.DBPath = filepath.Join(d, "mealplan.db")
		} else {
			cfg.DBPath = "mealplan.db"
		}
	}
	if cfg.LogFile == "" {
		if d, err := StateDir(); err == nil {
			cfg.LogFile = filepath.Join(d, "mealplan.log")
		} else {
			cfg.LogFile = "mealplan.log"
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = DefaultServerURL
	}
	if cfg.Client.PollInterval == "" {
		cfg.Client.PollInterval = "1s"
	}
	if cfg.Client.WatchInterval == "" {
		cfg.Client.WatchInterval = "5s"
	}
	if cfg.Client.RequestTimeout == "" {
		cfg.Client.RequestTimeout = "10s"
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.MaxWorkers == 0 {
		cfg.Server.MaxWorkers = 1
	}
	if cfg.Server.PIDFile == "" {
		if d, err := StateDir(); err == nil {
			cfg.Server.PIDFile = filepath.Join(d, "mealplan.pid")
		} else {
			cfg.Server.PIDFile = "mealplan.pid"
		}
	}
	if cfg.Server.FlyerDir == "" {
		cfg.Server.FlyerDir = "data"
	}
	if cfg.Server.OutputDir == "" {
		cfg.Server.OutputDir = "output"
	}
	if cfg.Server.FlyerSource == "" {
		cfg.Server.FlyerSource = FlyerSourceLocal
	}
	if cfg.Server.BrowserTimeout == "" {
		cfg.Server.BrowserTimeout = "2m"
	}
	if cfg.Server.DownloadWorkers == 0 {
		cfg.Server.DownloadWorkers = 20
	}

	if cfg.Defaults.PostalCode == "" {
		cfg.Defaults.PostalCode = DefaultPostalCode
	}
	if cfg.Defaults.NumPeople == 0 {
		cfg.Defaults.NumPeople = 2
	}
	if cfg.Defaults.NumMeals == 0 {
		cfg.Defaults.NumMeals = 7
	}
	if cfg.Defaults.Cuisine == "" {
		cfg.Defaults.Cuisine = DefaultCuisine
	}
	if cfg.Defaults.Headless == nil {
		headless := true
		cfg.Defaults.Headless = &headless
	}

	if cfg.LLM.Command == "" {
		cfg.LLM.Command = DefaultLLMCommand
	}
	if cfg.LLM.Timeout == "" {
		cfg.LLM.Timeout = "10m"
	}
	if cfg.Notifications.Triggers == nil {
		cfg.Notifications.Triggers = slices.Clone(defaultNotificationTriggers)
	}
}

// applyEnv overlays environment variables. Priority (highest → lowest):
// process env > .env > config file.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	if v, ok := lookup("MEALPLAN_SERVER_URL"); ok && v != "" {
		cfg.Client.ServerURL = v
	}
	if v, ok := lookup("POSTAL_CODE"); ok && v != "" {
		cfg.Defaults.PostalCode = v
	}
	if v, ok := lookup("CUISINE"); ok && v != "" {
		cfg.Defaults.Cuisine = v
	}
	if v, ok := lookup("FLYER_SOURCE"); ok && v != "" {
		cfg.Server.FlyerSource = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("CHROME_PATH"); ok && v != "" {
		cfg.Server.BrowserPath = v
	}
	if v, ok := lookup("DISCORD_WEBHOOK_URL"); ok && v != "" {
		cfg.Notifications.DiscordWebhook = v
	}
	if v, ok := lookup("NUM_PEOPLE"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid NUM_PEOPLE %q: %w", v, err)
		}
		cfg.Defaults.NumPeople = n
	}
	if v, ok := lookup("NUM_MEALS"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid NUM_MEALS %q: %w", v, err)
		}
		cfg.Defaults.NumMeals = n
	}
	if v, ok := lookup("HEADLESS"); ok && v != "" {
		headless := strings.EqualFold(strings.TrimSpace(v), "true")
		cfg.Defaults.Headless = &headless
	}
	return nil
}

func validate(cfg *Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level: %q", cfg.LogLevel)
	}
	if err := validateHTTPURL(cfg.Client.ServerURL); err != nil {
		return fmt.Errorf("invalid client.server_url: %w", err)
	}
	for name, raw := range map[string]string{
		"client.poll_interval":   cfg.Client.PollInterval,
		"client.watch_interval":  cfg.Client.WatchInterval,
		"client.request_timeout": cfg.Client.RequestTimeout,
		"llm.timeout":            cfg.LLM.Timeout,
		"server.browser_timeout": cfg.Server.BrowserTimeout,
	} {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid %s %q: must be positive", name, raw)
		}
	}
	if cfg.Server.MaxWorkers < 1 {
		return fmt.Errorf("server.max_workers must be at least 1, got %d", cfg.Server.MaxWorkers)
	}
	switch cfg.Server.FlyerSource {
	case FlyerSourceLocal, FlyerSourceFlipp:
	default:
		return fmt.Errorf("unsupported server.flyer_source: %q", cfg.Server.FlyerSource)
	}
	if cfg.Server.DownloadWorkers < 1 {
		return fmt.Errorf("server.download_workers must be at least 1, got %d", cfg.Server.DownloadWorkers)
	}
	if cfg.Defaults.NumPeople < 1 {
		return fmt.Errorf("defaults.num_people must be at least 1, got %d", cfg.Defaults.NumPeople)
	}
	if cfg.Defaults.NumMeals < 1 {
		return fmt.Errorf("defaults.num_meals must be at least 1, got %d", cfg.Defaults.NumMeals)
	}
	if strings.TrimSpace(cfg.LLM.Command) == "" {
		return fmt.Errorf("llm.command is required")
	}
	normalizedTriggers, err := validateNotificationsConfig(cfg.Notifications)
	if err != nil {
		return err
	}
	cfg.Notifications.Triggers = normalizedTriggers
	return nil
}

func validateNotificationsConfig(cfg NotificationsConfig) ([]string, error) {
	if cfg.DiscordWebhook != "" {
		if err := validateHTTPURL(cfg.DiscordWebhook); err != nil {
			return nil, fmt.Errorf("invalid notifications.discord_webhook: %w", err)
		}
	}
	if cfg.WebhookURL != "" {
		if err := validateHTTPURL(cfg.WebhookURL); err != nil {
			return nil, fmt.Errorf("invalid notifications.webhook_url: %w", err)
		}
	}
	if cfg.SlackWebhook != "" {
		if err := validateHTTPURL(cfg.SlackWebhook); err != nil {
			return nil, fmt.Errorf("invalid notifications.slack_webhook: %w", err)
		}
	}
	normalized, err := normalizeTriggers(cfg.Triggers)
	if err != nil {
		return nil, fmt.Errorf("invalid notifications.triggers: %w", err)
	}
	return normalized, nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

func normalizeTriggers(triggers []string) ([]string, error) {
	out := make([]string, 0, len(triggers))
	seen := make(map[string]struct{}, len(triggers))
	for i, trigger := range triggers {
		normalized := strings.ToLower(strings.TrimSpace(trigger))
		if normalized == "" {
			return nil, fmt.Errorf("trigger at index %d is empty", i)
		}
		if normalized != TriggerCompleted && normalized != TriggerFailed {
			return nil, fmt.Errorf("unsupported trigger %q", normalized)
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out, nil
}

func resolvePaths(cfg *Config) {
	cfg.DBPath = absPath(cfg.BaseDir, cfg.DBPath)
	cfg.Server.PIDFile = absPath(cfg.BaseDir, cfg.Server.PIDFile)
	cfg.Server.FlyerDir = absPath(cfg.BaseDir, cfg.Server.FlyerDir)
	cfg.Server.OutputDir = absPath(cfg.BaseDir, cfg.Server.OutputDir)
	if cfg.LogFile != "" {
		cfg.LogFile = absPath(cfg.BaseDir, cfg.LogFile)
	}
}

func absPath(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func (cfg *Config) SlogLevel() slog.Level {
	switch cfg.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FormDefaults is the payload served from /api/config.
func (cfg *Config) FormDefaults() api.DefaultConfig {
	return api.DefaultConfig{
		PostalCode:        cfg.Defaults.PostalCode,
		NumPeople:         cfg.Defaults.NumPeople,
		NumMeals:          cfg.Defaults.NumMeals,
		Cuisine:           cfg.Defaults.Cuisine,
		Headless:          cfg.Defaults.Headless != nil && *cfg.Defaults.Headless,
		DiscordWebhookURL: cfg.Notifications.DiscordWebhook,
	}
}

// The duration accessors assume validate has run.

func (c ClientConfig) PollEvery() time.Duration       { return mustDuration(c.PollInterval) }
func (c ClientConfig) WatchEvery() time.Duration      { return mustDuration(c.WatchInterval) }
func (c ClientConfig) RequestDeadline() time.Duration { return mustDuration(c.RequestTimeout) }
func (c LLMConfig) Deadline() time.Duration           { return mustDuration(c.Timeout) }
func (c ServerConfig) BrowserDeadline() time.Duration { return mustDuration(c.BrowserTimeout) }

func mustDuration(raw string) time.Duration {
	d, _ := time.ParseDuration(raw)
	return d
}

// TriggerEnabled reports whether notifications fire for trigger.
func (n NotificationsConfig) TriggerEnabled(trigger string) bool {
	return slices.Contains(n.Triggers, trigger)
}
