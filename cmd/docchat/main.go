package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"docchat/internal/config"
	"docchat/internal/memory"
	"docchat/internal/provider"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "docchat",
		Short: "docchat: realtime AI chat rooms that answer with documents",
		Long: "docchat serves chat rooms over WebSocket. Messages go to an OpenAI-compatible model and\n" +
			"answers come back as text or as PDF, Word, Excel, PowerPoint or checklist files.",
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.docchat/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(extractCmd())
	root.AddCommand(renderCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfigOrDefaults is for commands that work without a config file.
func loadConfigOrDefaults() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Debug("config not loaded, using defaults", "path", cfgPath, "err", err)
		return config.Defaults()
	}
	return cfg
}

// newLogger builds the process logger from the general section. The
// returned closer releases the log file, if any.
func newLogger(g config.GeneralConfig) (*slog.Logger, func() error, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	closer := func() error { return nil }
	if g.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(g.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("cannot create log directory: %w", err)
		}
		f, err := os.OpenFile(g.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closer = f.Close
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closer, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(config.ExpandPath(cfg.Storage.LocalDir), 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "files", config.ExpandPath(cfg.Storage.LocalDir))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database and AI backend status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			store, err := memory.Open(ctx, memory.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, Logger: logger})
			if err != nil {
				logger.Info("database", "driver", cfg.Database.Driver, "healthy", false, "err", err)
			} else {
				v, _ := store.SchemaVersion(ctx)
				logger.Info("database", "driver", cfg.Database.Driver, "healthy", true, "schema", v)
				store.Close()
			}

			client := provider.NewClient(provider.ClientConfig{
				APIKey:  cfg.AI.APIKey,
				APIBase: cfg.AI.APIBase,
				Model:   cfg.AI.Model,
				Timeout: 5 * time.Second,
				Logger:  logger,
			})
			if err := client.Healthy(ctx); err != nil {
				logger.Info("ai backend", "base", cfg.AI.APIBase, "healthy", false, "err", err)
			} else {
				logger.Info("ai backend", "base", cfg.AI.APIBase, "model", client.Model(), "healthy", true)
			}
			return nil
		},
	}
}
