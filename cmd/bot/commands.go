package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-bot/internal/app"
	"github.com/vovakirdan/wirechat-bot/internal/bot"
	"github.com/vovakirdan/wirechat-bot/internal/config"
	"github.com/vovakirdan/wirechat-bot/internal/log"
)

type flags struct {
	configPath string
	overrides  config.Config
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "wirechat-bot",
		Short:         "Chat room bot running a persona over a websocket room",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "path to the YAML config file")
	pf.StringVar(&f.overrides.RoomURL, "room", "", "room websocket URL")
	pf.StringVar(&f.overrides.Nick, "nick", "", "nick to use in the room (defaults to the persona's)")
	pf.StringVar(&f.overrides.Persona, "persona", "", "persona to run")
	pf.StringVar(&f.overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&f.overrides.DatabasePath, "db", "", "sqlite database path")
	pf.StringVar(&f.overrides.OpsAddr, "ops-addr", "", "listen address for /health, /status and /metrics")

	root.AddCommand(newRunCommand(f), newConfigCommand(f), newPersonasCommand())
	return root
}

func newRunCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the room and run the persona (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}
}

func newConfigCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(f)
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newPersonasCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List the available personas",
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range bot.Personas() {
				p, _ := bot.Lookup(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s  %v\n", p.Name, p.Nick, p.Handlers)
			}
		},
	}
}

func loadConfig(f *flags) (config.Config, string, error) {
	cfg, path, err := config.Load(nil, f.configPath)
	if err != nil {
		return cfg, path, err
	}
	cfg.UpdateFrom(f.overrides)
	return cfg, path, nil
}

func run(parent context.Context, f *flags) error {
	cfg, path, err := loadConfig(f)
	if err != nil {
		return err
	}
	logger := log.New(cfg.LogLevel)
	logger.Info().Str("config", path).Str("persona", cfg.Persona).Str("room", cfg.RoomURL).Msg("configuration loaded")

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, logger)
	if err != nil {
		return err
	}

	logger.Info().Msg("starting bot")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("bot exited with error")
		return err
	}
	logger.Info().Msg("bot stopped")
	return nil
}
