// ABOUTME: Entry point for coven-bot, an example Matrix bot
// ABOUTME: Wires config, logging, and demo commands into the bot package

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-bot/bot"
	"github.com/2389/coven-bot/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                  _           _
  ___ _____   _____ _ __         | |__   ___ | |_
 / __/ _ \ \ / / _ \ '_ \  _____ | '_ \ / _ \| __|
| (_| (_) \ V /  __/ | | ||_____|| |_) | (_) | |_
 \___\___/ \_/ \___|_| |_|       |_.__/ \___/ \__|
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	resolve := func() string {
		if configPath != "" {
			return configPath
		}
		return config.DefaultPath()
	}

	root := &cobra.Command{
		Use:           "coven-bot",
		Short:         "Example Matrix bot",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), resolve())
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: $COVEN_BOT_CONFIG or ~/.config/coven/bot.toml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Log in, catch up, and serve commands",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBot(cmd.Context(), resolve())
			},
		},
		&cobra.Command{
			Use:   "login",
			Short: "Log in (or restore the saved session) and catch up without serving",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runLogin(cmd.Context(), resolve())
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Create a new config file interactively",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runInit(cmd.InOrStdin(), cmd.OutOrStdout(), resolve())
			},
		},
	)
	return root
}

// botConfig maps the file config onto the bot's settings.
func botConfig(cfg *config.Config, logger *slog.Logger) bot.Config {
	return bot.Config{
		Homeserver:        cfg.Matrix.Homeserver,
		Username:          cfg.Matrix.Username,
		Password:          cfg.Matrix.Password,
		DeviceName:        cfg.Matrix.DeviceName,
		Name:              cfg.Bot.Name,
		AllowList:         cfg.Bot.AllowList,
		StateDir:          cfg.Bot.StateDir,
		CommandPrefix:     cfg.Bot.CommandPrefix,
		RoomSizeLimit:     cfg.Bot.RoomSizeLimit,
		DisableEncryption: cfg.Bot.DisableEncryption,
		JoinInitialDelay:  cfg.Autojoin.InitialDelay,
		JoinMaxDelay:      cfg.Autojoin.MaxDelay,
		Logger:            logger,
		TransportLogLevel: transportLevel(cfg.Logging.Level),
	}
}

// transportLevel keeps the Matrix library quieter than the bot unless debugging.
func transportLevel(level string) string {
	if level == "debug" {
		return "debug"
	}
	return "warn"
}

func loadBot(configPath string) (*bot.Bot, *config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config from %s: %w", configPath, err)
	}
	logger := setupLogger(cfg.Logging)

	b, err := bot.New(botConfig(cfg, logger))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating bot: %w", err)
	}
	return b, cfg, logger, nil
}

func runBot(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	b, cfg, logger, err := loadBot(configPath)
	if err != nil {
		return err
	}
	defer b.Close()

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Bot:        %s (prefix %q)\n", b.Name(), b.CommandPrefix())
	green.Print("    ▶ ")
	fmt.Printf("State:      %s\n", b.StateDir())
	if cfg.Bot.AllowList == "" {
		color.New(color.FgYellow).Print("    ! ")
		fmt.Println("No allow_list set: the bot will not answer anyone")
	}
	if !cfg.Bot.DisableEncryption {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	fmt.Println()

	registerDemoCommands(b, logger)
	if cfg.Autojoin.Enabled {
		b.JoinRooms(func(ctx context.Context, roomID string) error {
			logger.Info("joined room", "room", roomID)
			return nil
		})
	}

	if err := b.Login(ctx); err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	logger.Info("catching up")
	if err := b.Sync(ctx); err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}
	return b.Run(ctx)
}

func runLogin(ctx context.Context, configPath string) error {
	b, _, _, err := loadBot(configPath)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Login(ctx); err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	if err := b.Sync(ctx); err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Logged in as %s\n", b.FullName())
	fmt.Printf("  Session: %s\n", b.SessionPath())
	return nil
}
