package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/granola-companion/internal"
	pkgconfig "github.com/starford/granola-companion/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	found, err := pkgconfig.LoadOptional(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !found {
		slog.Warn("config file not found, using defaults", slog.String("path", configPath))
	}
	if v := cmd.String("vault"); v != "" {
		cfg.Vault.Path = v
	}
	return cfg, nil
}

func withConfig(fn func(ctx context.Context, cmd *cli.Command, opts []internal.Option) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		opts := []internal.Option{
			internal.WithConfig(cfg),
			internal.WithVersion(version),
		}
		return fn(ctx, cmd, opts)
	}
}

func serve(ctx context.Context, _ *cli.Command, opts []internal.Option) error {
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "granola-companion",
		Usage:   "Keeps a Granola-synced Markdown vault free of duplicate meeting documents",
		Version: version,
		Action:  withConfig(serve),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "vault",
				Usage:   "Vault directory (overrides vault.path)",
				Sources: cli.EnvVars("APP_VAULT_PATH"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the REST API, event stream and vault watcher",
				Action: withConfig(serve),
			},
			{
				Name:  "mcp",
				Usage: "Serve MCP tools over stdio",
				Action: withConfig(func(ctx context.Context, _ *cli.Command, opts []internal.Option) error {
					return internal.RunMCP(ctx, opts...)
				}),
			},
			{
				Name:  "stats",
				Usage: "Print duplicate statistics as JSON",
				Action: withConfig(func(ctx context.Context, _ *cli.Command, opts []internal.Option) error {
					return internal.RunStats(ctx, opts...)
				}),
			},
			{
				Name:  "cleanup",
				Usage: "Delete all but one document per duplicate group",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "Confirm deletion",
					},
				},
				Action: withConfig(func(ctx context.Context, cmd *cli.Command, opts []internal.Option) error {
					return internal.RunCleanup(ctx, cmd.Bool("yes"), opts...)
				}),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
