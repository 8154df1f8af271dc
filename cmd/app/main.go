package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/ansuz/internal"
	pkgconfig "github.com/starford/ansuz/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadIfExists(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func main() {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config file",
		Value:   "config/config.yaml",
		Sources: cli.EnvVars("ANSUZ_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:  "ansuz",
		Usage: "Local note ingestion, indexing, and retrieval service",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP API and the drop-directory watcher",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					return internal.Run(ctx, internal.WithConfig(cfg))
				},
			},
			{
				Name:  "mcp",
				Usage: "Run the MCP server on stdio",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					return internal.RunMCP(ctx, internal.WithConfig(cfg))
				},
			},
			{
				Name:  "rebuild",
				Usage: "Rebuild the search index from the note store",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					return internal.RunRebuild(ctx, internal.WithConfig(cfg))
				},
			},
		},
		// Bare invocation behaves like "serve".
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return internal.Run(ctx, internal.WithConfig(cfg))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
