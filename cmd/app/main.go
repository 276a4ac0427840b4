package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/notemill/notemill/internal"
	"github.com/notemill/notemill/internal/source"
	pkgconfig "github.com/notemill/notemill/pkg/config"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
)

// defaultConfigFile is loaded when --config is not given and the file exists.
const defaultConfigFile = "notemill.yaml"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if path := cmd.String("config"); path != "" {
		if err := pkgconfig.Load(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if _, err := pkgconfig.LoadIfExists(defaultConfigFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func convertFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "source",
			Aliases: []string{"s"},
			Usage:   fmt.Sprintf("Source export as format:path (formats: %s)", strings.Join(source.Formats(), ", ")),
		},
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Usage:   "Output vault directory",
		},
		&cli.StringFlag{
			Name:  "flavor",
			Usage: "Front matter flavor: obsidian, yaml, toml, or none",
		},
		&cli.StringFlag{
			Name:  "naming",
			Usage: "File naming: preserve or slug",
		},
		&cli.StringFlag{
			Name:  "platform",
			Usage: "Path sanitization target: auto, posix, or windows",
		},
		&cli.StringFlag{
			Name:  "order",
			Usage: "Sibling ordering: title or insertion",
		},
		&cli.StringFlag{
			Name:  "resource-dir",
			Usage: "Attachment directory name inside the vault",
		},
		&cli.BoolFlag{
			Name:  "include-source-id",
			Usage: "Carry original note IDs into front matter",
		},
	}
}

func indexFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "index",
			Usage: "Build the SQLite search index",
		},
		&cli.StringFlag{
			Name:  "index-path",
			Usage: "Search index location",
		},
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Usage:   "Vault directory to serve",
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "HTTP listen port",
		},
		&cli.StringFlag{
			Name:    "auth-token",
			Usage:   "Require this bearer token on every request",
			Sources: cli.EnvVars("NOTEMILL_AUTH_TOKEN"),
		},
		&cli.BoolFlag{
			Name:  "watch",
			Usage: "Rebuild the vault when sources change",
		},
	}
}

func mcpFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Usage:   "Vault directory to expose",
		},
	}
}

func applyConvertFlags(cmd *cli.Command, cfg *internal.Config) error {
	if cmd.IsSet("source") {
		cfg.Sources = nil
		for _, spec := range cmd.StringSlice("source") {
			format, path, ok := strings.Cut(spec, ":")
			if !ok || format == "" || path == "" {
				return fmt.Errorf("bad --source %q, want format:path", spec)
			}
			cfg.Sources = append(cfg.Sources, internal.SourceConfig{Format: format, Path: path})
		}
	}
	if cmd.IsSet("out") {
		cfg.Output.Dir = cmd.String("out")
	}
	if cmd.IsSet("flavor") {
		cfg.Output.Flavor = cmd.String("flavor")
	}
	if cmd.IsSet("naming") {
		cfg.Output.Naming = cmd.String("naming")
	}
	if cmd.IsSet("platform") {
		cfg.Output.Platform = cmd.String("platform")
	}
	if cmd.IsSet("order") {
		cfg.Output.Order = cmd.String("order")
	}
	if cmd.IsSet("resource-dir") {
		cfg.Output.ResourceDir = cmd.String("resource-dir")
	}
	if cmd.IsSet("include-source-id") {
		cfg.Output.IncludeSourceID = cmd.Bool("include-source-id")
	}
	applyIndexFlags(cmd, cfg)
	return nil
}

func applyIndexFlags(cmd *cli.Command, cfg *internal.Config) {
	if cmd.IsSet("index") {
		cfg.Index.Enabled = cmd.Bool("index")
	}
	if cmd.IsSet("index-path") {
		cfg.Index.Path = cmd.String("index-path")
	}
}

func applyServeFlags(cmd *cli.Command, cfg *internal.Config) {
	if cmd.IsSet("out") {
		cfg.Output.Dir = cmd.String("out")
	}
	if cmd.IsSet("port") {
		cfg.Serve.Port = int(cmd.Int("port"))
	}
	if token := cmd.String("auth-token"); token != "" {
		cfg.Serve.Auth.Mode = internal.AuthModeToken
		cfg.Serve.Auth.Token = token
	}
	if cmd.IsSet("watch") {
		cfg.Serve.Watch = cmd.Bool("watch")
	}
	applyIndexFlags(cmd, cfg)
}

func runConvert(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyConvertFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	summary, err := internal.Run(ctx, internal.WithConfig(cfg))
	if summary != nil {
		fmt.Print(summary.Render())
	}
	if err != nil {
		return err
	}
	if !summary.Clean() {
		return fmt.Errorf("completed with %d failures", summary.Failures())
	}
	return nil
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyConvertFlags(cmd, cfg); err != nil {
		return err
	}
	if cmd.IsSet("debounce") {
		cfg.Watch.Debounce = cmd.String("debounce")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return internal.RunWatch(ctx, internal.WithConfig(cfg))
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return internal.RunServe(ctx, internal.WithConfig(cfg))
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("out") {
		cfg.Output.Dir = cmd.String("out")
	}
	applyIndexFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func main() {
	cmd := &cli.Command{
		Name:  "notemill",
		Usage: "Convert note-collection exports into a normalized Markdown vault",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: defaultConfigFile,
				Sources:     cli.EnvVars("NOTEMILL_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "convert",
				Usage:  "Convert configured sources into the output vault",
				Flags:  append(convertFlags(), indexFlags()...),
				Action: runConvert,
			},
			{
				Name:  "watch",
				Usage: "Re-convert whenever a source export changes",
				Flags: append(append(convertFlags(), indexFlags()...), &cli.StringFlag{
					Name:  "debounce",
					Usage: "Quiet period before a rebuild, e.g. 500ms",
				}),
				Action: runWatch,
			},
			{
				Name:   "serve",
				Usage:  "Serve the vault over HTTP for preview",
				Flags:  append(serveFlags(), indexFlags()...),
				Action: runServe,
			},
			{
				Name:   "mcp",
				Usage:  "Expose the vault to MCP clients over stdio",
				Flags:  append(mcpFlags(), indexFlags()...),
				Action: runMCP,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
