package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tqbf/patchkit/pkg/assets"
	"github.com/tqbf/patchkit/pkg/config"
	"github.com/tqbf/patchkit/pkg/progress"
)

const appVersion = "0.1.0"

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "patchkit",
		Usage: "build and apply incremental patches for versioned file trees",
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			c.App.Metadata[configKey] = cfg
			configureLogging(c.Bool("verbose"), cfg.Level())
			return nil
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				EnvVars: []string{"PATCHKIT_CONFIG"},
				Usage:   "YAML config file",
			},
			&cli.StringFlag{
				Name:  "progress-url",
				Usage: "websocket URL to stream progress reports to",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Minute,
				Usage: "operation timeout",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "verbose output",
			},
		},
		Metadata: map[string]interface{}{},
		Commands: []*cli.Command{
			createCmd(),
			compareCmd(),
			patchCmd(),
			{
				Name:  "version",
				Usage: "print version",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, appVersion)
					return nil
				},
			},
		},
	}
}

func configureLogging(verbose bool, level slog.Level) {
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}),
	))
}

func appConfig(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return &config.Config{}
}

func contextWithTimeout(
	c *cli.Context,
) (context.Context, context.CancelFunc) {
	return context.WithTimeout(
		context.Background(),
		c.Duration("timeout"),
	)
}

// startTracker reports to the log and, when a progress URL is configured, to
// a websocket listener. A listener that cannot be reached only costs a
// warning.
func startTracker(
	ctx context.Context,
	c *cli.Context,
	tasks ...progress.SubTask,
) (*progress.Tracker, func()) {
	sinks := []progress.Sink{progress.LogSink{}}
	closeFn := func() {}

	url := c.String("progress-url")
	if url == "" {
		url = appConfig(c).ProgressURL
	}
	if url != "" {
		ws, err := progress.DialWS(ctx, url)
		if err != nil {
			slog.Warn("progress sink unavailable", "url", url, "err", err)
		} else {
			sinks = append(sinks, ws)
			closeFn = func() { ws.Close() }
		}
	}

	return progress.NewTracker(ctx, progress.Multi(sinks...), tasks...), closeFn
}

func assetRoots(c *cli.Context, flag string) ([]assets.Store, error) {
	roots := c.StringSlice(flag)
	if len(roots) == 0 {
		roots = appConfig(c).AssetsPaths
	}
	return assets.ParseRoots(roots, appConfig(c).S3)
}

func requireFlag(c *cli.Context, name string) (string, error) {
	v := c.String(name)
	if v == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	return v, nil
}
