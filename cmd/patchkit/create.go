package main

import (
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/tqbf/patchkit/pkg/assets"
	"github.com/tqbf/patchkit/pkg/index"
	"github.com/tqbf/patchkit/pkg/migrate"
	"github.com/tqbf/patchkit/pkg/progress"
)

func createCmd() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "index a directory and optionally store its assets",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "directory to index",
			},
			&cli.StringFlag{
				Name:  "index-output",
				Usage: "where to write the index JSON",
			},
			&cli.StringFlag{
				Name:  "assets-output",
				Usage: "asset store to copy file contents into (dir or s3://bucket/prefix)",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "release name recorded in the index",
			},
			&cli.StringFlag{
				Name:  "version",
				Usage: "release version recorded in the index",
			},
			&cli.Uint64Flag{
				Name:  "version-id",
				Usage: "numeric version id recorded in the index",
			},
			&cli.StringFlag{
				Name:  "platform",
				Usage: "platform recorded in the index",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "exclude pattern (repeatable)",
			},
		},
		Action: createAction,
	}
}

func createAction(c *cli.Context) error {
	input, err := requireFlag(c, "input")
	if err != nil {
		return err
	}
	output, err := requireFlag(c, "index-output")
	if err != nil {
		return err
	}

	meta := index.Meta{
		Name:     c.String("name"),
		Version:  c.String("version"),
		Platform: c.String("platform"),
	}
	if c.IsSet("version-id") {
		id := c.Uint64("version-id")
		meta.VersionID = &id
	}

	excludes := c.StringSlice("exclude")
	if len(excludes) == 0 {
		excludes = appConfig(c).Exclude
	}

	var dst assets.Store
	if out := c.String("assets-output"); out != "" {
		dst, err = assets.ParseRoot(out, appConfig(c).S3)
		if err != nil {
			return err
		}
	}

	ctx, cancel := contextWithTimeout(c)
	defer cancel()

	tasks := []progress.SubTask{
		progress.Task(index.TaskScan, 0.1),
		progress.Task(index.TaskHash, 0.5),
	}
	if dst != nil {
		tasks = append(tasks, progress.Task(assets.TaskMaterialize, 0.4))
	}
	tracker, closeTracker := startTracker(ctx, c, tasks...)
	defer closeTracker()

	err = func() error {
		idx, err := index.Build(input,
			index.WithMeta(meta),
			index.WithExcludes(excludes),
			index.WithTracker(tracker),
		)
		if err != nil {
			return err
		}
		if err := index.Save(output, idx); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer,
			"indexed %d files in %d entries -> %s\n",
			idx.FileCount(), len(idx.Files), output,
		)

		if dst == nil {
			return nil
		}
		res, err := assets.Materialize(ctx, input, idx, dst, tracker)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer,
			"stored %d blobs (%s), %d already present -> %s\n",
			res.Written, migrate.HumanBytes(res.Bytes), res.Skipped, dst,
		)
		return nil
	}()
	if err != nil {
		slog.Error("create failed", "input", input, "err", err)
		tracker.Finish(err)
	}
	return err
}
