package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tqbf/patchkit/pkg/assets"
	"github.com/tqbf/patchkit/pkg/bundle"
	"github.com/tqbf/patchkit/pkg/index"
	"github.com/tqbf/patchkit/pkg/migrate"
	"github.com/tqbf/patchkit/pkg/progress"
)

func compareCmd() *cli.Command {
	return &cli.Command{
		Name:  "compare",
		Usage: "diff two indexes and optionally build a patch bundle",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "old-index",
				Usage: "index of the installed version",
			},
			&cli.StringFlag{
				Name:  "new-index",
				Usage: "index of the target version",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "bundle path, or plan JSON path without --create-patch-bundle",
			},
			&cli.BoolFlag{
				Name:  "create-patch-bundle",
				Usage: "package the plan and its blobs into a bundle",
			},
			&cli.StringSliceFlag{
				Name:  "assets-path",
				Usage: "asset store to read blobs from, searched in order (repeatable)",
			},
			&cli.StringFlag{
				Name:  "format",
				Value: "text",
				Usage: "report format: text, json or unified",
			},
		},
		Action: compareAction,
	}
}

func compareAction(c *cli.Context) error {
	oldPath, err := requireFlag(c, "old-index")
	if err != nil {
		return err
	}
	newPath, err := requireFlag(c, "new-index")
	if err != nil {
		return err
	}
	format := c.String("format")
	if format != "text" && format != "json" && format != "unified" {
		return fmt.Errorf("--format must be text, json or unified")
	}

	oldIdx, err := index.Load(oldPath)
	if err != nil {
		return err
	}
	newIdx, err := index.Load(newPath)
	if err != nil {
		return err
	}

	ops := migrate.Plan(oldIdx, newIdx)
	if err := report(c.App.Writer, format, oldIdx, newIdx, ops); err != nil {
		return err
	}

	output := c.String("output")
	if !c.Bool("create-patch-bundle") {
		if output == "" {
			return nil
		}
		return writePlan(output, ops)
	}
	if output == "" {
		return bundle.ErrMissingOutput
	}

	stores, err := assetRoots(c, "assets-path")
	if err != nil {
		return err
	}

	ctx, cancel := contextWithTimeout(c)
	defer cancel()
	tracker, closeTracker := startTracker(ctx, c,
		progress.Task(bundle.TaskBundle, 1),
	)
	defer closeTracker()

	patch := migrate.NewPatch(newIdx, ops)
	res, err := bundle.Write(ctx, output, patch,
		assets.NewResolver(stores...), tracker)
	if err != nil {
		slog.Error("bundle failed", "output", output, "err", err)
		tracker.Finish(err)
		return err
	}
	fmt.Fprintf(c.App.Writer,
		"wrote %s: %d migrations, %d blobs (%s)\n",
		res.Path, len(patch.Migrations), res.Blobs,
		migrate.HumanBytes(res.Bytes),
	)
	return nil
}

func report(
	w io.Writer,
	format string,
	oldIdx, newIdx *index.Index,
	ops []migrate.Op,
) error {
	switch format {
	case "json":
		return migrate.WriteJSON(w, ops)
	case "unified":
		out, err := migrate.UnifiedListing(oldIdx, newIdx, 3)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	default:
		return migrate.WriteText(w, ops)
	}
}

func writePlan(path string, ops []migrate.Op) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	if err := migrate.WriteJSON(f, ops); err != nil {
		f.Close()
		return fmt.Errorf("write plan: %w", err)
	}
	return f.Close()
}
