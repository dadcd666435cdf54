package main

import (
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/tqbf/patchkit/pkg/apply"
	"github.com/tqbf/patchkit/pkg/bundle"
	"github.com/tqbf/patchkit/pkg/progress"
)

func patchCmd() *cli.Command {
	return &cli.Command{
		Name:  "patch",
		Usage: "apply a patch bundle to an installed tree",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "root",
				Usage: "installed tree to patch in place",
			},
			&cli.StringFlag{
				Name:  "patch-bundle",
				Usage: "bundle produced by compare --create-patch-bundle",
			},
			&cli.BoolFlag{
				Name:  "skip-check",
				Usage: "do not verify files before deleting them",
			},
		},
		Action: patchAction,
	}
}

func patchAction(c *cli.Context) error {
	root, err := requireFlag(c, "root")
	if err != nil {
		return err
	}
	path, err := requireFlag(c, "patch-bundle")
	if err != nil {
		return err
	}

	ctx, cancel := contextWithTimeout(c)
	defer cancel()
	tracker, closeTracker := startTracker(ctx, c,
		progress.Task(apply.TaskVerify, 0.3),
		progress.Task(apply.TaskApply, 0.7),
	)
	defer closeTracker()

	r, err := bundle.Open(path)
	if err != nil {
		slog.Error("open bundle failed", "path", path, "err", err)
		tracker.Finish(err)
		return err
	}
	defer r.Close()

	patch := r.Patch()
	err = apply.Apply(root, r, patch,
		apply.WithSkipVerify(c.Bool("skip-check")),
		apply.WithTracker(tracker),
	)
	if err != nil {
		slog.Error("patch failed", "root", root, "err", err)
		tracker.Finish(err)
		return err
	}
	fmt.Fprintf(c.App.Writer,
		"applied %d migrations to %s\n", len(patch.Migrations), root,
	)
	return nil
}
