package assets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tqbf/patchkit/pkg/index"
	"github.com/tqbf/patchkit/pkg/progress"
)

const TaskMaterialize = "materialize"

type MaterializeResult struct {
	Written int
	Skipped int
	Bytes   int64
}

// Materialize copies the bytes of every file in idx from root into dst.
// Blobs already present in dst are left alone; dst is addressed by content,
// so an existing blob already holds the right bytes.
func Materialize(
	ctx context.Context,
	root string,
	idx *index.Index,
	dst Store,
	tracker *progress.Tracker,
) (MaterializeResult, error) {
	var res MaterializeResult
	total := idx.FileCount()
	seen := make(map[string]bool, total)

	slog.Info("materializing assets", "dest", dst.String(), "files", total)
	tracker.Start(TaskMaterialize)

	current := 0
	for _, e := range idx.Files {
		if e.IsDir {
			continue
		}
		current++
		tracker.Step(TaskMaterialize, current, total)

		if seen[e.Hash] {
			res.Skipped++
			continue
		}
		seen[e.Hash] = true

		ok, err := dst.Has(ctx, e.Hash)
		if err != nil {
			tracker.Fail(TaskMaterialize)
			return res, err
		}
		if ok {
			res.Skipped++
			continue
		}

		slog.Debug(fmt.Sprintf(
			"(%d/%d) copying %s => %s",
			current, total, e.Path, BlobKey(e.Hash),
		))
		if err := copyIn(ctx, root, e, dst); err != nil {
			tracker.Fail(TaskMaterialize)
			return res, err
		}
		res.Written++
		res.Bytes += e.Size
	}

	tracker.Done(TaskMaterialize)
	return res, nil
}

func copyIn(
	ctx context.Context,
	root string,
	e index.Entry,
	dst Store,
) error {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(e.Path)))
	if err != nil {
		return fmt.Errorf("materialize %s: %w", e.Path, err)
	}
	defer f.Close()

	if err := dst.Put(ctx, e.Hash, f, e.Size); err != nil {
		return fmt.Errorf("materialize %s: %w", e.Path, err)
	}
	return nil
}
