package migrate

import (
	"log/slog"
	"sort"

	"github.com/tqbf/patchkit/pkg/index"
)

// Plan diffs two snapshots entry by entry. Adds and replacements follow the
// new index order, so a new directory is always created before anything
// inside it. Entries that only exist in the old index are deleted last,
// deepest path first.
func Plan(oldIdx, newIdx *index.Index) []Op {
	remaining := oldIdx.ByPath()
	ops := []Op{}

	for _, n := range newIdx.Files {
		o, ok := remaining[n.Path]
		if !ok {
			ops = append(ops, Add(n))
			slog.Debug("create", "path", n.Path)
			continue
		}
		delete(remaining, n.Path)

		switch {
		case o.IsDir && n.IsDir:
		case o.IsDir != n.IsDir:
			ops = append(ops, Delete(o), Add(n))
			to := "file"
			if n.IsDir {
				to = "directory"
			}
			slog.Debug("type change", "path", n.Path, "to", to)
		case o.Hash == n.Hash && o.Size == n.Size:
		default:
			ops = append(ops, Delete(o), Add(n))
			slog.Debug("migrate",
				"path", n.Path,
				"from", index.Short(o.Hash),
				"to", index.Short(n.Hash),
				"delta", n.Size-o.Size,
			)
		}
	}

	removed := make([]index.Entry, 0, len(remaining))
	for _, e := range remaining {
		removed = append(removed, e)
	}
	sort.Slice(removed, func(i, j int) bool {
		return removed[i].Path > removed[j].Path
	})
	for _, e := range removed {
		ops = append(ops, Delete(e))
		slog.Debug("delete", "path", e.Path)
	}

	return ops
}
