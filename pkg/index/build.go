package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tqbf/patchkit/pkg/paths"
	"github.com/tqbf/patchkit/pkg/progress"
)

const (
	TaskScan = "scan"
	TaskHash = "hash"
)

const hashChunk = 1 << 20

type Option func(*options)

type options struct {
	meta     Meta
	excludes []string
	tracker  *progress.Tracker
}

func WithMeta(m Meta) Option {
	return func(o *options) { o.meta = m }
}

func WithExcludes(patterns []string) Option {
	return func(o *options) { o.excludes = patterns }
}

func WithTracker(t *progress.Tracker) Option {
	return func(o *options) { o.tracker = t }
}

// Build snapshots every directory and regular file below root.
func Build(root string, opts ...Option) (*Index, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	slog.Info("scanning", "root", root)
	o.tracker.Start(TaskScan)
	entries, err := scan(root, paths.NewExcludeMatcher(o.excludes))
	if err != nil {
		o.tracker.Fail(TaskScan)
		return nil, err
	}
	o.tracker.Done(TaskScan)

	if err := hashEntries(root, entries, o.tracker); err != nil {
		o.tracker.Fail(TaskHash)
		return nil, err
	}

	return &Index{Meta: o.meta, Files: entries}, nil
}

func scan(
	root string,
	matcher *paths.ExcludeMatcher,
) ([]Entry, error) {
	entries := []Entry{}
	err := filepath.WalkDir(
		root,
		func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := paths.Rel(root, p)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			if matcher.Match(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				entries = append(entries, Dir(rel))
				return nil
			}
			// Symlinks are never followed, including links to directories.
			if !d.Type().IsRegular() {
				slog.Debug("skipping non-regular file", "path", rel, "type", d.Type())
				return nil
			}
			entries = append(entries, Entry{Path: rel})
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return entries, nil
}

func hashEntries(
	root string,
	entries []Entry,
	tracker *progress.Tracker,
) error {
	total := 0
	for _, e := range entries {
		if !e.IsDir {
			total++
		}
	}

	tracker.Start(TaskHash)
	buf := make([]byte, hashChunk)
	current := 0
	for i := range entries {
		if entries[i].IsDir {
			continue
		}
		current++
		slog.Debug(fmt.Sprintf(
			"(%d/%d) processing %s", current, total, entries[i].Path,
		))

		full := filepath.Join(root, filepath.FromSlash(entries[i].Path))
		hash, size, err := hashFile(full, buf)
		if err != nil {
			return err
		}
		entries[i].Hash = hash
		entries[i].Size = size
		tracker.Step(TaskHash, current, total)
	}
	tracker.Done(TaskHash)
	return nil
}

// HashFile returns the lowercase hex SHA-256 and byte length of a file.
func HashFile(path string) (string, int64, error) {
	return hashFile(path, make([]byte, hashChunk))
}

func hashFile(path string, buf []byte) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("hash: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.CopyBuffer(h, f, buf)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashBytes is HashFile for in-memory content.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
