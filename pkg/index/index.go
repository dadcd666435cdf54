package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Meta is free-form release metadata shared by indexes and patches.
type Meta struct {
	Name      string  `json:"name,omitempty"`
	Version   string  `json:"version,omitempty"`
	VersionID *uint64 `json:"version_id,omitempty"`
	Platform  string  `json:"platform,omitempty"`
}

// Index is a snapshot of a tree in pre-order: every directory precedes
// everything nested inside it.
type Index struct {
	Meta
	Files []Entry `json:"files"`
}

func (idx *Index) Validate() error {
	seen := make(map[string]struct{}, len(idx.Files))
	for _, e := range idx.Files {
		if err := e.Validate(); err != nil {
			return err
		}
		if _, dup := seen[e.Path]; dup {
			return fmt.Errorf(
				"%w: duplicate path %s", ErrMalformed, e.Path,
			)
		}
		seen[e.Path] = struct{}{}
	}
	return nil
}

func (idx *Index) ByPath() map[string]Entry {
	m := make(map[string]Entry, len(idx.Files))
	for _, e := range idx.Files {
		m[e.Path] = e
	}
	return m
}

func (idx *Index) FileCount() int {
	n := 0
	for _, e := range idx.Files {
		if !e.IsDir {
			n++
		}
	}
	return n
}

func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	var idx Index
	if err := json.NewDecoder(f).Decode(&idx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	if err := idx.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &idx, nil
}

// Save writes idx to path through a temp file in the same directory, so a
// reader never sees a partial index.
func Save(path string, idx *Index) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	out := *idx
	if out.Files == nil {
		out.Files = []Entry{}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".index-*.tmp")
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write index: %w", writeErr)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}
