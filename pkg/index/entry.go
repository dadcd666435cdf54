package index

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformed = errors.New("malformed index data")

// Entry is one file or directory of a snapshot. Directories carry no hash
// or size.
type Entry struct {
	Path  string
	IsDir bool
	Hash  string
	Size  int64
}

func Dir(path string) Entry {
	return Entry{Path: path, IsDir: true}
}

func File(path, hash string, size int64) Entry {
	return Entry{Path: path, Hash: hash, Size: size}
}

// Shard is the asset store subdirectory of a content hash.
func Shard(hash string) string {
	if len(hash) < 2 {
		return hash
	}
	return hash[:2]
}

// Short is the abbreviated hash used in log lines.
func Short(hash string) string {
	if len(hash) < 8 {
		return hash
	}
	return hash[:8]
}

type entryJSON struct {
	Name  *string `json:"name,omitempty"`
	IsDir *bool   `json:"is_dir,omitempty"`
	Hash  *string `json:"hash,omitempty"`
	Size  *int64  `json:"size,omitempty"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{Name: &e.Path}
	if e.IsDir {
		out.IsDir = &e.IsDir
	} else {
		out.Hash = &e.Hash
		out.Size = &e.Size
	}
	return json.Marshal(out)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var in entryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = Entry{}
	if in.Name != nil {
		e.Path = *in.Name
	}
	if in.IsDir != nil {
		e.IsDir = *in.IsDir
	}
	if in.Hash != nil {
		e.Hash = *in.Hash
	}
	if in.Size != nil {
		e.Size = *in.Size
	}
	return nil
}

// Validate reports entries that could not have come out of Build.
func (e Entry) Validate() error {
	if e.Path == "" {
		return fmt.Errorf("%w: entry without name", ErrMalformed)
	}
	if e.IsDir {
		return nil
	}
	if len(e.Hash) != 64 {
		return fmt.Errorf(
			"%w: %s: bad hash %q", ErrMalformed, e.Path, e.Hash,
		)
	}
	if _, err := hex.DecodeString(e.Hash); err != nil {
		return fmt.Errorf(
			"%w: %s: bad hash %q", ErrMalformed, e.Path, e.Hash,
		)
	}
	if e.Size < 0 {
		return fmt.Errorf(
			"%w: %s: negative size", ErrMalformed, e.Path,
		)
	}
	return nil
}
