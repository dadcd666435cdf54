package migrate

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	difflib "github.com/pmezard/go-difflib/difflib"

	"github.com/tqbf/patchkit/pkg/index"
)

type Summary struct {
	Created  int   `json:"created"`
	Replaced int   `json:"replaced"`
	Deleted  int   `json:"deleted"`
	Blobs    int   `json:"blobs"`
	Bytes    int64 `json:"bytes"`
}

func (s Summary) Empty() bool {
	return s.Created == 0 && s.Replaced == 0 && s.Deleted == 0
}

func Summarize(ops []Op) Summary {
	var s Summary
	forEachChange(ops, func(prefix string, op Op) {
		switch prefix {
		case "+":
			s.Created++
		case "~":
			s.Replaced++
		case "-":
			s.Deleted++
		}
		if op.Kind == OpAdd && !op.Entry.IsDir {
			s.Bytes += op.Entry.Size
		}
	})
	s.Blobs = len(AddedHashes(ops))
	return s
}

// forEachChange folds a Delete immediately followed by an Add of the same
// path into a single replacement.
func forEachChange(ops []Op, fn func(prefix string, op Op)) {
	for i := 0; i < len(ops); i++ {
		op := ops[i]
		if op.Kind == OpDelete && i+1 < len(ops) {
			next := ops[i+1]
			if next.Kind == OpAdd && next.Entry.Path == op.Entry.Path {
				fn("~", next)
				i++
				continue
			}
		}
		if op.Kind == OpAdd {
			fn("+", op)
		} else {
			fn("-", op)
		}
	}
}

func WriteText(w io.Writer, ops []Op) error {
	var b strings.Builder
	forEachChange(ops, func(prefix string, op Op) {
		e := op.Entry
		switch {
		case e.IsDir:
			fmt.Fprintf(&b, "  %s %s/\n", prefix, e.Path)
		case prefix == "-":
			fmt.Fprintf(&b, "  %s %s\n", prefix, e.Path)
		default:
			fmt.Fprintf(&b,
				"  %s %s (%s, %s)\n",
				prefix, e.Path, index.Short(e.Hash), HumanBytes(e.Size),
			)
		}
	})

	s := Summarize(ops)
	fmt.Fprintf(&b, "---\n")
	fmt.Fprintf(&b,
		"%d created, %d replaced, %d deleted; %d blobs (%s)\n",
		s.Created, s.Replaced, s.Deleted, s.Blobs, HumanBytes(s.Bytes),
	)
	_, err := io.WriteString(w, b.String())
	return err
}

func WriteJSON(w io.Writer, ops []Op) error {
	if ops == nil {
		ops = []Op{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ops)
}

// UnifiedListing renders the two snapshots as line listings and diffs them.
func UnifiedListing(oldIdx, newIdx *index.Index, ctxLines int) (string, error) {
	if ctxLines <= 0 {
		ctxLines = 3
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        listing(oldIdx),
		B:        listing(newIdx),
		FromFile: label(oldIdx, "old"),
		ToFile:   label(newIdx, "new"),
		Context:  ctxLines,
	})
}

func listing(idx *index.Index) []string {
	lines := make([]string, 0, len(idx.Files))
	for _, e := range idx.Files {
		if e.IsDir {
			lines = append(lines, e.Path+"/\n")
			continue
		}
		lines = append(lines, fmt.Sprintf(
			"%s %s %d\n", e.Path, e.Hash, e.Size,
		))
	}
	return lines
}

func label(idx *index.Index, fallback string) string {
	parts := make([]string, 0, 2)
	if idx.Name != "" {
		parts = append(parts, idx.Name)
	}
	if idx.Version != "" {
		parts = append(parts, idx.Version)
	}
	if len(parts) == 0 {
		return fallback
	}
	return strings.Join(parts, " ")
}

func HumanBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
