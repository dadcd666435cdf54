package migrate

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tqbf/patchkit/pkg/index"
)

func file(path, content string) index.Entry {
	return index.File(path, index.HashBytes([]byte(content)), int64(len(content)))
}

func snapshot(entries ...index.Entry) *index.Index {
	return &index.Index{Files: entries}
}

func makeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(dir, path)
		if strings.HasSuffix(path, "/") {
			require.NoError(t, os.MkdirAll(full, 0755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
}

func TestPlanSelfIsEmpty(t *testing.T) {
	dir := t.TempDir()
	makeTree(t, dir, map[string]string{
		"a.txt":       "hello",
		"dir/b.txt":   "x",
		"dir/c/d.bin": "d",
		"empty/":      "",
	})
	idx, err := index.Build(dir)
	require.NoError(t, err)

	ops := Plan(idx, idx)
	assert.NotNil(t, ops)
	assert.Empty(t, ops)
}

func TestPlanScenario(t *testing.T) {
	oldIdx := snapshot(file("a.txt", "hello"))
	newIdx := snapshot(
		file("a.txt", "hello!"),
		index.Dir("dir"),
		file("dir/b.txt", "x"),
	)

	assert.Equal(t, []Op{
		Delete(file("a.txt", "hello")),
		Add(file("a.txt", "hello!")),
		Add(index.Dir("dir")),
		Add(file("dir/b.txt", "x")),
	}, Plan(oldIdx, newIdx))
}

func TestPlanSameHashDifferentSize(t *testing.T) {
	o := file("a.bin", "abc")
	n := o
	n.Size = 4

	ops := Plan(snapshot(o), snapshot(n))
	assert.Equal(t, []Op{Delete(o), Add(n)}, ops)
}

func TestPlanDirectoriesUnchanged(t *testing.T) {
	ops := Plan(
		snapshot(index.Dir("dir"), file("dir/a", "1")),
		snapshot(index.Dir("dir"), file("dir/a", "1"), file("dir/b", "2")),
	)
	assert.Equal(t, []Op{Add(file("dir/b", "2"))}, ops)
}

func TestPlanTypeChanges(t *testing.T) {
	ops := Plan(
		snapshot(index.Dir("x"), file("y", "file")),
		snapshot(file("x", "now a file"), index.Dir("y"), file("y/z", "z")),
	)

	assert.Equal(t, []Op{
		Delete(index.Dir("x")),
		Add(file("x", "now a file")),
		Delete(file("y", "file")),
		Add(index.Dir("y")),
		Add(file("y/z", "z")),
	}, ops)

	for i, op := range ops {
		if op.Kind == OpDelete {
			require.Less(t, i+1, len(ops))
			next := ops[i+1]
			assert.Equal(t, OpAdd, next.Kind)
			assert.Equal(t, op.Entry.Path, next.Entry.Path)
			assert.NotEqual(t, op.Entry.IsDir, next.Entry.IsDir)
		}
	}
}

func TestPlanDeletesDeepestFirst(t *testing.T) {
	ops := Plan(
		snapshot(
			file("keep", "k"),
			index.Dir("old"),
			file("old/a", "a"),
			index.Dir("old/sub"),
			file("old/sub/b", "b"),
			index.Dir("old-sibling"),
		),
		snapshot(file("keep", "k")),
	)

	var got []string
	for _, op := range ops {
		require.Equal(t, OpDelete, op.Kind)
		got = append(got, op.Entry.Path)
	}
	assert.Equal(t, []string{
		"old/sub/b",
		"old/sub",
		"old/a",
		"old-sibling",
		"old",
	}, got)
}

func TestPlanRemovalsAfterAdds(t *testing.T) {
	ops := Plan(
		snapshot(file("gone", "g"), file("a", "1")),
		snapshot(file("a", "2"), file("new", "n")),
	)
	require.Len(t, ops, 4)
	assert.Equal(t, Delete(file("gone", "g")), ops[3])
}

func TestPlanAncestorsFirst(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	makeTree(t, dirA, map[string]string{"top.txt": "t"})
	makeTree(t, dirB, map[string]string{
		"top.txt":            "t2",
		"Data/Managed/a.dll": "a",
		"Data/Managed/b.dll": "b",
		"Data/level0":        "l",
		"Plugins/x64/lib.so": "so",
		"Plugins/x64/empty/": "",
	})
	a, err := index.Build(dirA)
	require.NoError(t, err)
	b, err := index.Build(dirB)
	require.NoError(t, err)

	created := map[string]bool{}
	for _, op := range Plan(a, b) {
		if op.Kind != OpAdd {
			continue
		}
		parent := filepath.ToSlash(filepath.Dir(op.Entry.Path))
		if parent != "." {
			assert.True(t, created[parent],
				"%s added before its parent", op.Entry.Path)
		}
		if op.Entry.IsDir {
			created[op.Entry.Path] = true
		}
	}
}

func TestOpJSON(t *testing.T) {
	ops := []Op{
		Add(index.Dir("dir")),
		Delete(file("a.txt", "hello")),
	}
	data, err := json.Marshal(ops)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"Add": {"name": "dir", "is_dir": true}},
		{"Delete": {"name": "a.txt", "hash": "`+index.HashBytes([]byte("hello"))+`", "size": 5}}
	]`, string(data))

	var back []Op
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ops, back)
}

func TestOpJSONMalformed(t *testing.T) {
	for _, body := range []string{
		`{}`,
		`{"Move": {"name": "a"}}`,
		`{"Add": {"name": "a"}, "Delete": {"name": "a"}}`,
	} {
		var op Op
		err := json.Unmarshal([]byte(body), &op)
		assert.ErrorIs(t, err, index.ErrMalformed, body)
	}
}

func TestPatchJSON(t *testing.T) {
	id := uint64(7)
	target := &index.Index{Meta: index.Meta{Name: "game", VersionID: &id}}
	p := NewPatch(target, nil)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"name": "game", "version_id": 7, "migrations": []}`,
		string(data),
	)
}

func TestPatchBlobsDeduplicated(t *testing.T) {
	p := &Patch{Migrations: []Op{
		Add(index.Dir("d")),
		Add(file("d/a", "same")),
		Add(file("d/b", "same")),
		Delete(file("gone", "old")),
		Add(file("d/c", "other")),
	}}
	assert.Equal(t, []string{
		index.HashBytes([]byte("same")),
		index.HashBytes([]byte("other")),
	}, p.Blobs())
}

func TestSummarizeAndText(t *testing.T) {
	ops := Plan(
		snapshot(file("a.txt", "hello"), file("gone", "g")),
		snapshot(file("a.txt", "hello!"), index.Dir("dir"), file("dir/b.txt", "x")),
	)

	s := Summarize(ops)
	assert.Equal(t, Summary{
		Created: 2, Replaced: 1, Deleted: 1, Blobs: 2, Bytes: 7,
	}, s)
	assert.False(t, s.Empty())
	assert.True(t, Summarize(nil).Empty())

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, ops))
	out := buf.String()
	assert.Contains(t, out, "  ~ a.txt (")
	assert.Contains(t, out, "  + dir/\n")
	assert.Contains(t, out, "  + dir/b.txt (")
	assert.Contains(t, out, "  - gone\n")
	assert.Contains(t, out, "2 created, 1 replaced, 1 deleted; 2 blobs (7 B)")
}

func TestWriteJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestUnifiedListing(t *testing.T) {
	oldIdx := snapshot(file("a.txt", "hello"))
	oldIdx.Version = "53"
	newIdx := snapshot(file("a.txt", "hello"), index.Dir("dir"))
	newIdx.Version = "54"

	out, err := UnifiedListing(oldIdx, newIdx, 0)
	require.NoError(t, err)
	assert.Contains(t, out, "--- 53")
	assert.Contains(t, out, "+++ 54")
	assert.Contains(t, out, "+dir/\n")

	out, err = UnifiedListing(oldIdx, oldIdx, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "12 B", HumanBytes(12))
	assert.Equal(t, "1.5 KB", HumanBytes(1536))
	assert.Equal(t, "2.0 MB", HumanBytes(2<<20))
	assert.Equal(t, "3.0 GB", HumanBytes(3<<30))
}
