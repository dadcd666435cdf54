package paths

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRelPath(t *testing.T) {
	for _, ok := range []string{
		"a.txt",
		"Data/level0.assets",
		"file with spaces.bin",
		"日本語.txt",
		"a/b/c/d/e/f/g/h/i/j.txt",
	} {
		assert.NoError(t, ValidateRelPath(ok), ok)
	}

	for _, bad := range []string{
		"",
		".",
		"./",
		"..",
		"../",
		"/etc/passwd",
		"../escape",
		"foo/../../etc/passwd",
		"a/b/c/../../../../tmp/x",
		"foo\x00bar",
	} {
		err := ValidateRelPath(bad)
		assert.Error(t, err, "should reject: %q", bad)
		assert.True(t, errors.Is(err, ErrUnsafePath), bad)
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()

	full, err := Resolve(root, "dir/b.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "dir", "b.txt"), full)

	_, err = Resolve(root, "../outside")
	assert.ErrorIs(t, err, ErrUnsafePath)

	_, err = Resolve(root, "/abs")
	assert.ErrorIs(t, err, ErrUnsafePath)
}

func TestRel(t *testing.T) {
	root := t.TempDir()
	rel, err := Rel(root, filepath.Join(root, "a", "b", "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a/b/c.txt", rel)
}

func TestIsWithinDir(t *testing.T) {
	assert.True(t, IsWithinDir("/srv/game", "/srv/game/Data"))
	assert.True(t, IsWithinDir("/srv/game/", "/srv/game/Data"))
	assert.True(t, IsWithinDir("/srv/game", "/srv/game"))

	assert.False(t, IsWithinDir("/srv/game", "/srv/other"))
	assert.False(t, IsWithinDir("/srv/game", "/etc/passwd"))
	assert.False(t, IsWithinDir("/srv/game", "/srv/gameX/foo"))
	assert.False(t, IsWithinDir("/tmp/a", "/tmp/ab/c"))
}
