package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tqbf/patchkit/pkg/bundle"
	"github.com/tqbf/patchkit/pkg/progress"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"patchkit"}, args...))
	return out.String(), err
}

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
}

func TestCreateComparePatch(t *testing.T) {
	work := t.TempDir()
	v1 := filepath.Join(work, "v1")
	v2 := filepath.Join(work, "v2")
	installed := filepath.Join(work, "installed")
	store := filepath.Join(work, "assets")

	writeTree(t, v1, map[string]string{
		"Game.exe":    "exe v1",
		"Data/level0": "level",
		"Data/old.db": "old",
	})
	writeTree(t, v2, map[string]string{
		"Game.exe":          "exe v2",
		"Data/level0":       "level",
		"Data/Managed/a.so": "a",
	})
	writeTree(t, installed, map[string]string{
		"Game.exe":    "exe v1",
		"Data/level0": "level",
		"Data/old.db": "old",
	})

	_, err := run(t, "create",
		"--input", v1,
		"--index-output", filepath.Join(work, "v1.json"),
		"--version", "53",
	)
	require.NoError(t, err)

	out, err := run(t, "create",
		"--input", v2,
		"--index-output", filepath.Join(work, "v2.json"),
		"--assets-output", store,
		"--version", "54",
		"--version-id", "54",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "stored 3 blobs")

	bundlePath := filepath.Join(work, "out", "53-54.zip")
	out, err = run(t, "compare",
		"--old-index", filepath.Join(work, "v1.json"),
		"--new-index", filepath.Join(work, "v2.json"),
		"--create-patch-bundle",
		"--output", bundlePath,
		"--assets-path", store,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "  ~ Game.exe (")
	assert.Contains(t, out, "  + Data/Managed/\n")
	assert.Contains(t, out, "  - Data/old.db\n")

	r, err := bundle.Open(bundlePath)
	require.NoError(t, err)
	assert.Equal(t, "54", r.Patch().Version)
	assert.Equal(t, 2, r.AssetCount())
	require.NoError(t, r.Close())

	out, err = run(t, "patch", "--root", installed, "--patch-bundle", bundlePath)
	require.NoError(t, err)
	assert.Contains(t, out, "applied")

	data, err := os.ReadFile(filepath.Join(installed, "Game.exe"))
	require.NoError(t, err)
	assert.Equal(t, "exe v2", string(data))
	_, err = os.Stat(filepath.Join(installed, "Data", "old.db"))
	assert.True(t, os.IsNotExist(err))

	out, err = run(t, "compare",
		"--old-index", filepath.Join(work, "v2.json"),
		"--new-index", filepath.Join(work, "v2.json"),
		"--format", "json",
	)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestCompareBundleNeedsOutput(t *testing.T) {
	work := t.TempDir()
	writeTree(t, filepath.Join(work, "v"), map[string]string{"a": "1"})
	_, err := run(t, "create",
		"--input", filepath.Join(work, "v"),
		"--index-output", filepath.Join(work, "v.json"),
	)
	require.NoError(t, err)

	_, err = run(t, "compare",
		"--old-index", filepath.Join(work, "v.json"),
		"--new-index", filepath.Join(work, "v.json"),
		"--create-patch-bundle",
	)
	assert.ErrorIs(t, err, bundle.ErrMissingOutput)
}

func TestCompareBundleOutputCheckedBeforeRoots(t *testing.T) {
	work := t.TempDir()
	writeTree(t, filepath.Join(work, "v"), map[string]string{"a": "1"})
	_, err := run(t, "create",
		"--input", filepath.Join(work, "v"),
		"--index-output", filepath.Join(work, "v.json"),
	)
	require.NoError(t, err)

	_, err = run(t, "compare",
		"--old-index", filepath.Join(work, "v.json"),
		"--new-index", filepath.Join(work, "v.json"),
		"--create-patch-bundle",
		"--assets-path", "s3://",
	)
	assert.ErrorIs(t, err, bundle.ErrMissingOutput)
}

func TestPatchReportsFailureOnBadBundle(t *testing.T) {
	got := make(chan progress.Report, 8)
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			conn, err := websocket.Accept(w, r, nil)
			if err != nil {
				return
			}
			defer conn.CloseNow()
			for {
				_, data, err := conn.Read(r.Context())
				if err != nil {
					return
				}
				var rep progress.Report
				if json.Unmarshal(data, &rep) == nil {
					got <- rep
				}
			}
		},
	))
	defer srv.Close()

	work := t.TempDir()
	bad := filepath.Join(work, "bad.zip")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0644))

	_, err := run(t,
		"--progress-url", srv.URL,
		"patch",
		"--root", work,
		"--patch-bundle", bad,
	)
	assert.ErrorIs(t, err, bundle.ErrMalformed)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case r := <-got:
			if r.Status.State == progress.StateFailure {
				return
			}
		case <-timeout:
			t.Fatal("no failure report")
		}
	}
}

func TestMissingFlags(t *testing.T) {
	_, err := run(t, "create")
	assert.EqualError(t, err, "--input is required")

	_, err = run(t, "patch", "--root", t.TempDir())
	assert.EqualError(t, err, "--patch-bundle is required")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, appVersion+"\n", out)
}
