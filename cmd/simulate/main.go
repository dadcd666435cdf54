package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tqbf/patchkit/pkg/apply"
	"github.com/tqbf/patchkit/pkg/assets"
	"github.com/tqbf/patchkit/pkg/bundle"
	"github.com/tqbf/patchkit/pkg/index"
	"github.com/tqbf/patchkit/pkg/migrate"
	"github.com/tqbf/patchkit/pkg/progress"
)

func main() {
	slog.SetDefault(slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		}),
	))
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	work, err := os.MkdirTemp("", "patchkit-sim-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	v53 := filepath.Join(work, "build-53")
	v54 := filepath.Join(work, "build-54")
	installed := filepath.Join(work, "installed")
	store := assets.NewLocalStore(filepath.Join(work, "assets"))
	bundlePath := filepath.Join(work, "patches", "53-54.zip")

	fmt.Println("=== Building release trees ===")
	fmt.Printf("v53:       %s\n", v53)
	fmt.Printf("v54:       %s\n", v54)
	fmt.Printf("installed: %s\n\n", installed)

	writeTree(v53, releaseFiles(53))
	writeTree(v54, releaseFiles(54))
	writeTree(installed, releaseFiles(53))

	listener := newProgressListener()
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	fmt.Println("=== Indexing ===")
	oldIdx, err := index.Build(v53, index.WithMeta(meta(53)))
	if err != nil {
		return fmt.Errorf("index v53: %w", err)
	}
	newIdx, err := index.Build(v54, index.WithMeta(meta(54)))
	if err != nil {
		return fmt.Errorf("index v54: %w", err)
	}
	fmt.Printf("v53: %d entries (%d files)\n", len(oldIdx.Files), oldIdx.FileCount())
	fmt.Printf("v54: %d entries (%d files)\n", len(newIdx.Files), newIdx.FileCount())

	for _, pair := range []struct {
		root string
		idx  *index.Index
	}{{v53, oldIdx}, {v54, newIdx}} {
		res, err := assets.Materialize(ctx, pair.root, pair.idx, store, nil)
		if err != nil {
			return fmt.Errorf("materialize: %w", err)
		}
		fmt.Printf(
			"stored %d blobs (%s), skipped %d\n",
			res.Written, migrate.HumanBytes(res.Bytes), res.Skipped,
		)
	}

	fmt.Println("\n=== Planning 53 -> 54 ===")
	ops := migrate.Plan(oldIdx, newIdx)
	if err := migrate.WriteText(os.Stdout, ops); err != nil {
		return err
	}

	fmt.Println("\n=== Writing bundle ===")
	patch := migrate.NewPatch(newIdx, ops)
	res, err := bundle.Write(ctx, bundlePath, patch, assets.NewResolver(store), nil)
	if err != nil {
		return fmt.Errorf("bundle: %w", err)
	}
	info, err := os.Stat(bundlePath)
	if err != nil {
		return err
	}
	fmt.Printf(
		"%s: %d blobs, %s raw, %s on disk\n",
		filepath.Base(res.Path), res.Blobs,
		migrate.HumanBytes(res.Bytes), migrate.HumanBytes(info.Size()),
	)

	fmt.Println("\n=== Verification gate ===")
	drifted := filepath.Join(work, "drifted")
	writeTree(drifted, releaseFiles(53))
	tamper := filepath.Join(drifted, "Game_Data", "globalgamemanagers")
	if err := os.WriteFile(tamper, []byte("modded"), 0644); err != nil {
		return err
	}
	if err := applyBundle(ctx, drifted, bundlePath, false, ""); err != nil {
		var mismatch *apply.MismatchError
		if !errors.As(err, &mismatch) {
			return err
		}
		fmt.Printf("rejected drifted tree: %s\n", mismatch)
	} else {
		return fmt.Errorf("drifted tree was patched without a mismatch")
	}

	fmt.Println("\n=== Applying bundle ===")
	start := time.Now()
	if err := applyBundle(ctx, installed, bundlePath, false, listener.URL()); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	fmt.Printf("applied in %s\n", time.Since(start).Round(time.Millisecond))

	reports := listener.Reports()
	fmt.Printf("progress listener saw %d reports", len(reports))
	if n := len(reports); n > 0 {
		fmt.Printf(", final state %s", reports[n-1].Status.State)
	}
	fmt.Println()

	fmt.Println("\n=== Checking result ===")
	got, err := index.Build(installed)
	if err != nil {
		return err
	}
	if rest := migrate.Plan(got, newIdx); len(rest) > 0 {
		var b bytes.Buffer
		migrate.WriteText(&b, rest)
		return fmt.Errorf("installed tree differs from v54:\n%s", b.String())
	}
	fmt.Println("installed tree matches v54")

	fmt.Println("\n=== Re-applying without verification ===")
	if err := applyBundle(ctx, installed, bundlePath, true, ""); err != nil {
		fmt.Printf("second apply stopped: %s\n", err)
	} else {
		fmt.Println("second apply rewrote identical bytes")
	}

	fmt.Println("\nDone.")
	return nil
}

func applyBundle(
	ctx context.Context,
	root, path string,
	skipVerify bool,
	progressURL string,
) error {
	r, err := bundle.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	var tracker *progress.Tracker
	if progressURL != "" {
		ws, err := progress.DialWS(ctx, progressURL)
		if err != nil {
			return fmt.Errorf("dial progress: %w", err)
		}
		defer ws.Close()
		tracker = progress.NewTracker(ctx, ws,
			progress.Task(apply.TaskVerify, 0.3),
			progress.Task(apply.TaskApply, 0.7),
		)
	}

	err = apply.Apply(root, r, r.Patch(),
		apply.WithSkipVerify(skipVerify),
		apply.WithTracker(tracker),
	)
	tracker.Finish(err)
	return err
}

func meta(version int) index.Meta {
	id := uint64(version)
	return index.Meta{
		Name:      "sample-game",
		Version:   fmt.Sprint(version),
		VersionID: &id,
		Platform:  "linux-x64",
	}
}

// releaseFiles lays out a player build. v54 patches the executable, swaps a
// managed assembly, turns the empty crash handler directory into a single
// file and drops the old streaming assets.
func releaseFiles(version int) map[string]string {
	files := map[string]string{}
	files["Game.x86_64"] = binary("player", version)
	files["UnityPlayer.so"] = binary("engine", 2022)
	files["Game_Data/globalgamemanagers"] = binary("ggm", version)
	files["Game_Data/level0"] = binary("level0", 1)
	files["Game_Data/level1"] = binary("level1", 1)
	files["Game_Data/resources.assets"] = binary("resources", version)
	files["Game_Data/Managed/Assembly-CSharp.dll"] = binary("asm", version)
	files["Game_Data/Managed/UnityEngine.dll"] = binary("engine-managed", 2022)
	files["Game_Data/Managed/Newtonsoft.Json.dll"] = binary("json", 13)
	files["Game_Data/Plugins/libsteam_api.so"] = binary("steam", 1)
	files["Game_Data/Plugins/x86_64/empty/"] = ""
	files["Game_Data/Resources/unity default resources"] = binary("defaults", 1)

	if version < 54 {
		files["CrashHandler/"] = ""
		files["Game_Data/Managed/Legacy.dll"] = binary("legacy", 1)
		files["Game_Data/StreamingAssets/intro.mp4"] = binary("intro", 1)
		files["Game_Data/StreamingAssets/Localization/en.json"] = `{"hello":"Hello"}`
		files["Game_Data/StreamingAssets/Localization/de.json"] = `{"hello":"Hallo"}`
		return files
	}

	files["CrashHandler"] = binary("crash", 2)
	files["Game_Data/Managed/Modern.dll"] = binary("modern", 1)
	// same bytes as level0, stored once
	files["Game_Data/level2"] = binary("level0", 1)
	return files
}

func binary(name string, version int) string {
	return strings.Repeat(fmt.Sprintf("%s:%d;", name, version), 512)
}

func writeTree(dir string, files map[string]string) {
	for rel, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(rel))
		if strings.HasSuffix(rel, "/") {
			os.MkdirAll(full, 0755)
			continue
		}
		os.MkdirAll(filepath.Dir(full), 0755)
		os.WriteFile(full, []byte(content), 0644)
	}
}

// progressListener is a local websocket endpoint that records every progress
// report pushed to it.
type progressListener struct {
	srv *httptest.Server

	mu      sync.Mutex
	reports []progress.Report
}

func newProgressListener() *progressListener {
	l := &progressListener{}
	l.srv = httptest.NewServer(http.HandlerFunc(l.handle))
	return l
}

func (l *progressListener) URL() string {
	return l.srv.URL
}

func (l *progressListener) Close() {
	l.srv.Close()
}

func (l *progressListener) Reports() []progress.Report {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]progress.Report, len(l.reports))
	copy(out, l.reports)
	return out
}

func (l *progressListener) handle(w http.ResponseWriter, r *http.Request) {
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
		if err := json.Unmarshal(data, &rep); err != nil {
			slog.Warn("bad progress report", "err", err)
			continue
		}
		l.mu.Lock()
		l.reports = append(l.reports, rep)
		l.mu.Unlock()
	}
}
