package bundle

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/tqbf/patchkit/pkg/assets"
	"github.com/tqbf/patchkit/pkg/index"
	"github.com/tqbf/patchkit/pkg/migrate"
	"github.com/tqbf/patchkit/pkg/progress"
)

const (
	IndexName = "index.json"
	AssetsDir = "assets/"

	TaskBundle = "bundle"

	chunkSize = 32 << 10
)

var (
	ErrMalformed     = errors.New("malformed bundle")
	ErrMissingOutput = errors.New("bundle output path is required")
)

// zipEpoch keeps entry timestamps stable across builds.
var zipEpoch = time.Unix(315532800, 0).UTC()

type Result struct {
	Path  string
	Blobs int
	Bytes int64
}

// Write builds a bundle at path. Every blob the patch adds is located
// before the file is created, and the archive only appears at path once it
// has been written completely.
func Write(
	ctx context.Context,
	path string,
	patch *migrate.Patch,
	resolver *assets.Resolver,
	tracker *progress.Tracker,
) (Result, error) {
	if path == "" {
		return Result{}, ErrMissingOutput
	}
	if err := preflight(ctx, patch, resolver); err != nil {
		return Result{}, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Result{}, fmt.Errorf("create bundle dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".bundle-*.tmp")
	if err != nil {
		return Result{}, fmt.Errorf("create bundle: %w", err)
	}

	res, encErr := Encode(ctx, tmp, patch, resolver, tracker)
	closeErr := tmp.Close()
	if encErr == nil {
		encErr = closeErr
	}
	if encErr != nil {
		os.Remove(tmp.Name())
		return Result{}, encErr
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return Result{}, fmt.Errorf("write bundle: %w", err)
	}

	res.Path = path
	slog.Info("bundle written",
		"path", path,
		"blobs", res.Blobs,
		"bytes", res.Bytes,
	)
	return res, nil
}

func preflight(
	ctx context.Context,
	patch *migrate.Patch,
	resolver *assets.Resolver,
) error {
	for _, op := range patch.Migrations {
		if op.Kind != migrate.OpAdd || op.Entry.IsDir {
			continue
		}
		if _, err := resolver.Locate(ctx, op.Entry.Hash); err != nil {
			slog.Error("asset not found",
				"hash", op.Entry.Hash,
				"path", op.Entry.Path,
			)
			return fmt.Errorf("%s: %w", op.Entry.Path, err)
		}
	}
	return nil
}

// Encode streams a bundle to w: the patch as index.json followed by one
// assets/<hash> entry per distinct added blob.
func Encode(
	ctx context.Context,
	w io.Writer,
	patch *migrate.Patch,
	resolver *assets.Resolver,
	tracker *progress.Tracker,
) (Result, error) {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})

	tracker.Start(TaskBundle)
	res, err := encode(ctx, zw, patch, resolver, tracker)
	if err != nil {
		zw.Close()
		tracker.Fail(TaskBundle)
		return Result{}, err
	}
	if err := zw.Close(); err != nil {
		tracker.Fail(TaskBundle)
		return Result{}, fmt.Errorf("finish bundle: %w", err)
	}
	tracker.Done(TaskBundle)
	return res, nil
}

func encode(
	ctx context.Context,
	zw *zip.Writer,
	patch *migrate.Patch,
	resolver *assets.Resolver,
	tracker *progress.Tracker,
) (Result, error) {
	var res Result

	slog.Debug("writing patch index")
	body, err := json.Marshal(patch)
	if err != nil {
		return res, fmt.Errorf("encode patch: %w", err)
	}
	iw, err := zw.CreateHeader(header(IndexName, zip.Deflate))
	if err != nil {
		return res, fmt.Errorf("create %s: %w", IndexName, err)
	}
	if _, err := iw.Write(body); err != nil {
		return res, fmt.Errorf("write %s: %w", IndexName, err)
	}

	if _, err := zw.CreateHeader(header(AssetsDir, zip.Store)); err != nil {
		return res, fmt.Errorf("create %s: %w", AssetsDir, err)
	}

	hashes := patch.Blobs()
	sizes := make(map[string]int64, len(hashes))
	for _, op := range patch.Migrations {
		if op.Kind == migrate.OpAdd && !op.Entry.IsDir {
			sizes[op.Entry.Hash] = op.Entry.Size
		}
	}

	buf := make([]byte, chunkSize)
	for i, hash := range hashes {
		slog.Debug("writing asset",
			"hash", index.Short(hash),
			"size", sizes[hash],
		)
		n, err := copyBlob(ctx, zw, resolver, hash, buf)
		if err != nil {
			return res, err
		}
		res.Blobs++
		res.Bytes += n
		tracker.Step(TaskBundle, i+1, len(hashes))
	}
	return res, nil
}

func copyBlob(
	ctx context.Context,
	zw *zip.Writer,
	resolver *assets.Resolver,
	hash string,
	buf []byte,
) (int64, error) {
	src, err := resolver.Open(ctx, hash)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	name := AssetsDir + hash
	w, err := zw.CreateHeader(header(name, zip.Deflate))
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", name, err)
	}
	n, err := io.CopyBuffer(w, onlyReader{src}, buf)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", name, err)
	}
	return n, nil
}

func header(name string, method uint16) *zip.FileHeader {
	h := &zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: zipEpoch,
	}
	mode := os.FileMode(0755)
	if name == AssetsDir {
		mode |= os.ModeDir
	}
	h.SetMode(mode)
	return h
}

// onlyReader hides WriterTo so copies go through the fixed-size buffer.
type onlyReader struct {
	io.Reader
}
