package bundle

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/flate"

	"github.com/tqbf/patchkit/pkg/migrate"
)

// Reader gives access to a bundle's patch and, lazily, to its blobs.
type Reader struct {
	closer io.Closer
	patch  *migrate.Patch
	assets map[string]*zip.File
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat bundle: %w", err)
	}

	r, err := NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

func NewReader(ra io.ReaderAt, size int64) (*Reader, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)

	r := &Reader{assets: make(map[string]*zip.File)}
	var indexFile *zip.File
	for _, zf := range zr.File {
		switch {
		case zf.Name == IndexName:
			indexFile = zf
		case len(zf.Name) > len(AssetsDir) &&
			zf.Name[:len(AssetsDir)] == AssetsDir:
			r.assets[zf.Name[len(AssetsDir):]] = zf
		}
	}
	if indexFile == nil {
		return nil, fmt.Errorf("%w: no %s", ErrMalformed, IndexName)
	}

	patch, err := readPatch(indexFile)
	if err != nil {
		return nil, err
	}
	r.patch = patch
	return r, nil
}

func readPatch(zf *zip.File) (*migrate.Patch, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrMalformed, IndexName, err)
	}
	defer rc.Close()

	var p migrate.Patch
	if err := json.NewDecoder(rc).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrMalformed, IndexName, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &p, nil
}

func (r *Reader) Patch() *migrate.Patch {
	return r.patch
}

func (r *Reader) HasAsset(hash string) bool {
	_, ok := r.assets[hash]
	return ok
}

func (r *Reader) AssetCount() int {
	return len(r.assets)
}

// OpenAsset opens the blob stored under assets/<hash>.
func (r *Reader) OpenAsset(hash string) (io.ReadCloser, error) {
	zf, ok := r.assets[hash]
	if !ok {
		return nil, fmt.Errorf(
			"%w: no %s%s", ErrMalformed, AssetsDir, hash,
		)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s%s: %w", AssetsDir, hash, err)
	}
	return rc, nil
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
