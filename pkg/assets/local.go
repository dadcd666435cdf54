package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/exp/mmap"

	"github.com/tqbf/patchkit/pkg/index"
)

type LocalStore struct {
	Root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{Root: root}
}

func (s *LocalStore) String() string {
	return s.Root
}

func (s *LocalStore) Path(hash string) string {
	return filepath.Join(s.Root, index.Shard(hash), hash)
}

func (s *LocalStore) Has(_ context.Context, hash string) (bool, error) {
	info, err := os.Stat(s.Path(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Open maps the blob into memory and hands out a sequential reader over it.
func (s *LocalStore) Open(
	_ context.Context, hash string,
) (io.ReadCloser, error) {
	ra, err := mmap.Open(s.Path(hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf(
				"%w: %s in %s", ErrMissingAsset, hash, s.Root,
			)
		}
		return nil, fmt.Errorf("open asset %s: %w", hash, err)
	}
	return &mappedBlob{
		SectionReader: io.NewSectionReader(ra, 0, int64(ra.Len())),
		ra:            ra,
	}, nil
}

// Put writes a blob through a temp file in its shard directory.
func (s *LocalStore) Put(
	_ context.Context, hash string, r io.Reader, _ int64,
) error {
	shard := filepath.Join(s.Root, index.Shard(hash))
	if err := os.MkdirAll(shard, 0755); err != nil {
		return fmt.Errorf("create shard: %w", err)
	}

	tmp, err := os.CreateTemp(shard, "."+hash+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create asset %s: %w", hash, err)
	}
	_, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write asset %s: %w", hash, copyErr)
	}
	if err := os.Rename(tmp.Name(), s.Path(hash)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write asset %s: %w", hash, err)
	}
	return nil
}

type mappedBlob struct {
	*io.SectionReader
	ra *mmap.ReaderAt
}

func (b *mappedBlob) Close() error {
	return b.ra.Close()
}
