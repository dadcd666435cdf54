package assets

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/tqbf/patchkit/pkg/index"
)

var ErrMissingAsset = errors.New("missing asset")

// Store is a content-addressed blob store laid out as <shard>/<hash>.
type Store interface {
	Has(ctx context.Context, hash string) (bool, error)
	Open(ctx context.Context, hash string) (io.ReadCloser, error)
	Put(ctx context.Context, hash string, r io.Reader, size int64) error
	String() string
}

func BlobKey(hash string) string {
	return index.Shard(hash) + "/" + hash
}

// ParseRoot turns an asset root given on the command line into a store:
// s3://bucket/prefix selects an S3 bucket, anything else a local directory.
func ParseRoot(root string, s3 S3Config) (Store, error) {
	if rest, ok := strings.CutPrefix(root, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		return NewS3Store(s3, bucket, prefix)
	}
	return NewLocalStore(root), nil
}

func ParseRoots(roots []string, s3 S3Config) ([]Store, error) {
	stores := make([]Store, 0, len(roots))
	for _, root := range roots {
		s, err := ParseRoot(root, s3)
		if err != nil {
			return nil, err
		}
		stores = append(stores, s)
	}
	return stores, nil
}
