package assets

import (
	"context"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
)

const locationCacheSize = 4096

// Resolver finds blobs across candidate stores. The first store holding a
// hash wins; search order is the order the stores were given in.
type Resolver struct {
	stores    []Store
	locations *lru.Cache[string, int]
}

func NewResolver(stores ...Store) *Resolver {
	cache, err := lru.New[string, int](locationCacheSize)
	if err != nil {
		panic(err)
	}
	return &Resolver{stores: stores, locations: cache}
}

func (r *Resolver) Stores() []Store {
	return r.stores
}

func (r *Resolver) Locate(
	ctx context.Context, hash string,
) (Store, error) {
	if i, ok := r.locations.Get(hash); ok {
		return r.stores[i], nil
	}
	for i, s := range r.stores {
		ok, err := s.Has(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", s, err)
		}
		if ok {
			r.locations.Add(hash, i)
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingAsset, hash)
}

func (r *Resolver) Open(
	ctx context.Context, hash string,
) (io.ReadCloser, error) {
	s, err := r.Locate(ctx, hash)
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, hash)
}
