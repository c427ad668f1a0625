package store

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/raphaelgruber/docbatch/internal/metrics"
)

// CachedStore fronts another store with an LRU of recently seen blobs.
// A Put whose reference is cached skips the backend write.
type CachedStore struct {
	inner   Store
	cache   *lru.Cache[string, []byte]
	metrics *metrics.Collector
}

// NewCachedStore wraps inner with a cache of size entries. A size below 1
// disables caching and returns a store that only records metrics.
func NewCachedStore(inner Store, size int, collector *metrics.Collector) (*CachedStore, error) {
	s := &CachedStore{inner: inner, metrics: collector}
	if size < 1 {
		return s, nil
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("create blob cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

func (s *CachedStore) Put(ctx context.Context, data []byte) (ref string, err error) {
	span := s.metrics.Start(metrics.OpStorePut)
	defer func() { span.End(err) }()

	ref = Ref(data)
	if s.cache != nil && s.cache.Contains(ref) {
		return ref, nil
	}

	ref, err = s.inner.Put(ctx, data)
	if err != nil {
		return "", err
	}
	if s.cache != nil {
		s.cache.Add(ref, append([]byte(nil), data...))
	}
	return ref, nil
}

func (s *CachedStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if s.cache != nil {
		if data, ok := s.cache.Get(ref); ok {
			return append([]byte(nil), data...), nil
		}
	}
	data, err := s.inner.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(ref, append([]byte(nil), data...))
	}
	return data, nil
}
