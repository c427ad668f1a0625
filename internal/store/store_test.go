package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/docbatch/internal/db"
	"github.com/raphaelgruber/docbatch/internal/metrics"
)

func TestRef(t *testing.T) {
	ref := Ref([]byte("hello"))
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", ref)

	_, err := digest(ref)
	require.NoError(t, err)

	for _, bad := range []string{"", "md5:abc", "sha256:xyz", "sha256:" + strings.Repeat("z", 64)} {
		_, err := digest(bad)
		assert.ErrorIs(t, err, ErrInvalidRef, bad)
	}
}

// storeContract exercises behavior every backend shares.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	data := []byte(`{"graph_id":"graph_doc_1"}`)
	ref, err := s.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, Ref(data), ref)

	again, err := s.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = s.Get(ctx, Ref([]byte("never stored")))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, "not-a-ref")
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	storeContract(t, s)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_CopiesData(t *testing.T) {
	s := NewMemoryStore()
	data := []byte("mutable")
	ref, err := s.Put(context.Background(), data)
	require.NoError(t, err)

	data[0] = 'M'
	got, err := s.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "mutable", string(got))
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	storeContract(t, s)
}

func TestFileStore_Concurrent(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileStore(dir)
	require.NoError(t, err)
	b, err := NewFileStore(dir)
	require.NoError(t, err)

	var wg sync.WaitGroup
	refs := make([]string, 16)
	for i := range refs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := a
			if i%2 == 1 {
				s = b
			}
			ref, err := s.Put(context.Background(), []byte{byte(i % 4)})
			assert.NoError(t, err)
			refs[i] = ref
		}()
	}
	wg.Wait()

	for i, ref := range refs {
		got, err := a.Get(context.Background(), ref)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i % 4)}, got)
	}
}

type fakeBlobDB struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	conflicts int
	putErr    error
	puts      atomic.Int32
}

func newFakeBlobDB() *fakeBlobDB {
	return &fakeBlobDB{blobs: make(map[string][]byte)}
}

func (f *fakeBlobDB) PutBlob(_ context.Context, id string, data []byte) error {
	f.puts.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	if f.conflicts > 0 {
		f.conflicts--
		return db.ErrTransactionConflict
	}
	if _, ok := f.blobs[id]; ok {
		return db.ErrBlobExists
	}
	f.blobs[id] = data
	return nil
}

func (f *fakeBlobDB) GetBlob(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return data, nil
}

func fastSurrealStore(client blobDB) *SurrealStore {
	s := newSurrealStore(client, nil)
	s.backoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}
	return s
}

func TestSurrealStore(t *testing.T) {
	storeContract(t, fastSurrealStore(newFakeBlobDB()))
}

func TestSurrealStore_RetriesConflicts(t *testing.T) {
	fake := newFakeBlobDB()
	fake.conflicts = 2
	s := fastSurrealStore(fake)

	_, err := s.Put(context.Background(), []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), fake.puts.Load())
}

func TestSurrealStore_GivesUpAfterRetries(t *testing.T) {
	fake := newFakeBlobDB()
	fake.conflicts = 10
	s := fastSurrealStore(fake)

	_, err := s.Put(context.Background(), []byte("data"))
	assert.ErrorIs(t, err, db.ErrTransactionConflict)
	assert.Equal(t, int32(4), fake.puts.Load())
}

func TestSurrealStore_PermanentError(t *testing.T) {
	fake := newFakeBlobDB()
	fake.putErr = errors.New("connection refused")
	s := fastSurrealStore(fake)

	_, err := s.Put(context.Background(), []byte("data"))
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, int32(1), fake.puts.Load())
}

type countingStore struct {
	Store
	puts, gets atomic.Int32
}

func (c *countingStore) Put(ctx context.Context, data []byte) (string, error) {
	c.puts.Add(1)
	return c.Store.Put(ctx, data)
}

func (c *countingStore) Get(ctx context.Context, ref string) ([]byte, error) {
	c.gets.Add(1)
	return c.Store.Get(ctx, ref)
}

func TestCachedStore(t *testing.T) {
	inner := &countingStore{Store: NewMemoryStore()}
	collector := metrics.NewCollector()
	s, err := NewCachedStore(inner, 8, collector)
	require.NoError(t, err)

	storeContract(t, s)

	assert.Equal(t, int32(1), inner.puts.Load(), "duplicate put served from cache")
	assert.Equal(t, int64(2), collector.Snapshot().Operations[metrics.OpStorePut].Count)
}

func TestCachedStore_Disabled(t *testing.T) {
	inner := &countingStore{Store: NewMemoryStore()}
	s, err := NewCachedStore(inner, 0, nil)
	require.NoError(t, err)

	storeContract(t, s)
	assert.Equal(t, int32(2), inner.puts.Load())
}

func TestCachedStore_Eviction(t *testing.T) {
	inner := &countingStore{Store: NewMemoryStore()}
	s, err := NewCachedStore(inner, 1, nil)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := s.Put(ctx, []byte("first"))
	require.NoError(t, err)
	_, err = s.Put(ctx, []byte("second"))
	require.NoError(t, err)

	got, err := s.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
	assert.Equal(t, int32(1), inner.gets.Load())
}
