package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/raphaelgruber/docbatch/internal/db"
)

const maxConflictRetries = 5

// blobDB is the subset of *db.Client the surreal store needs.
type blobDB interface {
	PutBlob(ctx context.Context, id string, data []byte) error
	GetBlob(ctx context.Context, id string) ([]byte, error)
}

// SurrealStore keeps blobs in the SurrealDB blob table, keyed by digest.
type SurrealStore struct {
	db      blobDB
	logger  *slog.Logger
	backoff func() backoff.BackOff
}

// NewSurrealStore wraps a connected client. The schema must be initialized.
func NewSurrealStore(client *db.Client, logger *slog.Logger) *SurrealStore {
	return newSurrealStore(client, logger)
}

func newSurrealStore(client blobDB, logger *slog.Logger) *SurrealStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SurrealStore{
		db:     client,
		logger: logger,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = time.Second
			return backoff.WithMaxRetries(b, maxConflictRetries)
		},
	}
}

// Put writes data once. An existing blob with the same digest counts as
// success; transaction conflicts are retried with exponential backoff.
func (s *SurrealStore) Put(ctx context.Context, data []byte) (string, error) {
	ref := Ref(data)
	hexDigest, _ := digest(ref)

	op := func() error {
		err := s.db.PutBlob(ctx, hexDigest, data)
		switch {
		case err == nil, errors.Is(err, db.ErrBlobExists):
			return nil
		case errors.Is(err, db.ErrTransactionConflict):
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Debug("blob write conflict, retrying", "ref", ref, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(s.backoff(), ctx), notify); err != nil {
		return "", fmt.Errorf("put %s: %w", ref, err)
	}
	return ref, nil
}

func (s *SurrealStore) Get(ctx context.Context, ref string) ([]byte, error) {
	hexDigest, err := digest(ref)
	if err != nil {
		return nil, err
	}
	data, err := s.db.GetBlob(ctx, hexDigest)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
