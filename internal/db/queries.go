package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
)

type blobRow struct {
	Data []byte `json:"data"`
	Size int    `json:"size"`
}

// PutBlob stores data under id. Returns ErrBlobExists when the id is taken
// and ErrTransactionConflict when a concurrent write raced this one.
func (c *Client) PutBlob(ctx context.Context, id string, data []byte) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("blob", $id) CONTENT {
			data: $data,
			size: $size
		}
	`, map[string]any{
		"id":   id,
		"data": data,
		"size": len(data),
	})
	if err != nil {
		return fmt.Errorf("put blob: %w", wrapQueryError(err))
	}
	return nil
}

// GetBlob returns the data stored under id, or ErrNotFound.
func (c *Client) GetBlob(ctx context.Context, id string) ([]byte, error) {
	results, err := surrealdb.Query[[]blobRow](ctx, c.db, `
		SELECT data, size FROM type::record("blob", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("get blob %s: %w", id, ErrNotFound)
	}
	return (*results)[0].Result[0].Data, nil
}

// HasBlob reports whether a blob with id exists.
func (c *Client) HasBlob(ctx context.Context, id string) (bool, error) {
	results, err := surrealdb.Query[[]struct{ C int }](ctx, c.db, `
		SELECT count() AS c FROM type::record("blob", $id) GROUP ALL
	`, map[string]any{"id": id})
	if err != nil {
		return false, fmt.Errorf("has blob: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return false, nil
	}
	return (*results)[0].Result[0].C > 0, nil
}

// CountBlobs returns the number of stored blobs.
func (c *Client) CountBlobs(ctx context.Context) (int, error) {
	results, err := surrealdb.Query[[]struct{ C int }](ctx, c.db, `
		SELECT count() AS c FROM blob GROUP ALL
	`, nil)
	if err != nil {
		return 0, fmt.Errorf("count blobs: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].C, nil
}
