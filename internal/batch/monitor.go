package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/docbatch/internal/models"
)

// DefaultMonitorInterval is the pause between two progress callbacks.
const DefaultMonitorInterval = 5 * time.Second

type callbackKind int

const (
	callbackNone callbackKind = iota
	callbackSync
	callbackAsync
)

// Callback receives batch progress. Build one with SyncCallback or
// AsyncCallback; the zero Callback is not invocable.
type Callback struct {
	kind  callbackKind
	sync  func(models.BatchStatus)
	async func(context.Context, models.BatchStatus) error
}

// SyncCallback wraps a function that runs on the monitor goroutine.
func SyncCallback(fn func(models.BatchStatus)) Callback {
	if fn == nil {
		return Callback{}
	}
	return Callback{kind: callbackSync, sync: fn}
}

// AsyncCallback wraps a function that runs on its own goroutine. The monitor
// waits for it to return before scheduling the next tick.
func AsyncCallback(fn func(context.Context, models.BatchStatus) error) Callback {
	if fn == nil {
		return Callback{}
	}
	return Callback{kind: callbackAsync, async: fn}
}

// Valid reports whether the callback can be invoked.
func (c Callback) Valid() bool {
	return c.kind != callbackNone
}

// invoke starts the callback and returns a channel that yields its outcome.
func (c Callback) invoke(ctx context.Context, status models.BatchStatus) <-chan error {
	done := make(chan error, 1)
	switch c.kind {
	case callbackSync:
		done <- guard(func() error {
			c.sync(status)
			return nil
		})
	case callbackAsync:
		go func() {
			done <- guard(func() error { return c.async(ctx, status) })
		}()
	default:
		done <- fmt.Errorf("%w: callback is not invocable", ErrValidation)
	}
	return done
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	return fn()
}

// monitorBatchProgress reports the status of one batch until it is done,
// cancelled, or ctx ends. Unknown batches return without a callback.
func monitorBatchProgress(
	ctx context.Context,
	registry *Registry,
	batchID string,
	cb Callback,
	interval time.Duration,
	sample func() models.ResourceUsage,
	logger *slog.Logger,
) {
	if _, ok := registry.Status(batchID); !ok {
		return
	}
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}

	for {
		status, ok := registry.Status(batchID)
		if !ok {
			return
		}
		if sample != nil {
			status.ResourceUsage = sample()
		}

		select {
		case err := <-cb.invoke(ctx, status):
			if err != nil {
				logger.Warn("progress callback failed", "batch_id", batchID, "error", err)
			}
		case <-ctx.Done():
			return
		}

		if status.Done() || status.Cancelled {
			return
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		}
	}
}
