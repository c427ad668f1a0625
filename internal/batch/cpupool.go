package batch

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// CPUPool bounds how many CPU-heavy stage sections run at once.
// Stages decide whether to use it; the scheduler only opens and shuts it down.
// Do blocks the caller while the pool is saturated.
type CPUPool struct {
	mu   sync.RWMutex
	size int64
	sem  *semaphore.Weighted
	open bool
}

// NewCPUPool creates a closed pool with the given number of slots (at least one).
func NewCPUPool(size int) *CPUPool {
	if size <= 0 {
		size = 1
	}
	return &CPUPool{size: int64(size)}
}

// DefaultCPUPoolSize returns min(workers, number of CPUs).
func DefaultCPUPoolSize(workers int) int {
	return max(1, min(workers, runtime.NumCPU()))
}

// Size returns the number of slots.
func (p *CPUPool) Size() int {
	return int(p.size)
}

// Open makes the pool accept work. Opening an open pool is a no-op.
func (p *CPUPool) Open() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		return
	}
	p.sem = semaphore.NewWeighted(p.size)
	p.open = true
}

// Do runs fn once a slot is free.
func (p *CPUPool) Do(ctx context.Context, fn func() error) error {
	p.mu.RLock()
	open, sem := p.open, p.sem
	p.mu.RUnlock()
	if !open {
		return ErrPoolClosed
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)

	p.mu.RLock()
	stillOpen := p.open && p.sem == sem
	p.mu.RUnlock()
	if !stillOpen {
		return ErrPoolClosed
	}
	return fn()
}

// Shutdown stops accepting work and blocks until in-flight work has finished
// or ctx is done. Work still running when ctx ends is left to finish on its own.
func (p *CPUPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return nil
	}
	p.open = false
	sem := p.sem
	p.mu.Unlock()

	// Taking every slot waits out whatever is still running.
	if err := sem.Acquire(ctx, p.size); err != nil {
		return fmt.Errorf("wait for cpu pool: %w", err)
	}
	sem.Release(p.size)
	return nil
}
