package lockout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/udisondev/lockout/internal/model"
)

// Store is the durable side of the registry.
// UpsertLock must be idempotent: writes may be applied more than once.
type Store interface {
	LoadLocks(ctx context.Context) ([]Lock, error)
	UpsertLock(ctx context.Context, lock Lock) error
	DeleteLock(ctx context.Context, key model.LockKey) error
}

// Sink receives registry mutations for asynchronous persistence.
// Calls must return without waiting for I/O.
type Sink interface {
	Upsert(lock Lock)
	Delete(key model.LockKey)
}

type nopSink struct{}

func (nopSink) Upsert(Lock)          {}
func (nopSink) Delete(model.LockKey) {}

// NopSink discards mutations. Used when running without a store.
var NopSink Sink = nopSink{}

// Persister defaults.
const (
	DefaultRetryDelay  = 5 * time.Second
	DefaultMaxAttempts = 5
)

type pendingWrite struct {
	lock     Lock
	del      bool
	attempts int
}

// Persister writes lock mutations to a Store in the background.
// Writes are coalesced per key (the latest mutation wins), so enqueueing
// never blocks the simulation and a burst of updates costs one write.
type Persister struct {
	store Store

	// flushMu serializes batches so an older write never lands after a newer one.
	flushMu sync.Mutex

	mu      sync.Mutex
	pending map[model.LockKey]pendingWrite
	wake    chan struct{}

	retryDelay  time.Duration
	maxAttempts int
}

// NewPersister creates a persister over store.
func NewPersister(store Store) *Persister {
	return &Persister{
		store:       store,
		pending:     make(map[model.LockKey]pendingWrite, 64),
		wake:        make(chan struct{}, 1),
		retryDelay:  DefaultRetryDelay,
		maxAttempts: DefaultMaxAttempts,
	}
}

// SetRetry configures the delay between failed attempts and the attempt cap.
func (p *Persister) SetRetry(delay time.Duration, maxAttempts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if delay > 0 {
		p.retryDelay = delay
	}
	if maxAttempts > 0 {
		p.maxAttempts = maxAttempts
	}
}

// Upsert queues a lock write.
func (p *Persister) Upsert(lock Lock) {
	p.enqueue(lock.Key, pendingWrite{lock: lock})
}

// Delete queues a lock deletion.
func (p *Persister) Delete(key model.LockKey) {
	p.enqueue(key, pendingWrite{lock: Lock{Key: key}, del: true})
}

func (p *Persister) enqueue(key model.LockKey, w pendingWrite) {
	p.mu.Lock()
	p.pending[key] = w
	p.mu.Unlock()
	p.signal()
}

func (p *Persister) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued writes.
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Run drains the queue until ctx is cancelled, then makes a final flush.
func (p *Persister) Run(ctx context.Context) error {
	slog.Info("lock persister started")
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := p.Flush(flushCtx)
			cancel()
			if err != nil {
				slog.Error("final lock flush", "error", err, "pending", p.Pending())
			}
			slog.Info("lock persister stopped")
			return nil
		case <-p.wake:
			if err := p.Flush(ctx); err != nil {
				p.mu.Lock()
				delay := p.retryDelay
				p.mu.Unlock()
				time.AfterFunc(delay, p.signal)
			}
		}
	}
}

// Flush writes everything queued so far. Failed writes are requeued unless a
// newer mutation for the same key arrived meanwhile or the attempt cap is hit.
func (p *Persister) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	batch := p.pending
	p.pending = make(map[model.LockKey]pendingWrite, len(batch))
	maxAttempts := p.maxAttempts
	p.mu.Unlock()

	var errs []error
	for key, w := range batch {
		var err error
		if w.del {
			err = p.store.DeleteLock(ctx, key)
		} else {
			err = p.store.UpsertLock(ctx, w.lock)
		}
		if err == nil {
			continue
		}

		w.attempts++
		errs = append(errs, fmt.Errorf("persist lock %s: %w", key, err))
		if w.attempts >= maxAttempts {
			slog.Error("dropping lock write after retries",
				"key", key.String(),
				"delete", w.del,
				"attempts", w.attempts,
				"error", err)
			continue
		}

		p.mu.Lock()
		if _, newer := p.pending[key]; !newer {
			p.pending[key] = w
		}
		p.mu.Unlock()
	}
	return errors.Join(errs...)
}
