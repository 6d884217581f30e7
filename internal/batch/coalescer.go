// Package batch implements the write coalescer: low-priority mutations
// are enqueued as field deltas, accumulated in memory, and flushed as one
// grouped atomic commit when the queue reaches the size threshold or the
// debounce timer fires. Writes survive flush failures; they are re-queued
// and retried on the next flush.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"classbank/internal/store"
)

// PendingWrite is one queued mutation: a set of numeric field increments
// against a single document. It lives only in the coalescer's queue and is
// destroyed on successful flush or explicit discard.
type PendingWrite struct {
	ID         string           `json:"id"`
	Ref        string           `json:"ref"`
	Delta      map[string]int64 `json:"delta"`
	EnqueuedAt time.Time        `json:"enqueuedAt"`
}

// stopper cancels a scheduled callback. *time.Timer satisfies it.
type stopper interface {
	Stop() bool
}

// scheduler runs fn once after d. Injected so tests can fire the debounce
// deterministically.
type scheduler func(d time.Duration, fn func()) stopper

func realScheduler(d time.Duration, fn func()) stopper {
	return time.AfterFunc(d, fn)
}

type Coalescer struct {
	store store.Store
	log   *slog.Logger
	clock func() time.Time
	sched scheduler

	maxBatchSize   int
	batchDelay     time.Duration
	maxAttempts    uint64
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu      sync.Mutex
	pending []PendingWrite
	timer   stopper

	flushMu sync.Mutex

	errMu   sync.Mutex
	lastErr error
}

func New(st store.Store, logger *slog.Logger, maxBatchSize int, batchDelay time.Duration) *Coalescer {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 500
	}
	if batchDelay <= 0 {
		batchDelay = 2 * time.Second
	}
	return &Coalescer{
		store:          st,
		log:            logger,
		clock:          time.Now,
		sched:          realScheduler,
		maxBatchSize:   maxBatchSize,
		batchDelay:     batchDelay,
		maxAttempts:    5,
		initialBackoff: 75 * time.Millisecond,
		maxBackoff:     1200 * time.Millisecond,
	}
}

// WithClock overrides the clock for testing.
func (c *Coalescer) WithClock(clock func() time.Time) *Coalescer {
	c.clock = clock
	return c
}

// WithScheduler overrides the debounce scheduler for testing.
func (c *Coalescer) WithScheduler(sched scheduler) *Coalescer {
	c.sched = sched
	return c
}

// Enqueue appends a pending write. Reaching the size threshold triggers an
// immediate flush; otherwise the debounce timer is restarted.
func (c *Coalescer) Enqueue(ref string, delta map[string]int64) (PendingWrite, error) {
	if ref == "" {
		return PendingWrite{}, errors.New("batch: ref is required")
	}
	if len(delta) == 0 {
		return PendingWrite{}, errors.New("batch: delta is empty")
	}
	w := PendingWrite{
		ID:         uuid.NewString(),
		Ref:        ref,
		Delta:      delta,
		EnqueuedAt: c.clock(),
	}

	c.mu.Lock()
	c.pending = append(c.pending, w)
	full := len(c.pending) >= c.maxBatchSize
	if full {
		c.stopTimerLocked()
	} else {
		c.restartTimerLocked()
	}
	c.mu.Unlock()

	if full {
		if err := c.Flush(context.Background()); err != nil {
			c.log.Error("size-triggered flush failed", "err", err, "queued", c.Len())
		}
	}
	return w, nil
}

// Discard removes a queued write by id before it is flushed.
func (c *Coalescer) Discard(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.pending {
		if w.ID == id {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Len reports the number of queued writes.
func (c *Coalescer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// LastError returns the most recent flush failure, cleared by the next
// successful flush.
func (c *Coalescer) LastError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// Flush commits every currently queued write as one grouped transaction.
// Writes enqueued while a flush is in progress land in the next batch. On
// persistent commit failure the batch is re-queued, nothing is lost.
func (c *Coalescer) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.stopTimerLocked()
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	err := c.commitBatch(ctx, batch)
	if err != nil {
		c.mu.Lock()
		c.pending = append(batch, c.pending...)
		c.restartTimerLocked()
		c.mu.Unlock()

		c.errMu.Lock()
		c.lastErr = err
		c.errMu.Unlock()
		c.log.Error("flush failed, batch re-queued", "err", err, "size", len(batch))
		return fmt.Errorf("flush %d writes: %w", len(batch), err)
	}

	c.errMu.Lock()
	c.lastErr = nil
	c.errMu.Unlock()
	c.log.Info("flush complete", "size", len(batch))
	return nil
}

// Close flushes whatever is queued and stops the debounce timer.
func (c *Coalescer) Close(ctx context.Context) error {
	err := c.Flush(ctx)
	c.mu.Lock()
	c.stopTimerLocked()
	c.mu.Unlock()
	return err
}

// commitBatch reads every target document, folds the deltas in enqueue
// order, and commits all of them in one atomic group. Version conflicts
// restart the read-fold-commit cycle under bounded backoff.
func (c *Coalescer) commitBatch(ctx context.Context, batch []PendingWrite) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff
	bo.MaxInterval = c.maxBackoff

	return backoff.Retry(func() error {
		writes, err := c.buildWrites(ctx, batch)
		if err != nil {
			return backoff.Permanent(err)
		}
		err = c.store.CommitAll(ctx, writes)
		if errors.Is(err, store.ErrConflict) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxAttempts-1), ctx))
}

func (c *Coalescer) buildWrites(ctx context.Context, batch []PendingWrite) ([]store.Write, error) {
	type target struct {
		fields  map[string]json.RawMessage
		version int64
	}
	targets := make(map[string]*target)
	order := make([]string, 0, len(batch))

	for _, w := range batch {
		tgt, ok := targets[w.Ref]
		if !ok {
			doc, err := c.store.Read(ctx, w.Ref)
			switch {
			case errors.Is(err, store.ErrNotFound):
				tgt = &target{fields: map[string]json.RawMessage{}, version: 0}
			case err != nil:
				return nil, err
			default:
				fields := map[string]json.RawMessage{}
				if err := json.Unmarshal(doc.Data, &fields); err != nil {
					return nil, fmt.Errorf("decode %s: %w", w.Ref, err)
				}
				tgt = &target{fields: fields, version: doc.Version}
			}
			targets[w.Ref] = tgt
			order = append(order, w.Ref)
		}
		for field, inc := range w.Delta {
			var cur int64
			if raw, ok := tgt.fields[field]; ok {
				if err := json.Unmarshal(raw, &cur); err != nil {
					return nil, fmt.Errorf("field %s of %s is not numeric", field, w.Ref)
				}
			}
			raw, err := json.Marshal(cur + inc)
			if err != nil {
				return nil, err
			}
			tgt.fields[field] = raw
		}
	}

	writes := make([]store.Write, 0, len(order))
	for _, ref := range order {
		tgt := targets[ref]
		data, err := json.Marshal(tgt.fields)
		if err != nil {
			return nil, err
		}
		writes = append(writes, store.Write{Ref: ref, ExpectedVersion: tgt.version, Data: data})
	}
	return writes, nil
}

func (c *Coalescer) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coalescer) restartTimerLocked() {
	c.stopTimerLocked()
	c.timer = c.sched(c.batchDelay, func() {
		if err := c.Flush(context.Background()); err != nil {
			c.log.Error("debounce flush failed", "err", err, "queued", c.Len())
		}
	})
}
