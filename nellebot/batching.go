package nellebot

import (
	"context"
	"github.com/lmittmann/tint"
	"log/slog"
	"sync"
	"time"
)

// BatchingBuffer collects items until none have been added for the
// configured delay, then passes everything collected to the callback
// as a single batch.
type BatchingBuffer[T any] struct {
	ctx      context.Context
	delay    time.Duration
	callback func(ctx context.Context, batch []T) error
	logger   *slog.Logger

	mu         sync.Mutex
	pending    []T
	timer      *time.Timer
	generation uint64
	closed     bool
}

// NewBatchingBuffer returns a buffer which invokes callback with ctx.
// Callback errors and panics are logged.
func NewBatchingBuffer[T any](
	ctx context.Context,
	delay time.Duration,
	callback func(ctx context.Context, batch []T) error,
	logger *slog.Logger,
) *BatchingBuffer[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchingBuffer[T]{
		ctx:      ctx,
		delay:    delay,
		callback: callback,
		logger:   logger.With(loggerNameKey, "batching_buffer"),
	}
}

// AddMessage appends an item and restarts the flush timer
func (b *BatchingBuffer[T]) AddMessage(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.logger.Warn("item added to closed buffer, dropping")
		return
	}

	b.pending = append(b.pending, item)
	b.generation++
	gen := b.generation
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.delay, func() { b.flush(gen) })
}

// Pending returns the number of items waiting for the next flush
func (b *BatchingBuffer[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *BatchingBuffer[T]) flush(gen uint64) {
	b.mu.Lock()
	if gen != b.generation || len(b.pending) == 0 {
		// superseded by a later AddMessage
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = nil
	b.timer = nil
	b.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			_ = handleRecover(b.logger, r)
		}
	}()
	if err := b.callback(b.ctx, batch); err != nil {
		b.logger.ErrorContext(b.ctx, "error flushing batch", tint.Err(err), "size", len(batch))
	}
}

// Close stops the pending timer. Items not yet flushed are discarded.
func (b *BatchingBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) > 0 {
		b.logger.Warn("discarding unflushed items", "count", len(b.pending))
		b.pending = nil
	}
}
