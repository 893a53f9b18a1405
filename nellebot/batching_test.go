package nellebot

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]string
	flushed chan struct{}
}

func newBatchRecorder() *batchRecorder {
	return &batchRecorder{flushed: make(chan struct{}, 10)}
}

func (r *batchRecorder) callback(_ context.Context, batch []string) error {
	r.mu.Lock()
	r.batches = append(r.batches, batch)
	r.mu.Unlock()
	r.flushed <- struct{}{}
	return nil
}

func (r *batchRecorder) get() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string{}, r.batches...)
}

func (r *batchRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flush")
	}
}

func TestBatchingBuffer_CoalescesWithinDelay(t *testing.T) {
	rec := newBatchRecorder()
	buf := NewBatchingBuffer(context.Background(), 100*time.Millisecond, rec.callback, nil)
	defer buf.Close()

	buf.AddMessage("a")
	time.Sleep(20 * time.Millisecond)
	buf.AddMessage("b")
	time.Sleep(20 * time.Millisecond)
	buf.AddMessage("c")
	assert.Equal(t, 3, buf.Pending())

	rec.wait(t)
	assert.Equal(t, [][]string{{"a", "b", "c"}}, rec.get())
	assert.Equal(t, 0, buf.Pending())
}

func TestBatchingBuffer_SeparateWindows(t *testing.T) {
	rec := newBatchRecorder()
	buf := NewBatchingBuffer(context.Background(), 50*time.Millisecond, rec.callback, nil)
	defer buf.Close()

	buf.AddMessage("a")
	rec.wait(t)
	buf.AddMessage("b")
	buf.AddMessage("c")
	rec.wait(t)

	assert.Equal(t, [][]string{{"a"}, {"b", "c"}}, rec.get())
}

func TestBatchingBuffer_CloseDiscardsPending(t *testing.T) {
	rec := newBatchRecorder()
	buf := NewBatchingBuffer(context.Background(), 50*time.Millisecond, rec.callback, nil)

	buf.AddMessage("a")
	buf.Close()
	buf.AddMessage("b")
	time.Sleep(150 * time.Millisecond)

	assert.Empty(t, rec.get())
	assert.Equal(t, 0, buf.Pending())
}

func TestBatchingBuffer_CallbackFailureDoesNotStopBuffer(t *testing.T) {
	calls := make(chan []int, 10)
	buf := NewBatchingBuffer(
		context.Background(),
		30*time.Millisecond,
		func(_ context.Context, batch []int) error {
			calls <- batch
			if batch[0] == 1 {
				panic("first batch")
			}
			return errors.New("still failing")
		},
		nil,
	)
	defer buf.Close()

	buf.AddMessage(1)
	first := <-calls
	require.Equal(t, []int{1}, first)

	buf.AddMessage(2)
	select {
	case second := <-calls:
		assert.Equal(t, []int{2}, second)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}
