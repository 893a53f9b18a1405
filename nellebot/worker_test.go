package nellebot

import (
	"context"
	"errors"
	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func startWorker[T any](t *testing.T, w *queueWorker[T]) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel, done
}

func TestQueueWorker_SerialOrderWithoutOverlap(t *testing.T) {
	q := NewCommandQueue(DefaultQueueSize)
	var (
		mu      sync.Mutex
		order   []int
		running atomic.Int32
		overlap atomic.Bool
	)
	allDone := make(chan struct{})
	const n = 20

	w := newQueueWorker[Command](
		q,
		func(_ context.Context, item Command) error {
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			defer running.Add(-1)
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			order = append(order, item.(testCommand).N)
			if len(order) == n {
				close(allDone)
			}
			mu.Unlock()
			return nil
		},
		false,
		nil,
		nil,
	)
	startWorker(t, w)

	for i := 0; i < n; i++ {
		require.NoError(t, q.Write(context.Background(), testCommand{N: i}))
	}
	select {
	case <-allDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for commands")
	}

	expected := make([]int, n)
	for i := range expected {
		expected[i] = i
	}
	mu.Lock()
	assert.Equal(t, expected, order)
	mu.Unlock()
	assert.False(t, overlap.Load())
}

func TestQueueWorker_ParallelIndependent(t *testing.T) {
	q := NewCommandParallelQueue(DefaultQueueSize)
	var wg sync.WaitGroup
	wg.Add(3)
	delays := map[int]time.Duration{
		0: 300 * time.Millisecond,
		1: 200 * time.Millisecond,
		2: 100 * time.Millisecond,
	}

	var mu sync.Mutex
	var finished []int
	w := newQueueWorker[Command](
		q,
		func(ctx context.Context, item Command) error {
			defer wg.Done()
			n := item.(testCommand).N
			time.Sleep(delays[n])
			mu.Lock()
			finished = append(finished, n)
			mu.Unlock()
			return nil
		},
		true,
		nil,
		nil,
	)
	startWorker(t, w)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Write(context.Background(), testCommand{N: i}))
	}
	wg.Wait()
	elapsed := time.Since(start)

	// total time is close to the slowest command, not the sum
	assert.Less(t, elapsed, 550*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 1, 0}, finished)
}

func TestQueueWorker_ParallelWaitsForInFlight(t *testing.T) {
	q := NewCommandParallelQueue(DefaultQueueSize)
	started := make(chan struct{})
	var completed atomic.Bool

	w := newQueueWorker[Command](
		q,
		func(ctx context.Context, _ Command) error {
			close(started)
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			completed.Store(true)
			return ctx.Err()
		},
		true,
		nil,
		nil,
	)
	cancel, done := startWorker(t, w)

	require.NoError(t, q.Write(context.Background(), testCommand{}))
	<-started
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker didn't stop")
	}
	assert.True(t, completed.Load())
}

func TestQueueWorker_NoDispatchAfterCancel(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		q := NewCommandQueue(10)
		for i := 0; i < 10; i++ {
			require.NoError(t, q.Write(context.Background(), testCommand{N: i}))
		}
		var dispatched atomic.Int32
		w := newQueueWorker[Command](
			q,
			func(context.Context, Command) error {
				dispatched.Add(1)
				return nil
			},
			parallel,
			nil,
			nil,
		)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		w.Run(ctx)

		assert.Zero(t, dispatched.Load(), "parallel=%v", parallel)
		assert.Equal(t, 10, q.Len(), "parallel=%v", parallel)
	}
}

func TestQueueWorker_StopsBetweenSerialItems(t *testing.T) {
	q := NewCommandQueue(10)
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Write(context.Background(), testCommand{N: i}))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dispatched atomic.Int32
	w := newQueueWorker[Command](
		q,
		func(context.Context, Command) error {
			dispatched.Add(1)
			cancel()
			return nil
		},
		false,
		nil,
		nil,
	)
	w.Run(ctx)

	assert.Equal(t, int32(1), dispatched.Load())
	assert.Equal(t, 9, q.Len())
}

func TestQueueWorker_SurvivesPanicsAndErrors(t *testing.T) {
	q := NewEventQueue(DefaultQueueSize)
	metrics := NewMetrics()
	processed := make(chan int, 3)

	w := newQueueWorker[Notification](
		q,
		func(_ context.Context, item Notification) error {
			n := item.(testNotification).N
			switch n {
			case 0:
				panic("boom")
			case 1:
				processed <- n
				return errors.New("failed")
			}
			processed <- n
			return nil
		},
		false,
		nil,
		metrics,
	)
	startWorker(t, w)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Write(context.Background(), testNotification{N: i}))
	}
	for _, expected := range []int{1, 2} {
		select {
		case n := <-processed:
			assert.Equal(t, expected, n)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}

	assert.Eventually(
		t,
		func() bool {
			return testutil.ToFloat64(metrics.dispatched.WithLabelValues("event", outcomeOK)) == 1
		},
		time.Second,
		10*time.Millisecond,
	)
	assert.Equal(
		t,
		1.0,
		testutil.ToFloat64(metrics.dispatched.WithLabelValues("event", outcomePanic)),
	)
	assert.Equal(
		t,
		1.0,
		testutil.ToFloat64(metrics.dispatched.WithLabelValues("event", outcomeError)),
	)
}

func TestRequestWorker_DispatchesThroughMediator(t *testing.T) {
	b := NewMediatorBuilder(nil)
	results := make(chan int, 1)
	HandleQuery(b, func(_ context.Context, q testQuery) (int, error) {
		results <- q.N * 2
		return q.N * 2, nil
	})
	m, err := b.Build(nil)
	require.NoError(t, err)

	q := NewRequestQueue(DefaultQueueSize)
	startWorker(t, newRequestWorker(q, m, nil, nil))

	require.NoError(t, q.Write(context.Background(), testQuery{N: 21}))
	select {
	case v := <-results:
		assert.Equal(t, 42, v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestDiscordLogWorker_SendsMessages(t *testing.T) {
	session := newMockDiscordSession()
	q := NewDiscordLogQueue(DefaultQueueSize)
	startWorker(t, newDiscordLogWorker(q, session, nil, nil))

	require.True(
		t,
		q.TryWrite(DiscordLogItem{ChannelID: "log", Message: &discordgo.MessageSend{Content: "hello"}}),
	)
	assert.Eventually(
		t,
		func() bool { return len(session.sentTo("log")) == 1 },
		2*time.Second,
		10*time.Millisecond,
	)
	assert.Equal(t, []string{"hello"}, session.sentTo("log"))
}

func TestMetrics_QueueLengthGauge(t *testing.T) {
	metrics := NewMetrics()
	q := NewCommandQueue(10)
	metrics.registerQueue(q)
	require.NoError(t, q.Write(context.Background(), testCommand{}))
	require.NoError(t, q.Write(context.Background(), testCommand{}))

	count, err := testutil.GatherAndCount(metrics.registry, "nellebot_queue_length")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.registerQueue(q)
		nilMetrics.observeDispatch("command", outcomeOK, time.Second)
		nilMetrics.jobRun("x", outcomeOK)
	})
}
