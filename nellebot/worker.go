package nellebot

import (
	"context"
	"errors"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"sync"
	"time"
)

type readQueue[T any] interface {
	Read(ctx context.Context) (T, error)
	Name() string
}

// queueWorker is the single consumer of a queue. A serial worker waits
// for each dispatch to return before reading the next item. A parallel
// worker starts a goroutine per item, and waits for them to finish
// when its context is canceled.
type queueWorker[T any] struct {
	queue    readQueue[T]
	dispatch func(ctx context.Context, item T) error
	parallel bool
	logger   *slog.Logger
	metrics  *Metrics
	inFlight sync.WaitGroup
}

func newQueueWorker[T any](
	queue readQueue[T],
	dispatch func(ctx context.Context, item T) error,
	parallel bool,
	logger *slog.Logger,
	metrics *Metrics,
) *queueWorker[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &queueWorker[T]{
		queue:    queue,
		dispatch: dispatch,
		parallel: parallel,
		logger:   logger.With(loggerNameKey, "worker", "queue", queue.Name()),
		metrics:  metrics,
	}
}

// Run reads and dispatches items until ctx is canceled. In-flight
// dispatches receive the same context, and are waited on before
// Run returns.
func (w *queueWorker[T]) Run(ctx context.Context) {
	w.logger.InfoContext(ctx, "worker started", "parallel", w.parallel)
	defer w.logger.Info("worker stopped")

	for ctx.Err() == nil {
		item, err := w.queue.Read(ctx)
		if err != nil {
			break
		}
		if !w.parallel {
			w.process(ctx, item)
			continue
		}
		w.inFlight.Add(1)
		go func() {
			defer w.inFlight.Done()
			w.process(ctx, item)
		}()
	}
	w.inFlight.Wait()
}

func (w *queueWorker[T]) process(ctx context.Context, item T) {
	start := time.Now()
	outcome := outcomeOK
	defer func() {
		if r := recover(); r != nil {
			_ = handleRecover(w.logger, r)
			outcome = outcomePanic
		}
		w.metrics.observeDispatch(w.queue.Name(), outcome, time.Since(start))
	}()

	err := w.dispatch(ctx, item)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		outcome = outcomeCanceled
	default:
		outcome = outcomeError
		w.logger.ErrorContext(ctx, "error dispatching queue item", tint.Err(err))
	}
}

func newRequestWorker(
	q *RequestQueue,
	m *Mediator,
	logger *slog.Logger,
	metrics *Metrics,
) *queueWorker[Query] {
	return newQueueWorker[Query](
		q,
		func(ctx context.Context, item Query) error {
			_, err := m.Query(ctx, item)
			return err
		},
		false,
		logger,
		metrics,
	)
}

func newCommandWorker(
	q *CommandQueue,
	m *Mediator,
	logger *slog.Logger,
	metrics *Metrics,
) *queueWorker[Command] {
	return newQueueWorker[Command](q, m.Send, false, logger, metrics)
}

func newCommandParallelWorker(
	q *CommandParallelQueue,
	m *Mediator,
	logger *slog.Logger,
	metrics *Metrics,
) *queueWorker[Command] {
	return newQueueWorker[Command](q, m.Send, true, logger, metrics)
}

func newEventWorker(
	q *EventQueue,
	m *Mediator,
	logger *slog.Logger,
	metrics *Metrics,
) *queueWorker[Notification] {
	return newQueueWorker[Notification](q, m.Publish, false, logger, metrics)
}

func newDiscordLogWorker(
	q *DiscordLogQueue,
	session DiscordSessionHandler,
	logger *slog.Logger,
	metrics *Metrics,
) *queueWorker[DiscordLogItem] {
	return newQueueWorker[DiscordLogItem](
		q,
		func(ctx context.Context, item DiscordLogItem) error {
			_, err := session.ChannelMessageSendComplex(
				item.ChannelID,
				item.Message,
				discordgo.WithContext(ctx),
			)
			return err
		},
		false,
		logger,
		metrics,
	)
}
