package nellebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
)

// HandlerNext invokes the next step of a dispatch: the handler itself,
// from the point of view of a PipelineBehavior.
type HandlerNext func(ctx context.Context) (any, error)

// PipelineBehavior wraps every handler invocation made by the Mediator.
type PipelineBehavior interface {
	Handle(ctx context.Context, request any, next HandlerNext) (any, error)
}

type passthroughPipeline struct{}

func (passthroughPipeline) Handle(
	ctx context.Context,
	_ any,
	next HandlerNext,
) (any, error) {
	return next(ctx)
}

type requestHandler func(ctx context.Context, request any) (any, error)

type notificationHandler struct {
	name    string
	handler func(ctx context.Context, n any) error
}

// MediatorBuilder collects handler registrations. Handlers are keyed by
// the concrete type of the request they accept.
type MediatorBuilder struct {
	commands      map[reflect.Type][]requestHandler
	queries       map[reflect.Type][]requestHandler
	notifications map[reflect.Type][]notificationHandler
	logger        *slog.Logger
}

func NewMediatorBuilder(logger *slog.Logger) *MediatorBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediatorBuilder{
		commands:      map[reflect.Type][]requestHandler{},
		queries:       map[reflect.Type][]requestHandler{},
		notifications: map[reflect.Type][]notificationHandler{},
		logger:        logger,
	}
}

// HandleCommand registers the handler for command type C.
func HandleCommand[C Command](
	b *MediatorBuilder,
	handler func(ctx context.Context, cmd C) error,
) {
	t := reflect.TypeFor[C]()
	b.commands[t] = append(
		b.commands[t],
		func(ctx context.Context, request any) (any, error) {
			return nil, handler(ctx, request.(C))
		},
	)
}

// HandleQuery registers the handler for query type Q.
func HandleQuery[Q Query, R any](
	b *MediatorBuilder,
	handler func(ctx context.Context, q Q) (R, error),
) {
	t := reflect.TypeFor[Q]()
	b.queries[t] = append(
		b.queries[t],
		func(ctx context.Context, request any) (any, error) {
			return handler(ctx, request.(Q))
		},
	)
}

// HandleNotification adds a handler for notification type N. Handlers
// for the same type are invoked in the order they were added.
func HandleNotification[N Notification](
	b *MediatorBuilder,
	name string,
	handler func(ctx context.Context, n N) error,
) {
	t := reflect.TypeFor[N]()
	b.notifications[t] = append(
		b.notifications[t],
		notificationHandler{
			name: name,
			handler: func(ctx context.Context, n any) error {
				return handler(ctx, n.(N))
			},
		},
	)
}

// Build returns a Mediator dispatching through the given pipeline.
// An error is returned if any command or query type has more than
// one handler.
func (b *MediatorBuilder) Build(pipeline PipelineBehavior) (*Mediator, error) {
	if pipeline == nil {
		pipeline = passthroughPipeline{}
	}
	var errs []error
	m := &Mediator{
		commands:      make(map[reflect.Type]requestHandler, len(b.commands)),
		queries:       make(map[reflect.Type]requestHandler, len(b.queries)),
		notifications: make(map[reflect.Type][]notificationHandler, len(b.notifications)),
		pipeline:      pipeline,
		logger:        b.logger,
	}
	for t, handlers := range b.commands {
		if len(handlers) > 1 {
			errs = append(errs, fmt.Errorf("%w: command %s", ErrDuplicateHandler, t))
			continue
		}
		m.commands[t] = handlers[0]
	}
	for t, handlers := range b.queries {
		if len(handlers) > 1 {
			errs = append(errs, fmt.Errorf("%w: query %s", ErrDuplicateHandler, t))
			continue
		}
		m.queries[t] = handlers[0]
	}
	for t, handlers := range b.notifications {
		m.notifications[t] = append([]notificationHandler{}, handlers...)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return m, nil
}

// Mediator dispatches requests to their registered handlers. It's
// read-only once built, and safe for concurrent use.
type Mediator struct {
	commands      map[reflect.Type]requestHandler
	queries       map[reflect.Type]requestHandler
	notifications map[reflect.Type][]notificationHandler
	pipeline      PipelineBehavior
	logger        *slog.Logger
}

// Send dispatches a command to its handler.
func (m *Mediator) Send(ctx context.Context, cmd Command) error {
	handler, ok := m.commands[reflect.TypeOf(cmd)]
	if !ok {
		return fmt.Errorf("%w: command %T", ErrNoHandler, cmd)
	}
	ctx = WithLogger(ctx, m.logger.With("command", fmt.Sprintf("%T", cmd)))
	_, err := m.pipeline.Handle(
		ctx,
		cmd,
		func(ctx context.Context) (any, error) {
			return handler(ctx, cmd)
		},
	)
	return err
}

// Query dispatches a query to its handler, and returns the result.
func (m *Mediator) Query(ctx context.Context, q Query) (any, error) {
	handler, ok := m.queries[reflect.TypeOf(q)]
	if !ok {
		return nil, fmt.Errorf("%w: query %T", ErrNoHandler, q)
	}
	ctx = WithLogger(ctx, m.logger.With("query", fmt.Sprintf("%T", q)))
	return m.pipeline.Handle(
		ctx,
		q,
		func(ctx context.Context) (any, error) {
			return handler(ctx, q)
		},
	)
}

// Publish invokes every handler registered for the notification's type,
// one after another. Each handler is wrapped by the pipeline separately,
// so a failing handler doesn't prevent the rest from running.
func (m *Mediator) Publish(ctx context.Context, n Notification) error {
	handlers := m.notifications[reflect.TypeOf(n)]
	if len(handlers) == 0 {
		m.logger.DebugContext(ctx, "no handlers for notification", "notification", fmt.Sprintf("%T", n))
		return nil
	}
	var errs []error
	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		hctx := WithLogger(
			ctx,
			m.logger.With(
				"notification", fmt.Sprintf("%T", n),
				"handler", h.name,
			),
		)
		_, err := m.pipeline.Handle(
			hctx,
			n,
			func(ctx context.Context) (any, error) {
				return nil, h.handler(ctx, n)
			},
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}

// NotificationHandlerCount returns the number of handlers registered
// for the given notification's type.
func (m *Mediator) NotificationHandlerCount(n Notification) int {
	return len(m.notifications[reflect.TypeOf(n)])
}

// Ask dispatches a query, and asserts the result to R.
func Ask[R any](ctx context.Context, m *Mediator, q Query) (R, error) {
	var zero R
	v, err := m.Query(ctx, q)
	if err != nil || v == nil {
		return zero, err
	}
	r, ok := v.(R)
	if !ok {
		return zero, fmt.Errorf("query %T returned %T, expected %T", q, v, zero)
	}
	return r, nil
}
