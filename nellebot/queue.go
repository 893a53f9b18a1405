package nellebot

import (
	"context"
)

// BoundedQueue is a FIFO queue with a fixed capacity. Writers block while
// the queue is full, and readers block while it's empty.
type BoundedQueue[T any] struct {
	name string
	ch   chan T
}

func NewBoundedQueue[T any](name string, capacity int) *BoundedQueue[T] {
	if capacity < 1 {
		capacity = DefaultQueueSize
	}
	return &BoundedQueue[T]{name: name, ch: make(chan T, capacity)}
}

// Write adds an item to the queue, blocking until there's room or
// the context is canceled.
func (q *BoundedQueue[T]) Write(ctx context.Context, item T) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryWrite adds an item to the queue without blocking. Returns false
// if the queue is full.
func (q *BoundedQueue[T]) TryWrite(item T) bool {
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// Read removes and returns the oldest item in the queue, blocking until
// one is available or the context is canceled. Nothing is dequeued once
// ctx is done, even if items are waiting.
func (q *BoundedQueue[T]) Read(ctx context.Context) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (q *BoundedQueue[T]) Len() int {
	return len(q.ch)
}

func (q *BoundedQueue[T]) Cap() int {
	return cap(q.ch)
}

func (q *BoundedQueue[T]) Name() string {
	return q.name
}

// RequestQueue holds queries, dispatched serially
type RequestQueue struct {
	*BoundedQueue[Query]
}

func NewRequestQueue(capacity int) *RequestQueue {
	return &RequestQueue{NewBoundedQueue[Query]("request", capacity)}
}

// CommandQueue holds commands dispatched one at a time
type CommandQueue struct {
	*BoundedQueue[Command]
}

func NewCommandQueue(capacity int) *CommandQueue {
	return &CommandQueue{NewBoundedQueue[Command]("command", capacity)}
}

// CommandParallelQueue holds independent commands, each dispatched in
// its own goroutine as soon as it's dequeued
type CommandParallelQueue struct {
	*BoundedQueue[Command]
}

func NewCommandParallelQueue(capacity int) *CommandParallelQueue {
	return &CommandParallelQueue{
		NewBoundedQueue[Command]("command_parallel", capacity),
	}
}

// EventQueue holds notifications, published to their handlers serially
type EventQueue struct {
	*BoundedQueue[Notification]
}

func NewEventQueue(capacity int) *EventQueue {
	return &EventQueue{NewBoundedQueue[Notification]("event", capacity)}
}

// DiscordLogQueue holds messages to be sent to Discord log channels
type DiscordLogQueue struct {
	*BoundedQueue[DiscordLogItem]
}

func NewDiscordLogQueue(capacity int) *DiscordLogQueue {
	return &DiscordLogQueue{
		NewBoundedQueue[DiscordLogItem]("discord_log", capacity),
	}
}

// queueStats is a point-in-time snapshot of a queue's depth
type queueStats struct {
	Name     string `json:"name"`
	Length   int    `json:"length"`
	Capacity int    `json:"capacity"`
}

type statQueue interface {
	Name() string
	Len() int
	Cap() int
}

func newQueueStats(q statQueue) queueStats {
	return queueStats{Name: q.Name(), Length: q.Len(), Capacity: q.Cap()}
}

// Queues bundles the bot's queues
type Queues struct {
	Request         *RequestQueue
	Command         *CommandQueue
	CommandParallel *CommandParallelQueue
	Event           *EventQueue
	DiscordLog      *DiscordLogQueue
}

func NewQueues(size int) *Queues {
	return &Queues{
		Request:         NewRequestQueue(size),
		Command:         NewCommandQueue(size),
		CommandParallel: NewCommandParallelQueue(size),
		Event:           NewEventQueue(size),
		DiscordLog:      NewDiscordLogQueue(size),
	}
}

func (q *Queues) all() []statQueue {
	return []statQueue{q.Request, q.Command, q.CommandParallel, q.Event, q.DiscordLog}
}

// Stats returns the current depth of every queue
func (q *Queues) Stats() []queueStats {
	qs := q.all()
	rv := make([]queueStats, 0, len(qs))
	for _, sq := range qs {
		rv = append(rv, newQueueStats(sq))
	}
	return rv
}
