// Package emitter is a small topic-keyed publish/subscribe dispatcher.
// Synchronous handlers run inline in registration order; asynchronous
// handlers are scheduled on their own goroutine and publish does not
// wait for them, so relative ordering between an async handler and
// subsequent publishes is not guaranteed.
package emitter

import (
	"context"
	"log/slog"
	"sync"
)

type Handler[E any] func(e E)

type registration[E any] struct {
	fn    Handler[E]
	async bool
	once  bool
}

type Emitter[E any] struct {
	mu       sync.Mutex
	handlers map[string][]*registration[E]
	logger   *slog.Logger
}

type Option[E any] func(*Emitter[E])

func WithLogger[E any](logger *slog.Logger) Option[E] {
	return func(e *Emitter[E]) {
		e.logger = logger
	}
}

func New[E any](opts ...Option[E]) *Emitter[E] {
	e := &Emitter[E]{
		handlers: map[string][]*registration[E]{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// On registers a synchronous handler for topic. Handlers registered for
// the same topic fire in registration order. A panic inside the handler
// is recovered and logged so it cannot break delivery to the remaining
// handlers or the publisher.
func (e *Emitter[E]) On(topic string, h Handler[E]) {
	e.add(topic, &registration[E]{fn: h})
}

// OnAsync registers a handler that runs on its own goroutine per event.
func (e *Emitter[E]) OnAsync(topic string, h Handler[E]) {
	e.add(topic, &registration[E]{fn: h, async: true})
}

// Clear removes all registered handlers.
func (e *Emitter[E]) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = map[string][]*registration[E]{}
}

// Emit delivers evt to every handler registered for topic.
func (e *Emitter[E]) Emit(topic string, evt E) {
	e.mu.Lock()
	regs := e.handlers[topic]
	run := make([]*registration[E], len(regs))
	copy(run, regs)
	remaining := regs[:0:0]
	for _, r := range regs {
		if !r.once {
			remaining = append(remaining, r)
		}
	}
	if len(remaining) != len(regs) {
		e.handlers[topic] = remaining
	}
	e.mu.Unlock()

	for _, r := range run {
		if r.async {
			go r.fn(evt)
			continue
		}
		e.invoke(topic, r.fn, evt)
	}
}

func (e *Emitter[E]) invoke(topic string, h Handler[E], evt E) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("event handler panicked",
				slog.String("topic", topic),
				slog.Any("panic", rec),
			)
		}
	}()
	h(evt)
}

// WaitFor blocks until the next event published to topic and returns
// it. Cancelling ctx deregisters the one-shot handler, so abandoned
// waits do not leak.
func (e *Emitter[E]) WaitFor(ctx context.Context, topic string) (E, error) {
	ch := make(chan E, 1)
	reg := &registration[E]{once: true}
	reg.fn = func(evt E) {
		select {
		case ch <- evt:
		default:
		}
	}
	e.add(topic, reg)

	select {
	case evt := <-ch:
		return evt, nil
	case <-ctx.Done():
		e.remove(topic, reg)
		var zero E
		return zero, ctx.Err()
	}
}

func (e *Emitter[E]) add(topic string, r *registration[E]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[topic] = append(e.handlers[topic], r)
}

func (e *Emitter[E]) remove(topic string, r *registration[E]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	regs := e.handlers[topic]
	for i, x := range regs {
		if x == r {
			e.handlers[topic] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}
