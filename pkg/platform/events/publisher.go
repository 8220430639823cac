package events

import (
	"context"
	"log/slog"
	"sync"

	"vicinity/pkg/platform/sentinel"
)

// Publisher pushes events into a Sink, either synchronously or through a
// bounded buffer drained by a background goroutine. When the buffer is full
// the event is dropped rather than blocking a state-changing operation;
// event delivery is advisory, never part of the transaction.
type Publisher struct {
	sink   Sink
	logger *slog.Logger

	mu     sync.Mutex
	inbox  chan Event
	done   chan struct{}
	closed bool
}

type PublisherOption func(*Publisher)

// WithAsyncBuffer switches the publisher to asynchronous delivery through a
// buffer of the given size.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		p.inbox = make(chan Event, size)
	}
}

func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(sink Sink, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		sink:   sink,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.done = make(chan struct{})
		go p.drain()
	}
	return p
}

// Emit delivers the event. In async mode a full buffer drops the event and
// reports nothing to the caller beyond a log line.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return sentinel.ErrClosed
	}
	inbox := p.inbox
	p.mu.Unlock()

	if inbox == nil {
		return p.sink.Publish(ctx, event)
	}

	select {
	case inbox <- event:
		return nil
	default:
		p.logger.Warn("event buffer full, dropping event", "type", event.Type)
		return nil
	}
}

// Close stops accepting events and, in async mode, drains everything already
// buffered before returning.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	inbox := p.inbox
	p.mu.Unlock()

	if inbox != nil {
		close(inbox)
		<-p.done
	}
}

func (p *Publisher) drain() {
	defer close(p.done)
	for event := range p.inbox {
		if err := p.sink.Publish(context.Background(), event); err != nil {
			p.logger.Error("failed to publish event", "type", event.Type, "error", err)
		}
	}
}
