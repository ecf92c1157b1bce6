package notification

import (
	"context"
	"sync"
	"time"

	"movementflow/internal/observability"

	"go.uber.org/zap"
)

// Outbox queues messages and sends them from a single worker goroutine.
// Send failures are logged and counted, never returned to the caller.
type Outbox struct {
	sender  Sender
	log     *zap.Logger
	timeout time.Duration

	queue chan Message
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewOutbox starts the worker. size bounds the number of queued messages.
func NewOutbox(sender Sender, size int, log *zap.Logger) *Outbox {
	if size <= 0 {
		size = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	o := &Outbox{
		sender:  sender,
		log:     log,
		timeout: 30 * time.Second,
		queue:   make(chan Message, size),
	}
	o.wg.Add(1)
	go o.run()
	return o
}

// Enqueue adds messages without blocking. Messages that do not fit, or that
// arrive after Close, are dropped.
func (o *Outbox) Enqueue(msgs ...Message) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, m := range msgs {
		if o.closed {
			o.drop(m, "closed")
			continue
		}
		select {
		case o.queue <- m:
		default:
			o.drop(m, "queue full")
		}
	}
}

func (o *Outbox) drop(m Message, reason string) {
	observability.NotificationsTotal.WithLabelValues(m.Kind, "dropped").Inc()
	o.log.Warn("Notification dropped",
		zap.String("reason", reason),
		zap.String("kind", m.Kind),
		zap.String("subject", m.Subject))
}

// Close stops accepting messages and waits until the queue is drained.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Outbox) run() {
	defer o.wg.Done()
	for m := range o.queue {
		o.deliver(m)
	}
}

func (o *Outbox) deliver(m Message) {
	defer func() {
		if r := recover(); r != nil {
			observability.NotificationsTotal.WithLabelValues(m.Kind, "failed").Inc()
			o.log.Error("Notification sender panicked", zap.Any("panic", r), zap.String("kind", m.Kind))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	if err := o.sender.Send(ctx, m.To, m.Subject, m.HTML); err != nil {
		observability.NotificationsTotal.WithLabelValues(m.Kind, "failed").Inc()
		o.log.Warn("Failed to send notification",
			zap.String("kind", m.Kind),
			zap.Strings("to", m.To),
			zap.Error(err))
		return
	}
	observability.NotificationsTotal.WithLabelValues(m.Kind, "sent").Inc()
}
