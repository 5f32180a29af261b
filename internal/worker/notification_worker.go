package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/globetrotter/auth-service/internal/events"
)

const defaultQueueSize = 256

// NotificationWorker moves event delivery off the request path. Publish
// never blocks: when the queue is full the event is dropped and logged.
type NotificationWorker struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	queue      chan events.Event
	wg         sync.WaitGroup
}

var _ events.Publisher = (*NotificationWorker)(nil)

// NewNotificationWorker creates a worker delivering through dispatcher.
func NewNotificationWorker(dispatcher events.Dispatcher, logger *zap.Logger, queueSize int) *NotificationWorker {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{
		dispatcher: dispatcher,
		logger:     logger,
		queue:      make(chan events.Event, queueSize),
	}
}

// Publish enqueues event for asynchronous delivery.
func (w *NotificationWorker) Publish(_ context.Context, event events.Event) error {
	select {
	case w.queue <- event:
	default:
		w.logger.Warn("notification queue full; dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("user_id", event.UserID))
	}
	return nil
}

// Start launches the delivery loop. It drains what is already queued once
// ctx is cancelled, then returns; Wait blocks until that happens.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case event := <-w.queue:
				w.deliver(event)
			case <-ctx.Done():
				for {
					select {
					case event := <-w.queue:
						w.deliver(event)
					default:
						return
					}
				}
			}
		}
	}()
}

// Wait blocks until the delivery loop has exited.
func (w *NotificationWorker) Wait() {
	w.wg.Wait()
}

func (w *NotificationWorker) deliver(event events.Event) {
	// detached from the request that produced the event
	_ = w.dispatcher.Publish(context.Background(), event)
}
