package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"

	"ms-ticket-transfer/internal/logger"
	"ms-ticket-transfer/internal/models"
)

// Sink delivers one transfer event to one channel (Kafka, AMQP, SSE).
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event models.TransferEvent) error
}

type Options struct {
	Workers      int
	QueueSize    int
	MaxRetryTime time.Duration
}

// Dispatcher fans committed transfer events out to every sink on a worker
// pool. Delivery is best-effort with bounded retry: Notify never blocks the
// caller, a full queue drops the event, and a sink that keeps failing for
// MaxRetryTime gives up on it.
type Dispatcher struct {
	sinks  []Sink
	queue  chan models.TransferEvent
	pool   pond.Pool
	logger *logger.Logger
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(opts Options, log *logger.Logger, sinks ...Sink) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxRetryTime <= 0 {
		opts.MaxRetryTime = 30 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sinks:  sinks,
		queue:  make(chan models.TransferEvent, opts.QueueSize),
		pool:   pond.NewPool(opts.Workers, pond.WithContext(ctx)),
		logger: log,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify queues an event for delivery.
func (d *Dispatcher) Notify(event models.TransferEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("NOTIFY", fmt.Sprintf("Dispatcher closed, dropping %s for transfer %s", event.Type, event.TransferID))
		return
	}
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("NOTIFY", fmt.Sprintf("Queue full, dropping %s for transfer %s", event.Type, event.TransferID))
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		for _, sink := range d.sinks {
			sink, event := sink, event
			d.pool.Submit(func() {
				d.deliver(sink, event)
			})
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, event models.TransferEvent) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = d.opts.MaxRetryTime

	operation := func() error {
		return sink.Deliver(d.ctx, event)
	}
	notifyOnError := func(err error, wait time.Duration) {
		d.logger.Warn("NOTIFY", fmt.Sprintf("%s delivery of %s failed, retrying in %s: %v", sink.Name(), event.EventID, wait, err))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, d.ctx), notifyOnError); err != nil {
		d.logger.Error("NOTIFY", fmt.Sprintf("Gave up delivering %s (%s) to %s: %v", event.EventID, event.Type, sink.Name(), err))
		return
	}
	d.logger.Debug("NOTIFY", fmt.Sprintf("Delivered %s (%s) to %s", event.EventID, event.Type, sink.Name()))
}

// Close stops accepting events, drains the queue and waits for in-flight
// deliveries. Retries still running when ctx expires are abandoned.
func (d *Dispatcher) Close(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		<-d.done
		d.pool.StopAndWait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		d.cancel()
		<-stopped
	}
	d.cancel()
}
