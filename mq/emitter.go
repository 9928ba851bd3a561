package mq

import (
	"context"
	"sync"

	"canteenhub/metrics"

	"github.com/sirupsen/logrus"
)

// Emitter accepts events without blocking. It reports false when the event was dropped.
type Emitter interface {
	Emit(e Event) bool
}

// Handler consumes dispatched events. Handlers run on the dispatcher goroutine and
// must hand slow work off rather than block.
type Handler interface {
	Handle(ctx context.Context, e Event)
}

type HandlerFunc func(ctx context.Context, e Event)

func (f HandlerFunc) Handle(ctx context.Context, e Event) { f(ctx, e) }

// Dispatcher decouples producers from consumers with a bounded queue. A single
// goroutine drains it, so handlers observe events in emission order.
type Dispatcher struct {
	queue    chan Event
	handlers []Handler
	log      *logrus.Entry
	metrics  *metrics.Metrics

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(size int, logger *logrus.Logger, m *metrics.Metrics, handlers ...Handler) *Dispatcher {
	if size < 1 {
		size = 1
	}
	return &Dispatcher{
		queue:    make(chan Event, size),
		handlers: handlers,
		log:      logger.WithField("component", "dispatcher"),
		metrics:  m,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (d *Dispatcher) Emit(e Event) bool {
	select {
	case d.queue <- e:
		d.metrics.EventsEmitted.WithLabelValues(string(e.Kind())).Inc()
		return true
	default:
		d.metrics.Dropped(metrics.StageDispatch)
		d.log.WithFields(logrus.Fields{"type": e.Kind(), "event_id": e.Meta().EventID}).
			Warn("Dispatch queue full; dropping event")
		return false
	}
}

// Run delivers queued events until Stop is called or ctx ends. On Stop, events
// already queued are still delivered.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case e := <-d.queue:
			d.dispatch(ctx, e)
		case <-d.quit:
			d.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case e := <-d.queue:
			d.dispatch(ctx, e)
		default:
			return
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, e Event) {
	for _, h := range d.handlers {
		d.safeHandle(ctx, h, e)
	}
}

func (d *Dispatcher) safeHandle(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{"type": e.Kind(), "panic": r}).Error("Event handler panicked")
		}
	}()
	h.Handle(ctx, e)
}

// Stop asks Run to drain and return, and waits for it.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.quit) })
	<-d.done
}
