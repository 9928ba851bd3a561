// Package notify pushes lifecycle events to the users and canteen staff watching
// them over websockets.
package notify

import (
	"context"
	"sync"
	"time"

	"canteenhub/globals"
	"canteenhub/metrics"
	"canteenhub/mq"

	"github.com/sirupsen/logrus"
)

const (
	relayRetryDelay     = 2 * time.Second
	relayPublishTimeout = 5 * time.Second
	defaultRelayQueue   = 1024
)

// Notifier is the dispatcher handler that turns events into channel deliveries.
// With a relay, events make a round trip through it so every instance's hub sees
// them; without one they go straight to the local hub.
//
// Relay publishes are queued and sent from RunRelay's publisher goroutine, so
// Handle never waits on the network and the dispatcher keeps feeding the other
// handlers.
type Notifier struct {
	hub     *Hub
	relay   mq.Relay
	outbox  chan outbound
	log     *logrus.Entry
	metrics *metrics.Metrics
}

type outbound struct {
	env      mq.Envelope
	channels []string
}

// NewNotifier builds a notifier. queue bounds the relay outbox; values below 1
// select the default.
func NewNotifier(hub *Hub, relay mq.Relay, queue int, logger *logrus.Logger, m *metrics.Metrics) *Notifier {
	if queue < 1 {
		queue = defaultRelayQueue
	}
	return &Notifier{
		hub:     hub,
		relay:   relay,
		outbox:  make(chan outbound, queue),
		log:     logger.WithField("component", "notifier"),
		metrics: m,
	}
}

// Channels lists the subscription keys an event is addressed to. Aggregate-only
// events have none.
func Channels(e mq.Event) []string {
	switch v := e.(type) {
	case mq.OrderCreated:
		return []string{globals.CanteenChannel(v.CanteenID), globals.UserChannel(v.StudentID)}
	case mq.OrderStatusChanged:
		return []string{globals.UserChannel(v.StudentID), globals.CanteenChannel(v.CanteenID)}
	case mq.OrderPaymentChanged:
		return []string{globals.UserChannel(v.StudentID), globals.CanteenChannel(v.CanteenID)}
	case mq.OrderCompleted, mq.ReviewApproved, mq.ReviewRemoved:
		return nil
	default:
		return nil
	}
}

func (n *Notifier) Handle(_ context.Context, e mq.Event) {
	channels := Channels(e)
	if len(channels) == 0 {
		return
	}
	env, err := mq.Encode(e)
	if err != nil {
		n.log.Errorf("encode event: %v", err)
		return
	}
	if n.relay == nil {
		n.deliver(env, channels)
		return
	}
	select {
	case n.outbox <- outbound{env: env, channels: channels}:
	default:
		n.metrics.Dropped(metrics.StageRelay)
		n.log.WithField("event_id", env.ID).Warn("relay outbox full, delivering locally")
		n.deliver(env, channels)
	}
}

// publish sends one envelope through the relay, falling back to the local hub
// when the relay refuses it.
func (n *Notifier) publish(ctx context.Context, o outbound) {
	pctx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
	defer cancel()
	if err := n.relay.Publish(pctx, o.env); err != nil {
		n.metrics.Dropped(metrics.StageRelay)
		n.log.WithField("event_id", o.env.ID).Warnf("relay publish failed, delivering locally: %v", err)
		n.deliver(o.env, o.channels)
	}
}

// runPublisher drains the outbox in order until ctx ends. Whatever is still
// queued then goes to the local hub.
func (n *Notifier) runPublisher(ctx context.Context) {
	for {
		select {
		case o := <-n.outbox:
			n.publish(ctx, o)
		case <-ctx.Done():
			for {
				select {
				case o := <-n.outbox:
					n.deliver(o.env, o.channels)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(env mq.Envelope, channels []string) {
	frame, err := env.MarshalFrame()
	if err != nil {
		n.log.Errorf("encode frame: %v", err)
		return
	}
	for _, ch := range channels {
		n.hub.Publish(ch, frame)
	}
}

// RunRelay publishes queued envelopes to the relay and feeds envelopes arriving
// from it into the local hub until ctx ends, resubscribing after failures. It
// returns once the outbox has been flushed.
func (n *Notifier) RunRelay(ctx context.Context) {
	if n.relay == nil {
		return
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		n.runPublisher(ctx)
	}()
	defer wg.Wait()

	for {
		err := n.relay.Subscribe(ctx, func(env mq.Envelope) {
			e, err := mq.Decode(env)
			if err != nil {
				n.log.Warnf("skipping relay envelope: %v", err)
				return
			}
			n.deliver(env, Channels(e))
		})
		if ctx.Err() != nil {
			return
		}
		n.log.Errorf("relay subscription ended: %v", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(relayRetryDelay):
		}
	}
}
