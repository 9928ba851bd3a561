package notify

import (
	"sync"

	"canteenhub/globals"
	"canteenhub/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client is one live connection. Send is owned by the hub: only the hub writes to
// or closes it.
type Client struct {
	ID       string
	Identity globals.Identity
	Conn     *websocket.Conn
	Send     chan []byte

	channels map[string]bool
	closed   bool
}

func NewClient(conn *websocket.Conn, id globals.Identity, buffer int) *Client {
	return &Client{
		ID:       uuid.NewString(),
		Identity: id,
		Conn:     conn,
		Send:     make(chan []byte, buffer),
		channels: make(map[string]bool),
	}
}

type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opJoin
	opLeave
	opBroadcast
	opReply
	opCount
)

type op struct {
	kind    opKind
	client  *Client
	channel string
	data    []byte
	reply   chan int
}

// Hub is the subscription registry. Every registry change and every delivery runs
// on the Run goroutine in the order submitted, so a client that joins a channel
// after an event was published never receives that event, and events published to
// the same channel arrive in publish order.
type Hub struct {
	rooms   map[string]map[*Client]bool
	clients map[*Client]bool

	ops  chan op
	quit chan struct{}
	done chan struct{}
	once sync.Once

	log     *logrus.Entry
	metrics *metrics.Metrics
}

func NewHub(queue int, logger *logrus.Logger, m *metrics.Metrics) *Hub {
	if queue < 1 {
		queue = 1
	}
	return &Hub{
		rooms:   make(map[string]map[*Client]bool),
		clients: make(map[*Client]bool),
		ops:     make(chan op, queue),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     logger.WithField("component", "hub"),
		metrics: m,
	}
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case o := <-h.ops:
			h.apply(o)
		case <-h.quit:
			for c := range h.clients {
				h.evict(c)
			}
			return
		}
	}
}

// Stop disconnects every client and waits for Run to return.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.quit) })
	<-h.done
}

func (h *Hub) apply(o op) {
	switch o.kind {
	case opRegister:
		h.clients[o.client] = true
		h.metrics.Connections.Inc()
	case opUnregister:
		if h.clients[o.client] {
			h.evict(o.client)
		}
	case opJoin:
		if !h.clients[o.client] {
			break
		}
		room := h.rooms[o.channel]
		if room == nil {
			room = make(map[*Client]bool)
			h.rooms[o.channel] = room
		}
		room[o.client] = true
		o.client.channels[o.channel] = true
		h.push(o.client, o.data)
	case opLeave:
		h.leave(o.client, o.channel)
		h.push(o.client, o.data)
	case opReply:
		h.push(o.client, o.data)
	case opBroadcast:
		room := h.rooms[o.channel]
		if len(room) == 0 {
			h.metrics.Dropped(metrics.StageHub)
			break
		}
		for c := range room {
			if h.push(c, o.data) {
				h.metrics.EventsDelivered.Inc()
			}
		}
	case opCount:
		o.reply <- len(h.rooms[o.channel])
	}
	if o.reply != nil && o.kind != opCount {
		close(o.reply)
	}
}

// push hands data to a client without blocking. A client that cannot keep up is
// evicted; it will refetch state when it reconnects.
func (h *Hub) push(c *Client, data []byte) bool {
	if data == nil || c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		h.log.WithField("client", c.ID).Warn("Client send buffer full; disconnecting")
		h.metrics.Dropped(metrics.StageClient)
		h.evict(c)
		return false
	}
}

func (h *Hub) leave(c *Client, channel string) {
	if room := h.rooms[channel]; room != nil {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, channel)
		}
	}
	delete(c.channels, channel)
}

func (h *Hub) evict(c *Client) {
	for ch := range c.channels {
		h.leave(c, ch)
	}
	delete(h.clients, c)
	if !c.closed {
		c.closed = true
		close(c.Send)
		h.metrics.Connections.Dec()
	}
}

// submit queues a control op, waiting for queue space. It gives up once the hub stops.
func (h *Hub) submit(o op) bool {
	select {
	case h.ops <- o:
		return true
	case <-h.quit:
		return false
	}
}

// submitWait queues o and waits until the hub has applied it.
func (h *Hub) submitWait(o op) {
	o.reply = make(chan int)
	if !h.submit(o) {
		return
	}
	select {
	case <-o.reply:
	case <-h.done:
	}
}

func (h *Hub) Register(c *Client) { h.submitWait(op{kind: opRegister, client: c}) }

func (h *Hub) Unregister(c *Client) { h.submit(op{kind: opUnregister, client: c}) }

// Join subscribes c to channel and queues ack to it; it returns once applied.
func (h *Hub) Join(c *Client, channel string, ack []byte) {
	h.submitWait(op{kind: opJoin, client: c, channel: channel, data: ack})
}

func (h *Hub) Leave(c *Client, channel string, ack []byte) {
	h.submitWait(op{kind: opLeave, client: c, channel: channel, data: ack})
}

// Reply queues a frame for a single client.
func (h *Hub) Reply(c *Client, data []byte) { h.submit(op{kind: opReply, client: c, data: data}) }

// Publish queues data for every client subscribed to channel. It never blocks: when
// the hub is saturated the event is dropped.
func (h *Hub) Publish(channel string, data []byte) bool {
	select {
	case h.ops <- op{kind: opBroadcast, channel: channel, data: data}:
		return true
	default:
		h.metrics.Dropped(metrics.StageHub)
		return false
	}
}

// Subscribers reports how many clients are joined to channel.
func (h *Hub) Subscribers(channel string) int {
	reply := make(chan int, 1)
	if !h.submit(op{kind: opCount, channel: channel, reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-h.done:
		return 0
	}
}
