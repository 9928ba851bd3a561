package notify

import (
	"fmt"
	"io"
	"testing"
	"time"

	"canteenhub/globals"
	"canteenhub/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func startHub(t *testing.T, queue int) (*Hub, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	hub := NewHub(queue, quietLogger(), m)
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub, m
}

// fake client with no connection; tests read its Send channel directly
func fakeClient(hub *Hub, userID string, buffer int) *Client {
	c := NewClient(nil, globals.Identity{UserID: userID, Role: globals.RoleStudent}, buffer)
	hub.Register(c)
	return c
}

func recv(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case got, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		return got
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case got := <-c.Send:
		t.Fatalf("unexpected message %s", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRegisterJoinPublish(t *testing.T) {
	hub, m := startHub(t, 16)
	client := fakeClient(hub, "u1", 10)

	hub.Join(client, "user:u1", []byte("ack"))
	assert.Equal(t, "ack", string(recv(t, client)))
	assert.Equal(t, 1, hub.Subscribers("user:u1"))

	require.True(t, hub.Publish("user:u1", []byte("hello")))
	assert.Equal(t, "hello", string(recv(t, client)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDelivered))

	hub.Publish("user:u2", []byte("not yours"))
	assertSilent(t, client)
}

func TestHubJoinAfterPublishMissesEarlierEvent(t *testing.T) {
	hub, m := startHub(t, 16)
	staff := fakeClient(hub, "owner", 10)

	hub.Publish("canteen:c1", []byte("first"))
	hub.Join(staff, "canteen:c1", nil)
	hub.Publish("canteen:c1", []byte("second"))

	assert.Equal(t, "second", string(recv(t, staff)))
	assertSilent(t, staff)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped.WithLabelValues(metrics.StageHub)))
}

func TestHubKeepsPublishOrderPerChannel(t *testing.T) {
	hub, _ := startHub(t, 128)
	client := fakeClient(hub, "u1", 128)
	hub.Join(client, "user:u1", nil)

	for i := 0; i < 100; i++ {
		hub.Publish("user:u1", []byte(fmt.Sprint(i)))
	}
	for i := 0; i < 100; i++ {
		assert.Equal(t, fmt.Sprint(i), string(recv(t, client)))
	}
}

func TestHubEvictsSlowClient(t *testing.T) {
	hub, m := startHub(t, 16)
	slow := fakeClient(hub, "u1", 1)
	fast := fakeClient(hub, "owner", 10)
	hub.Join(slow, "canteen:c1", nil)
	hub.Join(fast, "canteen:c1", nil)

	hub.Publish("canteen:c1", []byte("one"))
	hub.Publish("canteen:c1", []byte("two"))

	assert.Equal(t, 1, hub.Subscribers("canteen:c1"))
	assert.Equal(t, "one", string(<-slow.Send))
	_, open := <-slow.Send
	assert.False(t, open, "slow client should be disconnected")

	assert.Equal(t, "one", string(recv(t, fast)))
	assert.Equal(t, "two", string(recv(t, fast)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped.WithLabelValues(metrics.StageClient)))
}

func TestHubLeaveAndUnregister(t *testing.T) {
	hub, m := startHub(t, 16)
	client := fakeClient(hub, "u1", 10)
	hub.Join(client, "user:u1", nil)
	hub.Join(client, "canteen:c1", nil)

	hub.Leave(client, "canteen:c1", []byte("left"))
	assert.Equal(t, "left", string(recv(t, client)))
	assert.Equal(t, 0, hub.Subscribers("canteen:c1"))
	assert.Equal(t, 1, hub.Subscribers("user:u1"))

	hub.Unregister(client)
	assert.Equal(t, 0, hub.Subscribers("user:u1"))
	_, open := <-client.Send
	assert.False(t, open)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Connections))
}

func TestHubPublishNeverBlocks(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	hub := NewHub(2, quietLogger(), m) // not running: nothing drains the queue

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish("user:u1", []byte("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a saturated hub")
	}
	assert.Equal(t, 8.0, testutil.ToFloat64(m.EventsDropped.WithLabelValues(metrics.StageHub)))
}

func TestHubStopClosesClients(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	hub := NewHub(4, quietLogger(), m)
	go hub.Run()
	client := fakeClient(hub, "u1", 1)

	hub.Stop()
	_, open := <-client.Send
	assert.False(t, open)

	// calls after Stop return instead of hanging
	hub.Join(client, "user:u1", nil)
	assert.Equal(t, 0, hub.Subscribers("user:u1"))
}
