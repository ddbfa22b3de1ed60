package ws

import (
	"sync"
	"testing"
	"time"
)

type captureClient struct {
	mu       sync.Mutex
	payloads [][]byte
	closed   bool
	sendErr  error
}

func (c *captureClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *captureClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *captureClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHubBroadcastReachesEnvironmentAndGlobalFeed(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()

	envClient := &captureClient{}
	allClient := &captureClient{}
	otherClient := &captureClient{}
	hub.Register("acme-webapp-pr-42", envClient)
	hub.Register(FeedAll, allClient)
	hub.Register("acme-webapp-pr-7", otherClient)

	hub.Broadcast("acme-webapp-pr-42", []byte(`{"type":"env_ready"}`))

	waitFor(t, func() bool { return envClient.count() == 1 && allClient.count() == 1 })
	if otherClient.count() != 0 {
		t.Fatal("unrelated environment received the event")
	}
}

func TestHubEmptyStreamGoesToGlobalFeed(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()

	allClient := &captureClient{}
	hub.Register(FeedAll, allClient)
	hub.Broadcast("", []byte("platform event"))

	waitFor(t, func() bool { return allClient.count() == 1 })
}

func TestHubDropsFailingClient(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()

	failing := &captureClient{sendErr: errSend}
	healthy := &captureClient{}
	hub.Register("env", failing)
	hub.Register("env", healthy)

	hub.Broadcast("env", []byte("one"))
	hub.Broadcast("env", []byte("two"))

	waitFor(t, func() bool { return healthy.count() == 2 })
	failing.mu.Lock()
	closed := failing.closed
	failing.mu.Unlock()
	if !closed {
		t.Fatal("failing client was not closed")
	}
}

func TestHubUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()

	client := &captureClient{}
	hub.Register("env", client)
	hub.Broadcast("env", []byte("one"))
	waitFor(t, func() bool { return client.count() == 1 })

	hub.Unregister("env", client)
	hub.Broadcast("env", []byte("two"))

	time.Sleep(20 * time.Millisecond)
	if client.count() != 1 {
		t.Fatalf("expected 1 payload after unregister, got %d", client.count())
	}
}

var errSend = errSendType{}

type errSendType struct{}

func (errSendType) Error() string { return "send failed" }
