package castv2

import (
	"net"
	"testing"
	"time"
)

func newTestClient(conn net.Conn) *Client {
	c := &Client{
		addr:    "unused:8009",
		state:   StateConnecting,
		waiters: make(map[int64]chan map[string]any),
		conn:    conn,
	}
	return c
}

func TestApplyReceiverStatusCapturesDefaultMediaReceiver(t *testing.T) {
	c := newTestClient(nil)
	msg := map[string]any{
		"type": "RECEIVER_STATUS",
		"status": map[string]any{
			"applications": []any{
				map[string]any{"appId": "OTHERAPP", "transportId": "t-wrong", "sessionId": "s-wrong"},
				map[string]any{"appId": defaultMediaAppID, "transportId": "t-1", "sessionId": "s-1"},
			},
		},
	}
	if !c.applyReceiverStatus(msg) {
		t.Fatal("expected applyReceiverStatus to find the default media receiver app")
	}
	if c.transportID != "t-1" || c.sessionID != "s-1" {
		t.Fatalf("unexpected capture: transportID=%q sessionID=%q", c.transportID, c.sessionID)
	}
}

func TestApplyReceiverStatusIgnoresOtherApps(t *testing.T) {
	c := newTestClient(nil)
	msg := map[string]any{
		"status": map[string]any{
			"applications": []any{
				map[string]any{"appId": "SOMETHINGELSE", "transportId": "t-x", "sessionId": "s-x"},
			},
		},
	}
	if c.applyReceiverStatus(msg) {
		t.Fatal("expected no match for non-default-media-receiver app")
	}
	if c.transportID != "" {
		t.Fatalf("expected transportID to remain empty, got %q", c.transportID)
	}
}

func TestApplyMediaStatusCapturesSessionID(t *testing.T) {
	c := newTestClient(nil)
	msg := map[string]any{
		"status": []any{
			map[string]any{"mediaSessionId": float64(42)},
		},
	}
	if !c.applyMediaStatus(msg) {
		t.Fatal("expected media status to be captured")
	}
	if c.mediaSessionID != "42" {
		t.Fatalf("unexpected mediaSessionID: %q", c.mediaSessionID)
	}
}

func TestRequestIDsAreMonotonicAndRestartPerChannel(t *testing.T) {
	c := newTestClient(nil)
	first := c.nextRequestID()
	second := c.nextRequestID()
	if second != first+1 {
		t.Fatalf("expected monotonically increasing ids, got %d then %d", first, second)
	}

	c.requestCounter = 0 // simulate a fresh channel, as Connect() does
	restarted := c.nextRequestID()
	if restarted != 1 {
		t.Fatalf("expected request ids to restart at 1 on a new channel, got %d", restarted)
	}
}

// TestHeartbeatDeclaresChannelLostWithoutPong exercises property 10: if no
// PONG arrives within the liveness window, the client transitions to error
// and tears down, without a live network peer.
func TestHeartbeatDeclaresChannelLostWithoutPong(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	c := newTestClient(clientConn)
	// Drain anything the client writes so send() doesn't block on the pipe.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := serverConn.Read(buf); err != nil {
				return
			}
		}
	}()

	origInterval := heartbeatInterval
	origTimeout := heartbeatTimeout
	origWatchdog := watchdogInterval
	defer func() {
		heartbeatInterval = origInterval
		heartbeatTimeout = origTimeout
		watchdogInterval = origWatchdog
	}()
	heartbeatInterval = 10 * time.Millisecond
	heartbeatTimeout = 40 * time.Millisecond
	watchdogInterval = 10 * time.Millisecond

	c.startHeartbeat()

	deadline := time.After(2 * time.Second)
	for {
		if c.State() == StateError {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected channel to be declared lost")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
