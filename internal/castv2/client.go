package castv2

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"

	"github.com/paulthery/IINA-Cast-Plugin/internal/domain"
)

// Namespaces, §4.3.1.
const (
	NamespaceConnection = "urn:x-cast:com.google.cast.tp.connection"
	NamespaceHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	NamespaceReceiver   = "urn:x-cast:com.google.cast.receiver"
	NamespaceMedia      = "urn:x-cast:com.google.cast.media"
)

const (
	senderID        = "sender-0"
	receiverID      = "receiver-0"
	defaultMediaAppID = "CC1AD845"

	launchFallback = 10 * time.Second
	loadTimeout    = 30 * time.Second
)

// heartbeatInterval/heartbeatTimeout are vars (not consts) so tests can
// shrink them to exercise the liveness watchdog without waiting 15s.
var (
	heartbeatInterval = 5 * time.Second
	heartbeatTimeout  = 15 * time.Second
	watchdogInterval  = 1 * time.Second
)

// State is the client-internal progression through §4.3.1's diagram.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateActive       State = "active"
	StateError        State = "error"
)

// Client is a CASTV2 protocol client for a single Chromecast device. It
// implements the common protocol-client contract (connect, loadMedia,
// play, pause, seek, stop, setVolume, disconnect).
type Client struct {
	addr     string
	deviceID string
	logger   *slog.Logger

	mu    sync.Mutex // guards everything below; also serializes outbound writes (O3/O4)
	conn  net.Conn
	state State

	transportID string
	sessionID   string
	mediaSessionID string

	requestCounter int64 // I4: monotonic per-channel, restarts at 1 on each new channel

	waitersMu sync.Mutex
	waiters   map[int64]chan map[string]any

	heartbeatCancel func()
	lastPong        atomic.Int64 // unix nanos
}

// NewClient returns a CASTV2 client targeting host (no port). Port 8009 is
// fixed per §4.3.1. deviceID is carried only for log attribution. A nil
// logger falls back to slog.Default(); client_test.go builds *Client
// literals directly and never sets logger, so every log call goes through
// the nil-safe log() accessor instead of the field directly.
func NewClient(host, deviceID string, logger *slog.Logger) *Client {
	return &Client{
		addr:     net.JoinHostPort(host, "8009"),
		deviceID: deviceID,
		logger:   logger,
		state:    StateDisconnected,
		waiters:  make(map[int64]chan map[string]any),
	}
}

// log returns c.logger, or slog.Default() if it was never set (zero-value
// *Client literals in tests, or NewClient called with a nil logger).
func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// logAttrs returns the component-scoped attributes every castv2 background
// task log line carries.
func (c *Client) logAttrs() []any {
	return []any{slog.String("component", "castv2"), slog.String("deviceId", c.deviceID), slog.String("addr", c.addr)}
}

// State returns the client's current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) nextRequestID() int64 {
	return atomic.AddInt64(&c.requestCounter, 1)
}

// Connect dials the device, performs the CONNECT/LAUNCH handshake, and
// starts the heartbeat task. On return the client holds transportID and
// sessionID and is ready for LoadMedia.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.state != StateDisconnected && c.state != StateError {
		c.mu.Unlock()
		return domain.NewError(domain.ErrChromecast, "already connected")
	}
	c.state = StateConnecting
	c.requestCounter = 0 // I4: each new channel restarts the counter
	c.mu.Unlock()

	// Self-signed certificates must be accepted unconditionally for the
	// CASTV2 channel (§4.3.1, §9): this tls.Config is distinct from, and
	// never shared with, any other TLS usage in the system.
	tlsConf := &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- CASTV2 devices are self-signed by design
	conn, err := tls.Dial("tcp", c.addr, tlsConf)
	if err != nil {
		c.setState(StateError)
		return domain.WrapError(domain.ErrConnectionFailed, "tls dial failed", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.send(NamespaceConnection, receiverID, map[string]any{"type": "CONNECT"}); err != nil {
		c.teardown()
		return domain.WrapError(domain.ErrConnectionFailed, "connect handshake failed", err)
	}

	c.startHeartbeat()

	if err := c.launchReceiver(); err != nil {
		c.teardown()
		return err
	}

	if err := c.send(NamespaceConnection, c.transportIDLocked(), map[string]any{"type": "CONNECT"}); err != nil {
		c.teardown()
		return domain.WrapError(domain.ErrConnectionFailed, "transport connect failed", err)
	}

	c.setState(StateConnecting) // awaiting LoadMedia; becomes StateActive once MEDIA_STATUS is captured
	return nil
}

func (c *Client) transportIDLocked() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transportID
}

// launchReceiver sends LAUNCH and correlates the response by requestId per
// SPEC_FULL.md's resolution of the "fixed 2s wait" open question: accept a
// RECEIVER_STATUS carrying the matching requestId, or fall back to
// inspecting the last-captured application after launchFallback elapses.
func (c *Client) launchReceiver() error {
	reqID := c.nextRequestID()
	waiter := c.registerWaiter(reqID)
	defer c.unregisterWaiter(reqID)

	if err := c.send(NamespaceReceiver, receiverID, map[string]any{
		"type":      "LAUNCH",
		"requestId": reqID,
		"appId":     defaultMediaAppID,
	}); err != nil {
		return domain.WrapError(domain.ErrConnectionFailed, "launch send failed", err)
	}

	timer := time.NewTimer(launchFallback)
	defer timer.Stop()

	select {
	case msg, ok := <-waiter:
		if !ok {
			return domain.NewError(domain.ErrConnectionFailed, "channel closed awaiting launch response")
		}
		if !c.applyReceiverStatus(msg) {
			return domain.NewError(domain.ErrChromecast, "launch response missing default media receiver application")
		}
	case <-timer.C:
		// Fallback: a RECEIVER_STATUS may have arrived without a matching
		// requestId (some devices broadcast unsolicited status). Check
		// whether the general dispatch path already captured it.
		c.mu.Lock()
		hasApp := c.transportID != "" && c.sessionID != ""
		c.mu.Unlock()
		if !hasApp {
			return domain.NewError(domain.ErrTimeout, "timed out waiting for RECEIVER_STATUS")
		}
	}

	if c.transportIDLocked() == "" {
		return domain.NewError(domain.ErrChromecast, "no transportId after launch")
	}
	return nil
}

// applyReceiverStatus extracts transportId/sessionId from a RECEIVER_STATUS
// payload's first application whose appId matches the default media
// receiver, and reports whether it found one.
func (c *Client) applyReceiverStatus(msg map[string]any) bool {
	status, _ := msg["status"].(map[string]any)
	if status == nil {
		return false
	}
	apps, _ := status["applications"].([]any)
	for _, a := range apps {
		app, _ := a.(map[string]any)
		if app == nil {
			continue
		}
		appID, _ := app["appId"].(string)
		if appID != defaultMediaAppID {
			continue
		}
		transportID, _ := app["transportId"].(string)
		sessionID, _ := app["sessionId"].(string)
		if transportID == "" {
			continue
		}
		c.mu.Lock()
		c.transportID = transportID
		c.sessionID = sessionID
		c.mu.Unlock()
		return true
	}
	return false
}

// LoadMedia drives the LOAD sequence and captures the media session id.
func (c *Client) LoadMedia(url string, startPosition float64) error {
	transportID := c.transportIDLocked()
	if transportID == "" {
		return domain.NewError(domain.ErrChromecast, "cannot load before connect")
	}

	reqID := c.nextRequestID()
	waiter := c.registerWaiter(reqID)
	defer c.unregisterWaiter(reqID)

	payload := map[string]any{
		"type":        "LOAD",
		"requestId":   reqID,
		"autoplay":    true,
		"currentTime": startPosition,
		"media": map[string]any{
			"contentId":   url,
			"contentType": "video/mp4",
			"streamType":  "BUFFERED",
		},
	}
	if err := c.send(NamespaceMedia, transportID, payload); err != nil {
		return domain.WrapError(domain.ErrConnectionFailed, "load send failed", err)
	}

	select {
	case msg, ok := <-waiter:
		if !ok {
			return domain.NewError(domain.ErrConnectionFailed, "channel closed awaiting media status")
		}
		if !c.applyMediaStatus(msg) {
			return domain.NewError(domain.ErrChromecast, "media status missing mediaSessionId")
		}
		c.setState(StateActive)
		return nil
	case <-time.After(loadTimeout):
		return domain.NewError(domain.ErrTimeout, "timed out waiting for MEDIA_STATUS")
	}
}

func (c *Client) applyMediaStatus(msg map[string]any) bool {
	statusList, _ := msg["status"].([]any)
	for _, s := range statusList {
		entry, _ := s.(map[string]any)
		if entry == nil {
			continue
		}
		switch v := entry["mediaSessionId"].(type) {
		case float64:
			c.mu.Lock()
			c.mediaSessionID = fmt.Sprintf("%d", int64(v))
			c.mu.Unlock()
			return true
		case string:
			if v == "" {
				continue
			}
			c.mu.Lock()
			c.mediaSessionID = v
			c.mu.Unlock()
			return true
		}
	}
	return false
}

func (c *Client) mediaCommand(msgType string, extra map[string]any) error {
	transportID := c.transportIDLocked()
	c.mu.Lock()
	mediaSessionID := c.mediaSessionID
	c.mu.Unlock()
	if transportID == "" || mediaSessionID == "" {
		return domain.NewError(domain.ErrChromecast, "no active media session")
	}
	payload := map[string]any{
		"type":           msgType,
		"requestId":      c.nextRequestID(),
		"mediaSessionId": mediaSessionID,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := c.send(NamespaceMedia, transportID, payload); err != nil {
		return domain.WrapError(domain.ErrConnectionFailed, msgType+" send failed", err)
	}
	return nil
}

func (c *Client) Play() error  { return c.mediaCommand("PLAY", nil) }
func (c *Client) Pause() error { return c.mediaCommand("PAUSE", nil) }
func (c *Client) Stop() error  { return c.mediaCommand("STOP", nil) }

func (c *Client) Seek(position float64) error {
	return c.mediaCommand("SEEK", map[string]any{"currentTime": position})
}

// SetVolume expects level in 0..1 (the coordinator is responsible for the
// 0..100 → 0..1 mapping per §4.4).
func (c *Client) SetVolume(level float64) error {
	if err := c.send(NamespaceReceiver, receiverID, map[string]any{
		"type":      "SET_VOLUME",
		"requestId": c.nextRequestID(),
		"volume":    map[string]any{"level": level},
	}); err != nil {
		return domain.WrapError(domain.ErrConnectionFailed, "set volume failed", err)
	}
	return nil
}

// Disconnect tears the channel down cleanly (no error state).
func (c *Client) Disconnect() error {
	c.teardown()
	return nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// send serializes one JSON payload and writes the framed message. Outbound
// writes are serialized under mu (O3/O4): heartbeat PINGs and user
// messages never interleave mid-frame.
func (c *Client) send(namespace, destination string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.NewError(domain.ErrConnectionFailed, "no connection")
	}

	msg := CastMessage{
		SourceID:      senderID,
		DestinationID: destination,
		Namespace:     namespace,
		PayloadType:   PayloadTypeString,
		PayloadUTF8:   string(body),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return domain.NewError(domain.ErrConnectionFailed, "no connection")
	}
	return WriteFrame(c.conn, msg)
}

func (c *Client) registerWaiter(reqID int64) chan map[string]any {
	ch := make(chan map[string]any, 1)
	c.waitersMu.Lock()
	c.waiters[reqID] = ch
	c.waitersMu.Unlock()
	return ch
}

func (c *Client) unregisterWaiter(reqID int64) {
	c.waitersMu.Lock()
	delete(c.waiters, reqID)
	c.waitersMu.Unlock()
}

// readLoop is the single inbound dispatcher (O3: inbound frames delivered
// to it in receive order). Every payload's "type" is sniffed with
// jsonparser before a full json.Unmarshal, mirroring the lightweight
// type-dispatch idiom used for inbound Chromecast frames.
func (c *Client) readLoop(conn net.Conn) {
	for {
		msg, err := ReadFrame(conn)
		if err != nil {
			c.onChannelLost(errors.Wrap(err, "read frame"))
			return
		}

		raw := []byte(msg.PayloadUTF8)
		msgType, typeErr := jsonparser.GetString(raw, "type")

		var decoded map[string]any
		if jsonErr := json.Unmarshal(raw, &decoded); jsonErr != nil {
			// malformed payload; log-and-ignore per §7
			c.log().Debug("malformed_payload", append(c.logAttrs(), slog.String("error", jsonErr.Error()))...)
			continue
		}

		if typeErr == nil {
			switch msgType {
			case "RECEIVER_STATUS":
				c.applyReceiverStatus(decoded)
			case "MEDIA_STATUS":
				c.applyMediaStatus(decoded)
			case "PONG":
				c.lastPong.Store(time.Now().UnixNano())
			}
		}

		if reqIDRaw, ok := decoded["requestId"]; ok {
			if reqIDFloat, ok := reqIDRaw.(float64); ok {
				c.waitersMu.Lock()
				ch, ok := c.waiters[int64(reqIDFloat)]
				c.waitersMu.Unlock()
				if ok {
					select {
					case ch <- decoded:
					default:
					}
				}
			}
		}
	}
}

// startHeartbeat implements §4.3.1's liveness policy: PING every 5s; the
// channel is declared lost if no PONG arrives within 15s, detected by a
// liveness timer independent of the send cadence so the transition
// happens within about one second of the 15s mark (property 10), not only
// on the next 5s tick.
func (c *Client) startHeartbeat() {
	c.lastPong.Store(time.Now().UnixNano())
	done := make(chan struct{})
	ticker := time.NewTicker(heartbeatInterval)
	watchdog := time.NewTicker(watchdogInterval)

	c.log().Info("heartbeat_started", c.logAttrs()...)

	go func() {
		defer ticker.Stop()
		defer watchdog.Stop()
		for {
			select {
			case <-done:
				c.log().Info("heartbeat_stopped", c.logAttrs()...)
				return
			case <-ticker.C:
				_ = c.send(NamespaceHeartbeat, receiverID, map[string]any{"type": "PING"})
			case <-watchdog.C:
				last := time.Unix(0, c.lastPong.Load())
				if time.Since(last) > heartbeatTimeout {
					c.onChannelLost(domain.NewError(domain.ErrConnectionFailed, "heartbeat: no PONG within 15s"))
					return
				}
			}
		}
	}()

	c.mu.Lock()
	c.heartbeatCancel = func() { close(done) }
	c.mu.Unlock()
}

// onChannelLost implements the heartbeat/read failure path: transition to
// error, tear down TLS, cancel the heartbeat task (I6), and fail any
// in-flight operation with a connection-lost error.
func (c *Client) onChannelLost(cause error) {
	c.mu.Lock()
	// StateDisconnected means teardown already closed the channel on
	// purpose; the read error that follows is not a loss.
	if c.state == StateError || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateError
	conn := c.conn
	c.conn = nil
	cancel := c.heartbeatCancel
	c.heartbeatCancel = nil
	c.mu.Unlock()

	c.log().Warn("channel_lost", append(c.logAttrs(), slog.String("error", cause.Error()))...)

	if conn != nil {
		_ = conn.Close()
	}
	if cancel != nil {
		cancel() // a loss found by readLoop then logs heartbeat_stopped via the done-channel branch; a watchdog-found loss has already left that loop
	}

	c.waitersMu.Lock()
	for id, ch := range c.waiters {
		close(ch)
		delete(c.waiters, id)
	}
	c.waitersMu.Unlock()
}

func (c *Client) teardown() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	cancel := c.heartbeatCancel
	c.heartbeatCancel = nil
	c.state = StateDisconnected
	c.transportID = ""
	c.sessionID = ""
	c.mediaSessionID = ""
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}
