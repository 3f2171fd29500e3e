// Package stream implements the bidirectional media-stream channel between
// the agent and the telephony gateway: WebSocket connect with a bounded
// timeout, a browser_connect handshake, periodic heartbeats, typed JSON
// event dispatch, and bounded automatic reconnection with linearly
// increasing delay.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/airdial/airdial/internal/config"
	"github.com/airdial/airdial/internal/observe"
)

// ErrNotConnected is returned by operations that require an open socket.
var ErrNotConnected = errors.New("stream: channel is not connected")

// Handlers receives dispatched gateway events. Any field may be nil; unset
// handlers default to logging only. Handlers are invoked from the channel's
// read goroutine and must not block.
type Handlers struct {
	// OnStreamStart fires when the gateway announces a new media stream.
	// format is the negotiated inbound audio encoding ("" means PCM16LE).
	OnStreamStart func(streamID, callID, format string)

	// OnStreamStop fires when the gateway ends the media stream.
	OnStreamStop func()

	// OnAudio receives base64-encoded inbound audio payloads.
	OnAudio func(payload string)

	// OnMark receives playback-position marks.
	OnMark func(name string)

	// OnDTMF receives DTMF digits detected by the gateway.
	OnDTMF func(digit string)

	// OnDisconnect fires on every unexpected socket drop, before any
	// reconnection attempt. Capture must stop promptly on this signal.
	OnDisconnect func(err error)

	// OnReconnectsExhausted fires after automatic reconnection gives up.
	// A subsequent Connect call is required to recover.
	OnReconnectsExhausted func(err error)
}

// Channel is a single bidirectional socket to the media-stream gateway.
// At most one underlying connection is live at a time: Connect always
// closes and discards any prior socket first, and Close disconnects
// without destroying the channel, so one Channel serves many calls.
// All methods are safe for concurrent use.
type Channel struct {
	log      *slog.Logger
	metrics  *observe.Metrics
	handlers Handlers
	dispatch map[string]func(Envelope)
	sleep    func(ctx context.Context, d time.Duration) bool
	now      func() time.Time

	mu           sync.Mutex
	cfg          config.TransportConfig
	conn         *websocket.Conn
	connDone     chan struct{} // closed when the current socket is discarded
	connected    bool
	streamActive bool
	streamID     string
	callID       string
	gen          int           // invalidates loops of discarded sockets
	cancelRetry  chan struct{} // non-nil while a reconnect loop is pending
}

// Option configures a Channel.
type Option func(*Channel)

// WithSleep overrides the reconnect-delay sleep. Used by tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(c *Channel) { c.sleep = sleep }
}

// WithClock overrides the timestamp source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

// New creates a disconnected Channel. Call Connect to open the socket.
func New(cfg config.TransportConfig, log *slog.Logger, metrics *observe.Metrics, handlers Handlers, opts ...Option) *Channel {
	c := &Channel{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		handlers: handlers,
		now:      time.Now,
	}
	c.sleep = func(ctx context.Context, d time.Duration) bool {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return true
		case <-ctx.Done():
			return false
		}
	}
	c.dispatch = map[string]func(Envelope){
		EventStreamStart:           c.onStreamStart,
		EventStreamStop:            c.onStreamStop,
		EventAudio:                 c.onAudio,
		EventMark:                  c.onMark,
		EventDTMF:                  c.onDTMF,
		EventPong:                  c.onPong,
		EventConnectionEstablished: c.onEstablished,
		EventBrowserConnected:      c.onEstablished,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Retune replaces the transport tunables, typically after a config reload.
// The heartbeat interval and URL apply from the next connection; the
// reconnect delay applies to the next attempt, even inside a reconnection
// loop already running; the attempt cap is read when a loop starts.
func (c *Channel) Retune(cfg config.TransportConfig) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// config returns a snapshot of the transport tunables.
func (c *Channel) config() config.TransportConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Connect opens the socket, sends the browser_connect handshake, and starts
// the read and heartbeat loops. Any previously open socket and any pending
// automatic reconnection are discarded first. The connection attempt is
// bounded by the configured connect timeout.
func (c *Channel) Connect(ctx context.Context) (Status, error) {
	c.cancelPendingRetry()
	return c.connect(ctx)
}

func (c *Channel) connect(ctx context.Context) (Status, error) {
	c.discard(websocket.StatusNormalClosure, "replaced")

	c.mu.Lock()
	c.gen++
	gen := c.gen
	cfg := c.cfg
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, cfg.URL, nil)
	if err != nil {
		return Status{}, fmt.Errorf("stream: dial %s: %w", cfg.URL, err)
	}
	// Inbound audio frames exceed the library's 32 KiB default.
	conn.SetReadLimit(1 << 20)

	if err := c.write(ctx, conn, Envelope{Event: EventBrowserConnect, Timestamp: c.now().UnixMilli()}); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return Status{}, fmt.Errorf("stream: handshake: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	if gen != c.gen {
		// A newer Connect or a Close raced us; discard this socket.
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return Status{}, errors.New("stream: connection superseded")
	}
	c.conn = conn
	c.connDone = done
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	go c.heartbeatLoop(conn, gen, done)

	c.log.Info("media stream connected", "url", cfg.URL)
	return c.Status(), nil
}

// Close disconnects the socket and cancels any pending reconnection. The
// channel stays usable: a later Connect opens a fresh socket. Safe to call
// multiple times and while disconnected.
func (c *Channel) Close() error {
	c.cancelPendingRetry()

	c.mu.Lock()
	c.gen++
	c.streamActive = false
	c.streamID = ""
	c.callID = ""
	c.mu.Unlock()

	c.discard(websocket.StatusNormalClosure, "channel closed")
	return nil
}

// discard drops the current socket, if any, and wakes its loops.
func (c *Channel) discard(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	conn := c.conn
	done := c.connDone
	c.conn = nil
	c.connDone = nil
	c.connected = false
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		conn.Close(code, reason)
	}
}

func (c *Channel) cancelPendingRetry() {
	c.mu.Lock()
	cancel := c.cancelRetry
	c.cancelRetry = nil
	c.mu.Unlock()

	if cancel != nil {
		close(cancel)
	}
}

// Status returns a fresh snapshot of the channel state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Connected:    c.connected,
		StreamActive: c.streamActive,
		StreamID:     c.streamID,
		CallID:       c.callID,
	}
}

// SendAudio transmits one base64-encoded capture frame. When the socket is
// not open the frame is dropped, not buffered: buffering during an outage
// would grow without bound. Reports whether the frame was sent.
func (c *Channel) SendAudio(ctx context.Context, payload string) bool {
	c.mu.Lock()
	conn, open := c.conn, c.connected
	c.mu.Unlock()

	if !open {
		c.metrics.DroppedFrames.Add(ctx, 1)
		return false
	}
	if err := c.write(ctx, conn, Envelope{Event: EventBrowserAudio, Payload: payload}); err != nil {
		c.log.Debug("audio frame send failed", "error", err)
		c.metrics.DroppedFrames.Add(ctx, 1)
		return false
	}
	return true
}

func (c *Channel) write(ctx context.Context, conn *websocket.Conn, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// readLoop receives gateway envelopes and dispatches them until the socket
// fails or is superseded.
func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleReadError(conn, gen, err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("malformed gateway message", "error", err)
			continue
		}
		if h, ok := c.dispatch[env.Event]; ok {
			h(env)
		} else {
			c.log.Warn("unknown gateway event", "event", env.Event)
		}
	}
}

// heartbeatLoop sends a ping every heartbeat interval so that proxies and
// load balancers between the agent and the gateway do not idle the socket
// out.
func (c *Channel) heartbeatLoop(conn *websocket.Conn, gen int, done <-chan struct{}) {
	ticker := time.NewTicker(c.config().Heartbeat())
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		if !c.isCurrent(gen) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.config().ConnectTimeout())
		err := c.write(ctx, conn, Envelope{Event: EventPing, Timestamp: c.now().UnixMilli()})
		cancel()
		if err != nil {
			// The read loop owns failure handling; just stop pinging.
			return
		}
		c.metrics.Heartbeats.Add(context.Background(), 1)
	}
}

func (c *Channel) isCurrent(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

// handleReadError distinguishes deliberate closes from failures and kicks
// off reconnection for the latter.
func (c *Channel) handleReadError(conn *websocket.Conn, gen int, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	done := c.connDone
	c.conn = nil
	c.connDone = nil
	c.connected = false
	c.streamActive = false
	cancel := make(chan struct{})
	c.cancelRetry = cancel
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	conn.Close(websocket.StatusInternalError, "read failed")
	c.log.Warn("media stream dropped", "error", err)
	if c.handlers.OnDisconnect != nil {
		c.handlers.OnDisconnect(err)
	}
	go c.reconnect(err, cancel)
}

// reconnect retries the connection up to the configured cap, waiting
// delay × attempt before each try. After the cap, recovery requires an
// explicit Connect call.
func (c *Channel) reconnect(cause error, cancel <-chan struct{}) {
	ctx := context.Background()
	max := c.config().MaxReconnectAttempts
	for attempt := 1; attempt <= max; attempt++ {
		woke := make(chan struct{})
		go func(d time.Duration) {
			if c.sleep(ctx, d) {
				close(woke)
			}
		}(time.Duration(attempt) * c.config().ReconnectDelay())
		select {
		case <-cancel:
			return
		case <-woke:
		}

		c.log.Info("reconnecting media stream", "attempt", attempt, "max_attempts", max)
		_, err := c.connect(ctx)
		if err == nil {
			c.metrics.Reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))
			c.log.Info("media stream reconnected", "attempt", attempt)
			return
		}
		c.metrics.Reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failure")))
		c.log.Warn("reconnection attempt failed", "attempt", attempt, "error", err)
		cause = err
	}

	c.log.Error("media stream reconnection exhausted", "max_attempts", max, "error", cause)
	if c.handlers.OnReconnectsExhausted != nil {
		c.handlers.OnReconnectsExhausted(cause)
	}
}

// ---- dispatch handlers ----

func (c *Channel) onStreamStart(env Envelope) {
	c.mu.Lock()
	c.streamActive = true
	c.streamID = env.StreamSID
	c.callID = env.CallSID
	c.mu.Unlock()

	c.log.Info("stream started", "stream_sid", env.StreamSID, "call_sid", env.CallSID, "format", env.Format)
	if c.handlers.OnStreamStart != nil {
		c.handlers.OnStreamStart(env.StreamSID, env.CallSID, env.Format)
	}
}

func (c *Channel) onStreamStop(Envelope) {
	c.mu.Lock()
	c.streamActive = false
	c.streamID = ""
	c.callID = ""
	c.mu.Unlock()

	c.log.Info("stream stopped")
	if c.handlers.OnStreamStop != nil {
		c.handlers.OnStreamStop()
	}
}

func (c *Channel) onAudio(env Envelope) {
	if c.handlers.OnAudio != nil {
		c.handlers.OnAudio(env.Payload)
	}
}

func (c *Channel) onMark(env Envelope) {
	c.log.Debug("mark received", "name", env.Name)
	if c.handlers.OnMark != nil {
		c.handlers.OnMark(env.Name)
	}
}

func (c *Channel) onDTMF(env Envelope) {
	c.log.Info("dtmf received", "digit", env.Digit)
	if c.handlers.OnDTMF != nil {
		c.handlers.OnDTMF(env.Digit)
	}
}

func (c *Channel) onPong(Envelope) {
	c.log.Debug("pong received")
}

func (c *Channel) onEstablished(env Envelope) {
	c.log.Info("gateway acknowledged connection", "event", env.Event)
}
