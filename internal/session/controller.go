// Package session owns the telephony device lifecycle: registration with
// the vendor SDK, the call state machine, capability-token refresh, and the
// bridge between vendor callbacks and the capture/playback pipelines.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/airdial/airdial/internal/capture"
	"github.com/airdial/airdial/internal/config"
	"github.com/airdial/airdial/internal/notify"
	"github.com/airdial/airdial/internal/observe"
	"github.com/airdial/airdial/internal/stream"
	"github.com/airdial/airdial/pkg/telephony"
)

// MediaChannel is the gateway socket the controller opens per call.
// Implemented by [stream.Channel].
type MediaChannel interface {
	Connect(ctx context.Context) (stream.Status, error)
	Close() error
	Status() stream.Status
	SendAudio(ctx context.Context, payload string) bool
}

// CapturePipeline is the outbound audio pipeline.
type CapturePipeline interface {
	Start(ctx context.Context, sender capture.Sender, streamID string) bool
	Stop()
	SetInputDevice(id string)
}

// PlaybackPipeline is the inbound audio pipeline.
type PlaybackPipeline interface {
	Enqueue(payload string)
	Clear()
	SetFormat(format string) error
	SetOutputDevice(id string)
}

// CallRecorder persists call history. Implementations must not block.
type CallRecorder interface {
	CallStarted(info telephony.CallInfo, at time.Time)
	CallEnded(callSID string, at time.Time)
}

// Deps are the collaborators a [Controller] drives. Device, Tokens,
// Capture, Playback, Notifier, Log, and Metrics are required; Recorder is
// optional.
type Deps struct {
	Device   telephony.Device
	Tokens   telephony.TokenSource
	Capture  CapturePipeline
	Playback PlaybackPipeline
	Notifier *notify.Notifier
	Recorder CallRecorder
	Log      *slog.Logger
	Metrics  *observe.Metrics
}

// Status is a snapshot of the controller, recomputed on demand.
type Status struct {
	State              State         `json:"state"`
	CallSID            string        `json:"callSid,omitempty"`
	CallTo             string        `json:"callTo,omitempty"`
	Muted              bool          `json:"muted"`
	ManualInitRequired bool          `json:"manualInitRequired"`
	Channel            stream.Status `json:"channel"`
}

// Controller drives one softphone endpoint: at most one active call at a
// time, state transitions from vendor callbacks, and proactive token
// refresh. All methods are safe for concurrent use.
type Controller struct {
	cfg      config.TelephonyConfig
	dev      telephony.Device
	tokens   telephony.TokenSource
	capture  CapturePipeline
	playback PlaybackPipeline
	notifier *notify.Notifier
	recorder CallRecorder
	log      *slog.Logger
	metrics  *observe.Metrics
	newID    func() string
	sleep    func(ctx context.Context, d time.Duration) bool
	now      func() time.Time

	mu           sync.Mutex
	state        State
	channel      MediaChannel
	conn         telephony.Connection
	manualInit   bool
	recovering   bool
	refreshTimer *time.Timer
}

// Option configures a Controller.
type Option func(*Controller)

// WithIDGenerator overrides stream-correlation ID minting. Used by tests.
func WithIDGenerator(newID func() string) Option {
	return func(c *Controller) { c.newID = newID }
}

// WithSleep overrides the delay between automatic init attempts. Used by
// tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// New creates an offline Controller. Attach the media channel with
// [Controller.AttachChannel], then call Initialize or AutoInitialize.
func New(cfg config.TelephonyConfig, deps Deps, opts ...Option) *Controller {
	c := &Controller{
		cfg:      cfg,
		dev:      deps.Device,
		tokens:   deps.Tokens,
		capture:  deps.Capture,
		playback: deps.Playback,
		notifier: deps.Notifier,
		recorder: deps.Recorder,
		log:      deps.Log,
		metrics:  deps.Metrics,
		newID:    uuid.NewString,
		now:      time.Now,
		state:    StateOffline,
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
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AttachChannel wires the media-stream channel. Must be called before the
// first call; the channel's Handlers must come from
// [Controller.ChannelHandlers].
func (c *Controller) AttachChannel(ch MediaChannel) {
	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()
}

// ChannelHandlers returns the event handlers bridging the media stream to
// the pipelines. Pass them to [stream.New].
func (c *Controller) ChannelHandlers() stream.Handlers {
	return stream.Handlers{
		OnStreamStart: c.handleStreamStart,
		OnStreamStop:  c.handleStreamStop,
		OnAudio:       func(payload string) { c.playback.Enqueue(payload) },
		OnDisconnect: func(err error) {
			// A dead socket means frames go nowhere; release the mic now.
			c.capture.Stop()
		},
		OnReconnectsExhausted: func(err error) {
			c.notifier.Error("Call audio streaming lost. Reconnect to restore streaming.")
		},
	}
}

func (c *Controller) handleStreamStart(streamID, callID, format string) {
	if err := c.playback.SetFormat(format); err != nil {
		c.log.Warn("unsupported stream format, keeping previous decoder", "format", format, "error", err)
	}

	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return
	}
	if !c.capture.Start(context.Background(), ch, streamID) {
		c.notifier.Error(UserMessage(ErrorClassMicrophone))
	}
}

func (c *Controller) handleStreamStop() {
	c.capture.Stop()
	c.playback.Clear()
}

// deviceEvents builds the vendor callback set.
func (c *Controller) deviceEvents() telephony.Events {
	return telephony.Events{
		OnReady:           c.handleReady,
		OnError:           c.handleDeviceError,
		OnConnect:         c.handleConnect,
		OnDisconnect:      c.handleDisconnect,
		OnIncoming:        c.handleIncoming,
		OnTokenWillExpire: func() { c.RefreshToken(context.Background()) },
	}
}

// Initialize fetches a capability token and registers the device. The
// ready transition arrives asynchronously through the vendor's ready
// callback. Explicit initialization always resets the manual-retry latch.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateBusy:
		c.mu.Unlock()
		return errors.New("session: cannot initialize during an active call")
	case StateInitializing:
		c.mu.Unlock()
		return errors.New("session: initialization already in progress")
	}
	c.manualInit = false
	c.mu.Unlock()

	c.setState(StateInitializing)

	tok, err := c.tokens.Token(ctx)
	if err != nil {
		c.fail(err)
		return fmt.Errorf("session: fetch token: %w", err)
	}
	if err := c.dev.Register(ctx, tok.Value, c.deviceEvents()); err != nil {
		c.fail(err)
		return fmt.Errorf("session: register device: %w", err)
	}
	c.scheduleRefresh(tok)
	return nil
}

// fail degrades a failed initialization into the error state and tells the
// user what went wrong, classified so token and microphone problems read
// differently from generic ones.
func (c *Controller) fail(err error) {
	class := Classify(err)
	c.log.Error("initialization failed", "class", string(class), "error", err)
	c.notifier.Error(UserMessage(class))
	c.setState(StateError)
}

// AutoInitialize retries Initialize up to the configured attempt cap. After
// exhaustion it latches manual-init mode: the status surface reports that
// an explicit initialize action is required, instead of failing silently.
func (c *Controller) AutoInitialize(ctx context.Context) {
	attempts := c.cfg.InitAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.Initialize(ctx)
		if err == nil {
			return
		}
		c.log.Warn("automatic initialization failed", "attempt", attempt, "max_attempts", attempts, "error", err)
		if attempt < attempts && !c.sleep(ctx, time.Second) {
			return
		}
	}

	c.mu.Lock()
	c.manualInit = true
	c.mu.Unlock()
	c.notifier.Warn("Phone setup failed. Use the initialize action to retry.")
}

// RefreshToken fetches a fresh capability token and pushes it into the
// live session without interrupting an active call. Failures are logged;
// the session keeps running until the old token actually lapses.
func (c *Controller) RefreshToken(ctx context.Context) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		c.metrics.TokenRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		c.log.Error("token refresh failed", "error", err)
		return
	}
	if err := c.dev.UpdateToken(tok.Value); err != nil {
		c.metrics.TokenRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		c.log.Error("token update rejected by device", "error", err)
		return
	}
	c.metrics.TokenRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "ok")))
	c.log.Info("capability token refreshed", "expires_at", tok.ExpiresAt)
	c.scheduleRefresh(tok)
}

// scheduleRefresh arms a timer to refresh the token a margin before expiry,
// as a backstop for vendors that never fire tokenWillExpire.
func (c *Controller) scheduleRefresh(tok telephony.Token) {
	wait := time.Until(tok.ExpiresAt) - c.cfg.TokenRefreshMargin()
	if wait <= 0 {
		return
	}

	c.mu.Lock()
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
	}
	c.refreshTimer = time.AfterFunc(wait, func() { c.RefreshToken(context.Background()) })
	c.mu.Unlock()
}

// Dial places an outbound call. The busy transition arrives through the
// vendor's connect callback once the leg is established.
func (c *Controller) Dial(ctx context.Context, to string) error {
	c.mu.Lock()
	if c.state != StateReady {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("session: cannot dial in state %q", state)
	}
	c.mu.Unlock()

	c.setState(StateConnecting)
	params := telephony.CallParams{
		To:       to,
		From:     c.cfg.CallerID,
		StreamID: c.newID(),
	}
	c.log.Info("dialling", "to", to, "stream_id", params.StreamID)

	if _, err := c.dev.Dial(ctx, params); err != nil {
		c.setState(StateReady)
		class := Classify(err)
		c.notifier.Error(UserMessage(class))
		return fmt.Errorf("session: dial: %w", err)
	}
	return nil
}

// Hangup disconnects the active call. The ready transition arrives through
// the vendor's disconnect callback.
func (c *Controller) Hangup() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errors.New("session: no active call")
	}
	return conn.Disconnect()
}

// SetMuted mutes or unmutes the active call leg.
func (c *Controller) SetMuted(muted bool) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errors.New("session: no active call")
	}
	return conn.SetMuted(muted)
}

// SendDigits transmits DTMF digits on the active call leg.
func (c *Controller) SendDigits(digits string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errors.New("session: no active call")
	}
	return conn.SendDigits(digits)
}

// SetInputDevice routes capture to the given device on both the vendor SDK
// and the capture pipeline.
func (c *Controller) SetInputDevice(id string) error {
	c.capture.SetInputDevice(id)
	return c.dev.SetInputDevice(id)
}

// SetSpeakerDevice routes call audio to the given device on both the
// vendor SDK and the playback pipeline.
func (c *Controller) SetSpeakerDevice(id string) error {
	c.playback.SetOutputDevice(id)
	return c.dev.SetSpeakerDevice(id)
}

// TestSpeaker plays a short test tone on the current speaker device.
func (c *Controller) TestSpeaker(ctx context.Context) error {
	return c.dev.TestSpeaker(ctx)
}

// InputLevel reports the current microphone level in [0, 1].
func (c *Controller) InputLevel() float64 {
	return c.dev.InputLevel()
}

// Status returns a fresh controller snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		State:              c.state,
		ManualInitRequired: c.manualInit,
	}
	conn := c.conn
	ch := c.channel
	c.mu.Unlock()

	if conn != nil {
		info := conn.Info()
		st.CallSID = info.CallSID
		st.CallTo = info.To
		st.Muted = conn.Muted()
	}
	if ch != nil {
		st.Channel = ch.Status()
	}
	return st
}

// Close hangs up, stops the pipelines, disarms the refresh timer, and
// releases the vendor device. Safe to call multiple times.
func (c *Controller) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	ch := c.channel
	timer := c.refreshTimer
	c.refreshTimer = nil
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			c.log.Warn("hangup on close failed", "error", err)
		}
	}
	c.capture.Stop()
	c.playback.Clear()
	if ch != nil {
		if err := ch.Close(); err != nil {
			c.log.Warn("channel close failed", "error", err)
		}
	}
	c.setState(StateOffline)
	return c.dev.Close()
}

// ---- vendor callbacks ----

func (c *Controller) handleReady() {
	c.setState(StateReady)
	c.notifier.Info("Phone ready for calls.")
}

// handleDeviceError classifies the failure and notifies once per cooldown
// window. An error during an active call is reported but does not tear the
// call down; otherwise the controller degrades to the error state and a
// bounded re-initialization round starts.
func (c *Controller) handleDeviceError(err error) {
	class := Classify(err)
	c.log.Error("vendor device error", "class", string(class), "error", err)
	c.notifier.Error(UserMessage(class))

	c.mu.Lock()
	inCall := c.conn != nil
	c.mu.Unlock()
	if inCall {
		return
	}
	c.setState(StateError)
	c.autoRecover()
}

// autoRecover runs one AutoInitialize round off the callback goroutine. At
// most one round runs at a time, and none starts while the manual latch
/// from an exhausted earlier round is still set: recovery stays bounded
// instead of looping against a persistently failing vendor.
func (c *Controller) autoRecover() {
	c.mu.Lock()
	if c.recovering || c.manualInit {
		c.mu.Unlock()
		return
	}
	c.recovering = true
	c.mu.Unlock()

	go func() {
		c.AutoInitialize(context.Background())
		c.mu.Lock()
		c.recovering = false
		c.mu.Unlock()
	}()
}

func (c *Controller) handleConnect(conn telephony.Connection) {
	c.mu.Lock()
	c.conn = conn
	ch := c.channel
	c.mu.Unlock()

	info := conn.Info()
	c.setState(StateBusy)
	c.metrics.ActiveCalls.Add(context.Background(), 1)
	c.log.Info("call connected", "call_sid", info.CallSID, "direction", string(info.Direction), "to", info.To)

	if c.recorder != nil {
		c.recorder.CallStarted(info, c.now())
	}
	if ch != nil {
		if _, err := ch.Connect(context.Background()); err != nil {
			c.log.Error("media channel connect failed", "error", err)
			c.notifier.Warn("Call connected, but audio streaming is unavailable.")
		}
	}
}

func (c *Controller) handleDisconnect(conn telephony.Connection) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	ch := c.channel
	c.mu.Unlock()

	info := conn.Info()
	c.log.Info("call ended", "call_sid", info.CallSID)
	c.metrics.ActiveCalls.Add(context.Background(), -1)

	c.capture.Stop()
	c.playback.Clear()
	if ch != nil {
		if err := ch.Close(); err != nil {
			c.log.Warn("channel close failed", "error", err)
		}
	}
	if c.recorder != nil {
		c.recorder.CallEnded(info.CallSID, c.now())
	}
	c.setState(StateReady)
}

// handleIncoming answers an offered call when idle and rejects it when a
// leg is already active: one call per endpoint.
func (c *Controller) handleIncoming(conn telephony.Connection) {
	c.mu.Lock()
	busy := c.conn != nil
	c.mu.Unlock()

	info := conn.Info()
	if busy {
		c.log.Warn("rejecting inbound call while busy", "call_sid", info.CallSID)
		if err := conn.Disconnect(); err != nil {
			c.log.Warn("inbound reject failed", "error", err)
		}
		return
	}

	c.log.Info("answering inbound call", "call_sid", info.CallSID, "from", info.From)
	c.setState(StateConnecting)
	if err := conn.Accept(context.Background()); err != nil {
		c.log.Error("inbound accept failed", "error", err)
		c.notifier.Error(UserMessage(Classify(err)))
		c.setState(StateReady)
	}
}

// setState applies a transition, logging unexpected edges rather than
// refusing them so a missed vendor callback cannot wedge the controller.
func (c *Controller) setState(to State) {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return
	}
	c.state = to
	c.mu.Unlock()

	if !transitionValid(from, to) {
		c.log.Warn("unexpected state transition", "from", string(from), "to", string(to))
	}
	c.log.Info("session state changed", "from", string(from), "to", string(to))
	c.metrics.StateTransitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

// CurrentState returns the controller's lifecycle phase.
func (c *Controller) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
