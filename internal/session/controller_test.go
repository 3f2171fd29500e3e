package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/airdial/airdial/internal/capture"
	"github.com/airdial/airdial/internal/config"
	"github.com/airdial/airdial/internal/notify"
	"github.com/airdial/airdial/internal/observe"
	"github.com/airdial/airdial/internal/stream"
	"github.com/airdial/airdial/pkg/telephony"
	telmock "github.com/airdial/airdial/pkg/telephony/mock"
)

// ─── collaborator fakes ───────────────────────────────────────────────────────

type fakeChannel struct {
	mu         sync.Mutex
	connects   int
	closes     int
	connectErr error
	connected  bool
}

func (f *fakeChannel) Connect(context.Context) (stream.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return stream.Status{}, f.connectErr
	}
	f.connected = true
	return stream.Status{Connected: true}, nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.connected = false
	return nil
}

func (f *fakeChannel) Status() stream.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return stream.Status{Connected: f.connected}
}

func (f *fakeChannel) SendAudio(context.Context, string) bool { return true }

type fakeCapture struct {
	mu        sync.Mutex
	started   []string
	stops     int
	inputs    []string
	startFail bool
}

func (f *fakeCapture) Start(_ context.Context, _ capture.Sender, streamID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startFail {
		return false
	}
	f.started = append(f.started, streamID)
	return true
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeCapture) SetInputDevice(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, id)
}

type fakePlayback struct {
	mu       sync.Mutex
	enqueued []string
	clears   int
	formats  []string
	outputs  []string
}

func (f *fakePlayback) Enqueue(payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, payload)
}

func (f *fakePlayback) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
}

func (f *fakePlayback) SetFormat(format string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.formats = append(f.formats, format)
	return nil
}

func (f *fakePlayback) SetOutputDevice(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs = append(f.outputs, id)
}

type fakeRecorder struct {
	mu      sync.Mutex
	started []telephony.CallInfo
	ended   []string
}

func (f *fakeRecorder) CallStarted(info telephony.CallInfo, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, info)
}

func (f *fakeRecorder) CallEnded(callSID string, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, callSID)
}

// ─── fixture ──────────────────────────────────────────────────────────────────

type fixture struct {
	ctrl     *Controller
	dev      *telmock.Device
	tokens   *telmock.TokenSource
	channel  *fakeChannel
	capture  *fakeCapture
	playback *fakePlayback
	recorder *fakeRecorder
	notes    func() []notify.Notification
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dev:      &telmock.Device{},
		tokens:   &telmock.TokenSource{},
		channel:  &fakeChannel{},
		capture:  &fakeCapture{},
		playback: &fakePlayback{},
		recorder: &fakeRecorder{},
	}

	notifier := notify.New(slog.Default(), 3*time.Second)
	var notes []notify.Notification
	var mu sync.Mutex
	notifier.Subscribe(func(n notify.Notification) {
		mu.Lock()
		notes = append(notes, n)
		mu.Unlock()
	})
	f.notes = func() []notify.Notification {
		mu.Lock()
		defer mu.Unlock()
		out := make([]notify.Notification, len(notes))
		copy(out, notes)
		return out
	}

	cfg := config.TelephonyConfig{
		CallerID:                  "+15550100",
		InitAttempts:              3,
		NotifyCooldownSeconds:     3,
		TokenRefreshMarginSeconds: 30,
	}
	f.ctrl = New(cfg, Deps{
		Device:   f.dev,
		Tokens:   f.tokens,
		Capture:  f.capture,
		Playback: f.playback,
		Notifier: notifier,
		Recorder: f.recorder,
		Log:      slog.Default(),
		Metrics:  observe.NopMetrics(),
	},
		WithIDGenerator(func() string { return "stream-1" }),
		WithSleep(func(context.Context, time.Duration) bool { return true }),
	)
	f.ctrl.AttachChannel(f.channel)
	return f
}

func (f *fixture) initializeReady(t *testing.T) {
	t.Helper()
	if err := f.ctrl.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	f.dev.FireReady()
	if got := f.ctrl.CurrentState(); got != StateReady {
		t.Fatalf("state after ready callback = %q, want ready", got)
	}
}

// waitFor polls cond until it holds or two seconds pass. Recovery after a
// device error runs on its own goroutine, so these tests observe it by
// polling the controller's public state.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// ─── tests ────────────────────────────────────────────────────────────────────

func TestInitialize_RegistersWithFetchedToken(t *testing.T) {
	f := newFixture(t)
	f.tokens.TokenResult = telephony.Token{Value: "tok-abc"}

	if err := f.ctrl.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := f.ctrl.CurrentState(); got != StateInitializing {
		t.Errorf("state = %q, want initializing until the ready callback", got)
	}
	if len(f.dev.RegisterCalls) != 1 || f.dev.RegisterCalls[0] != "tok-abc" {
		t.Errorf("RegisterCalls = %v", f.dev.RegisterCalls)
	}

	f.dev.FireReady()
	if got := f.ctrl.CurrentState(); got != StateReady {
		t.Errorf("state = %q, want ready", got)
	}
}

func TestInitialize_TokenFetchFailure(t *testing.T) {
	f := newFixture(t)
	f.tokens.TokenError = errors.New("issuer unreachable")

	if err := f.ctrl.Initialize(context.Background()); err == nil {
		t.Fatal("Initialize should surface the token failure")
	}
	if got := f.ctrl.CurrentState(); got != StateError {
		t.Errorf("state = %q, want error", got)
	}
	if notes := f.notes(); len(notes) == 0 || notes[len(notes)-1].Message != UserMessage(ErrorClassGeneric) {
		t.Errorf("notifications = %v, want a classified failure message", notes)
	}
}

func TestAutoInitialize_ExhaustsAttemptsThenLatchesManual(t *testing.T) {
	f := newFixture(t)
	f.dev.RegisterError = errors.New("registration refused")

	f.ctrl.AutoInitialize(context.Background())

	if got := len(f.dev.RegisterCalls); got != 3 {
		t.Errorf("register attempts = %d, want 3", got)
	}
	if !f.ctrl.Status().ManualInitRequired {
		t.Error("manual initialization should be required after exhausting attempts")
	}

	// An explicit Initialize clears the latch.
	f.dev.RegisterError = nil
	if err := f.ctrl.Initialize(context.Background()); err != nil {
		t.Fatalf("manual Initialize: %v", err)
	}
	if f.ctrl.Status().ManualInitRequired {
		t.Error("manual-init latch should reset on explicit Initialize")
	}
}

func TestDial_PlacesCallAndConnectsChannel(t *testing.T) {
	f := newFixture(t)
	f.initializeReady(t)

	if err := f.ctrl.Dial(context.Background(), "+15550123"); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if got := f.ctrl.CurrentState(); got != StateConnecting {
		t.Errorf("state = %q, want connecting until the connect callback", got)
	}

	params := f.dev.DialCalls[0]
	if params.To != "+15550123" || params.From != "+15550100" || params.StreamID != "stream-1" {
		t.Errorf("dial params = %+v", params)
	}

	conn := &telmock.Connection{InfoResult: telephony.CallInfo{CallSID: "CA1", To: "+15550123"}}
	f.dev.FireConnect(conn)

	if got := f.ctrl.CurrentState(); got != StateBusy {
		t.Errorf("state = %q, want busy", got)
	}
	if f.channel.connects != 1 {
		t.Errorf("channel connects = %d, want 1", f.channel.connects)
	}
	if len(f.recorder.started) != 1 || f.recorder.started[0].CallSID != "CA1" {
		t.Errorf("recorder started = %v", f.recorder.started)
	}

	st := f.ctrl.Status()
	if st.CallSID != "CA1" || st.CallTo != "+15550123" {
		t.Errorf("status = %+v", st)
	}
}

func TestDial_RequiresReadyState(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.Dial(context.Background(), "+15550123"); err == nil {
		t.Error("Dial before initialization should fail")
	}
}

func TestDisconnect_TearsDownPipelinesAndChannel(t *testing.T) {
	f := newFixture(t)
	f.initializeReady(t)

	conn := &telmock.Connection{InfoResult: telephony.CallInfo{CallSID: "CA1"}}
	f.dev.FireConnect(conn)
	f.dev.FireDisconnect(conn)

	if got := f.ctrl.CurrentState(); got != StateReady {
		t.Errorf("state = %q, want ready after hangup", got)
	}
	if f.capture.stops == 0 {
		t.Error("capture should stop when the call ends")
	}
	if f.playback.clears == 0 {
		t.Error("playback queue should clear when the call ends")
	}
	if f.channel.closes == 0 {
		t.Error("media channel should close when the call ends")
	}
	if len(f.recorder.ended) != 1 || f.recorder.ended[0] != "CA1" {
		t.Errorf("recorder ended = %v", f.recorder.ended)
	}
}

func TestHangup_DisconnectsActiveLeg(t *testing.T) {
	f := newFixture(t)
	f.initializeReady(t)

	conn := &telmock.Connection{}
	f.dev.FireConnect(conn)

	if err := f.ctrl.Hangup(); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if conn.CallCountDisconnect != 1 {
		t.Errorf("Disconnect called %d times, want 1", conn.CallCountDisconnect)
	}

	f.dev.FireDisconnect(conn)
	if err := f.ctrl.Hangup(); err == nil {
		t.Error("Hangup with no active call should fail")
	}
}

func TestIncoming_AnsweredWhenIdleRejectedWhenBusy(t *testing.T) {
	f := newFixture(t)
	f.initializeReady(t)

	inbound := &telmock.Connection{InfoResult: telephony.CallInfo{
		CallSID:   "CA-in",
		Direction: telephony.DirectionInbound,
		From:      "+15550199",
	}}
	f.dev.FireIncoming(inbound)
	if inbound.CallCountAccept != 1 {
		t.Errorf("inbound call accepted %d times, want 1", inbound.CallCountAccept)
	}
	f.dev.FireConnect(inbound)

	second := &telmock.Connection{InfoResult: telephony.CallInfo{CallSID: "CA-in2"}}
	f.dev.FireIncoming(second)
	if second.CallCountAccept != 0 {
		t.Error("a second inbound call must not be accepted while busy")
	}
	if second.CallCountDisconnect != 1 {
		t.Error("a second inbound call should be rejected")
	}
}

func TestTokenWillExpire_RefreshesWithoutDroppingCall(t *testing.T) {
	f := newFixture(t)
	f.initializeReady(t)

	conn := &telmock.Connection{}
	f.dev.FireConnect(conn)

	f.tokens.TokenResult = telephony.Token{Value: "tok-fresh"}
	f.dev.FireTokenWillExpire()

	if len(f.dev.UpdatedTokens) != 1 || f.dev.UpdatedTokens[0] != "tok-fresh" {
		t.Errorf("UpdatedTokens = %v", f.dev.UpdatedTokens)
	}
	if got := f.ctrl.CurrentState(); got != StateBusy {
		t.Errorf("state = %q, token refresh must not interrupt the call", got)
	}
	if conn.CallCountDisconnect != 0 {
		t.Error("token refresh must not hang up the active call")
	}
}

func TestDeviceError_ClassifiedAndNotified(t *testing.T) {
	f := newFixture(t)
	f.initializeReady(t)

	// A failing token source keeps the recovery round from succeeding, so
	// the controller must settle in the error state.
	f.tokens.TokenError = errors.New("issuer unreachable")
	f.dev.FireError(errors.New("JWT Token Expired (31205)"))

	waitFor(t, func() bool { return f.ctrl.Status().ManualInitRequired }, "recovery round did not finish")
	if got := f.ctrl.CurrentState(); got != StateError {
		t.Errorf("state = %q, want error when idle", got)
	}
	var sawToken bool
	for _, n := range f.notes() {
		if n.Message == UserMessage(ErrorClassToken) {
			sawToken = true
		}
	}
	if !sawToken {
		t.Errorf("notifications = %v, want token-class message", f.notes())
	}
}

func TestDeviceError_RecoversThroughReinitialization(t *testing.T) {
	f := newFixture(t)
	f.initializeReady(t)

	f.dev.FireError(errors.New("gateway transport closed"))

	// The recovery round re-registers; the vendor then reports ready.
	waitFor(t, func() bool { return f.ctrl.CurrentState() == StateInitializing }, "recovery did not re-initialize")
	f.dev.FireReady()
	waitFor(t, func() bool { return f.ctrl.CurrentState() == StateReady }, "recovery did not reach ready")
	if f.ctrl.Status().ManualInitRequired {
		t.Error("successful recovery must not latch manual initialization")
	}
}

func TestDeviceError_RecoveryExhaustionLatchesManual(t *testing.T) {
	f := newFixture(t)
	f.initializeReady(t)

	f.tokens.TokenError = errors.New("issuer unreachable")
	f.dev.FireError(errors.New("gateway transport closed"))

	waitFor(t, func() bool { return f.ctrl.Status().ManualInitRequired }, "exhausted recovery did not latch manual init")
	if got := f.ctrl.CurrentState(); got != StateError {
		t.Errorf("state = %q, want error after exhausted recovery", got)
	}

	// The latch clears on an explicit initialize once the issuer is back.
	f.tokens.TokenError = nil
	if err := f.ctrl.Initialize(context.Background()); err != nil {
		t.Fatalf("manual Initialize: %v", err)
	}
	if f.ctrl.Status().ManualInitRequired {
		t.Error("manual-init latch should reset on explicit Initialize")
	}
}

func TestDeviceError_DuringCallDoesNotDropLeg(t *testing.T) {
	f := newFixture(t)
	f.initializeReady(t)

	conn := &telmock.Connection{}
	f.dev.FireConnect(conn)
	f.dev.FireError(errors.New("media quality degraded"))

	if got := f.ctrl.CurrentState(); got != StateBusy {
		t.Errorf("state = %q, an error during a call must not kill the leg", got)
	}
}

func TestStreamHandlers_BridgeToPipelines(t *testing.T) {
	f := newFixture(t)
	h := f.ctrl.ChannelHandlers()

	h.OnStreamStart("MZ9", "CA9", "audio/x-mulaw")
	if len(f.capture.started) != 1 || f.capture.started[0] != "MZ9" {
		t.Errorf("capture started with %v, want [MZ9]", f.capture.started)
	}
	if len(f.playback.formats) != 1 || f.playback.formats[0] != "audio/x-mulaw" {
		t.Errorf("playback formats = %v", f.playback.formats)
	}

	h.OnAudio("AAAA")
	if len(f.playback.enqueued) != 1 || f.playback.enqueued[0] != "AAAA" {
		t.Errorf("playback enqueued = %v", f.playback.enqueued)
	}

	h.OnStreamStop()
	if f.capture.stops == 0 || f.playback.clears == 0 {
		t.Error("stream stop should stop capture and clear playback")
	}

	h.OnDisconnect(errors.New("socket gone"))
	if f.capture.stops < 2 {
		t.Error("an unexpected socket drop should stop capture")
	}
}

func TestDeviceRouting_ForwardedToSDKAndPipelines(t *testing.T) {
	f := newFixture(t)

	if err := f.ctrl.SetInputDevice("mic-1"); err != nil {
		t.Fatalf("SetInputDevice: %v", err)
	}
	if err := f.ctrl.SetSpeakerDevice("spk-1"); err != nil {
		t.Fatalf("SetSpeakerDevice: %v", err)
	}

	if len(f.dev.InputDeviceSet) != 1 || f.dev.InputDeviceSet[0] != "mic-1" {
		t.Errorf("SDK input routing = %v", f.dev.InputDeviceSet)
	}
	if len(f.capture.inputs) != 1 || f.capture.inputs[0] != "mic-1" {
		t.Errorf("capture input routing = %v", f.capture.inputs)
	}
	if len(f.dev.SpeakerDeviceSet) != 1 || f.dev.SpeakerDeviceSet[0] != "spk-1" {
		t.Errorf("SDK speaker routing = %v", f.dev.SpeakerDeviceSet)
	}
	if len(f.playback.outputs) != 1 || f.playback.outputs[0] != "spk-1" {
		t.Errorf("playback output routing = %v", f.playback.outputs)
	}
}

func TestClose_ReleasesEverything(t *testing.T) {
	f := newFixture(t)
	f.initializeReady(t)

	conn := &telmock.Connection{}
	f.dev.FireConnect(conn)

	if err := f.ctrl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if conn.CallCountDisconnect == 0 {
		t.Error("Close should hang up the active call")
	}
	if f.dev.CallCountClose == 0 {
		t.Error("Close should release the vendor device")
	}
	if got := f.ctrl.CurrentState(); got != StateOffline {
		t.Errorf("state = %q, want offline", got)
	}
}
