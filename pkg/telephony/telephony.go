// Package telephony defines the interfaces for the vendor telephony SDK that
// carries the actual call leg.
//
// The two primary abstractions are:
//
//   - [Device] — the registered softphone endpoint; owns the signalling
//     session, the audio device assignments, and token lifetime callbacks.
//   - [Connection] — one active call leg obtained from [Device.Dial] or
//     delivered through [Events.OnIncoming].
//
// Implementations wrap the vendor's client library. The interfaces are
// intentionally narrow so that the session controller never touches vendor
// types directly; the bundled mock package stands in where no vendor SDK is
// linked.
//
// This package lives under pkg/ because vendor adapters are expected to
// implement [Device] and [Connection].
package telephony

import (
	"context"
	"time"

	"github.com/airdial/airdial/pkg/audio/device"
)

// Direction of a call leg.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// CallParams describes an outbound call request.
type CallParams struct {
	// To is the dialled number in E.164 form.
	To string

	// From is the caller ID to present.
	From string

	// StreamID correlates the media stream opened for this call.
	StreamID string

	// Extra carries vendor-specific dial parameters verbatim.
	Extra map[string]string
}

// CallInfo identifies an established call leg.
type CallInfo struct {
	// CallSID is the vendor-assigned call identifier.
	CallSID string

	// Direction reports whether the leg was dialled or received.
	Direction Direction

	To   string
	From string
}

// Events holds the callbacks a [Device] invokes as its lifecycle progresses.
// All callbacks are optional; nil entries are skipped. Callbacks are invoked
// on the device's internal goroutine and must not block.
type Events struct {
	// OnReady fires when the device has registered and can place calls.
	OnReady func()

	// OnError fires for any device-level failure (auth, transport, media).
	OnError func(err error)

	// OnConnect fires when a call leg is established.
	OnConnect func(conn Connection)

	// OnDisconnect fires when the active call leg ends, for any reason.
	OnDisconnect func(conn Connection)

	// OnIncoming fires when an inbound call is offered. The receiver decides
	// whether to Accept or Disconnect it.
	OnIncoming func(conn Connection)

	// OnTokenWillExpire fires shortly before the capability token lapses so
	// the owner can push a fresh token via [Device.UpdateToken].
	OnTokenWillExpire func()
}

// Device is a registered softphone endpoint.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Register authenticates with the vendor using the capability token and
	// wires the event callbacks. It must be called before Dial.
	Register(ctx context.Context, token string, ev Events) error

	// UpdateToken pushes a fresh capability token into the live session
	// without interrupting an active call.
	UpdateToken(token string) error

	// Dial places an outbound call. At most one call may be active per
	// device; dialling while busy is an error.
	Dial(ctx context.Context, params CallParams) (Connection, error)

	// InputDevices returns the SDK's capture device map. Empty until the
	// vendor populates it after registration.
	InputDevices() []device.Descriptor

	// OutputDevices returns the SDK's playback device map.
	OutputDevices() []device.Descriptor

	// SetInputDevice routes capture to the given device.
	SetInputDevice(id string) error

	// SetSpeakerDevice routes call audio and ringtones to the given device.
	SetSpeakerDevice(id string) error

	// TestSpeaker plays a short test tone on the current speaker device,
	// blocking until the tone finishes.
	TestSpeaker(ctx context.Context) error

	// InputLevel returns the current microphone level in [0, 1] for the
	// UI's volume meter.
	InputLevel() float64

	// Close unregisters the device and releases vendor resources. Safe to
	// call more than once.
	Close() error
}

// Connection is one active call leg.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// Info returns the vendor identifiers for this leg.
	Info() CallInfo

	// Accept answers an inbound call. A no-op on outbound legs.
	Accept(ctx context.Context) error

	// SetMuted mutes or unmutes the local microphone on this leg.
	SetMuted(muted bool) error

	// Muted reports the current mute state.
	Muted() bool

	// SendDigits transmits DTMF digits on the leg.
	SendDigits(digits string) error

	// Disconnect hangs up. Safe to call more than once.
	Disconnect() error
}

// Token is a capability token together with its expiry, as minted by the
// token-issuing collaborator.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenSource mints capability tokens for [Device.Register] and
// [Device.UpdateToken].
type TokenSource interface {
	Token(ctx context.Context) (Token, error)
}
