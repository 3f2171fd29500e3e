// Package mock provides in-memory mock implementations of the
// [telephony.Device], [telephony.Connection], and [telephony.TokenSource]
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values. The Fire*
// methods simulate vendor SDK callbacks.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/airdial/airdial/pkg/audio/device"
	"github.com/airdial/airdial/pkg/telephony"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [telephony.Device].
type Device struct {
	mu sync.Mutex

	// RegisterError is returned by [Device.Register].
	RegisterError error

	// DialResult is returned by [Device.Dial]. Defaults to a fresh
	// [Connection] if left nil.
	DialResult *Connection

	// DialError is returned by [Device.Dial].
	DialError error

	// Inputs and Outputs back the device map accessors.
	Inputs  []device.Descriptor
	Outputs []device.Descriptor

	// SetInputError / SetSpeakerError are returned by the respective setters.
	SetInputError   error
	SetSpeakerError error

	// TestSpeakerError is returned by [Device.TestSpeaker].
	TestSpeakerError error

	// Level is returned by [Device.InputLevel].
	Level float64

	// RegisterCalls records the token of every Register call, in order.
	RegisterCalls []string

	// UpdatedTokens records every token pushed via UpdateToken, in order.
	UpdatedTokens []string

	// DialCalls records the params of every Dial call, in order.
	DialCalls []telephony.CallParams

	// InputDeviceSet / SpeakerDeviceSet record device routing calls.
	InputDeviceSet   []string
	SpeakerDeviceSet []string

	// CallCountTestSpeaker records how many times TestSpeaker was called.
	CallCountTestSpeaker int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	events telephony.Events
}

// Register implements [telephony.Device].
func (d *Device) Register(_ context.Context, token string, ev telephony.Events) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.RegisterCalls = append(d.RegisterCalls, token)
	if d.RegisterError != nil {
		return d.RegisterError
	}
	d.events = ev
	return nil
}

// UpdateToken implements [telephony.Device].
func (d *Device) UpdateToken(token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.UpdatedTokens = append(d.UpdatedTokens, token)
	return nil
}

// Dial implements [telephony.Device].
func (d *Device) Dial(_ context.Context, params telephony.CallParams) (telephony.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls = append(d.DialCalls, params)
	if d.DialError != nil {
		return nil, d.DialError
	}
	if d.DialResult == nil {
		d.DialResult = &Connection{
			InfoResult: telephony.CallInfo{
				CallSID:   "CA-mock",
				Direction: telephony.DirectionOutbound,
				To:        params.To,
				From:      params.From,
			},
		}
	}
	return d.DialResult, nil
}

// InputDevices implements [telephony.Device].
func (d *Device) InputDevices() []device.Descriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Inputs
}

// OutputDevices implements [telephony.Device].
func (d *Device) OutputDevices() []device.Descriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Outputs
}

// SetInputDevice implements [telephony.Device].
func (d *Device) SetInputDevice(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.InputDeviceSet = append(d.InputDeviceSet, id)
	return d.SetInputError
}

// SetSpeakerDevice implements [telephony.Device].
func (d *Device) SetSpeakerDevice(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SpeakerDeviceSet = append(d.SpeakerDeviceSet, id)
	return d.SetSpeakerError
}

// TestSpeaker implements [telephony.Device].
func (d *Device) TestSpeaker(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountTestSpeaker++
	return d.TestSpeakerError
}

// InputLevel implements [telephony.Device].
func (d *Device) InputLevel() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Level
}

// Close implements [telephony.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	return nil
}

// ─── Event triggers ───────────────────────────────────────────────────────────

func (d *Device) callbacks() telephony.Events {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events
}

// FireReady simulates the vendor's ready callback.
func (d *Device) FireReady() {
	if cb := d.callbacks().OnReady; cb != nil {
		cb()
	}
}

// FireError simulates a vendor-reported error.
func (d *Device) FireError(err error) {
	if cb := d.callbacks().OnError; cb != nil {
		cb(err)
	}
}

// FireConnect simulates call establishment.
func (d *Device) FireConnect(conn telephony.Connection) {
	if cb := d.callbacks().OnConnect; cb != nil {
		cb(conn)
	}
}

// FireDisconnect simulates the active call ending.
func (d *Device) FireDisconnect(conn telephony.Connection) {
	if cb := d.callbacks().OnDisconnect; cb != nil {
		cb(conn)
	}
}

// FireIncoming simulates an inbound call offer.
func (d *Device) FireIncoming(conn telephony.Connection) {
	if cb := d.callbacks().OnIncoming; cb != nil {
		cb(conn)
	}
}

// FireTokenWillExpire simulates the token expiry warning.
func (d *Device) FireTokenWillExpire() {
	if cb := d.callbacks().OnTokenWillExpire; cb != nil {
		cb()
	}
}

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [telephony.Connection].
type Connection struct {
	mu sync.Mutex

	// InfoResult is returned by [Connection.Info].
	InfoResult telephony.CallInfo

	// AcceptError is returned by [Connection.Accept].
	AcceptError error

	// MuteError is returned by [Connection.SetMuted].
	MuteError error

	// DigitsError is returned by [Connection.SendDigits].
	DigitsError error

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	// MuteCalls records every SetMuted argument, in order.
	MuteCalls []bool

	// SentDigits records every SendDigits argument, in order.
	SentDigits []string

	// CallCountAccept records how many times Accept was called.
	CallCountAccept int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	muted bool
}

// Info implements [telephony.Connection].
func (c *Connection) Info() telephony.CallInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.InfoResult
}

// Accept implements [telephony.Connection].
func (c *Connection) Accept(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountAccept++
	return c.AcceptError
}

// SetMuted implements [telephony.Connection].
func (c *Connection) SetMuted(muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MuteCalls = append(c.MuteCalls, muted)
	if c.MuteError != nil {
		return c.MuteError
	}
	c.muted = muted
	return nil
}

// Muted implements [telephony.Connection].
func (c *Connection) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// SendDigits implements [telephony.Connection].
func (c *Connection) SendDigits(digits string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SentDigits = append(c.SentDigits, digits)
	return c.DigitsError
}

// Disconnect implements [telephony.Connection].
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	return c.DisconnectError
}

// ─── TokenSource ──────────────────────────────────────────────────────────────

// TokenSource is a mock implementation of [telephony.TokenSource].
type TokenSource struct {
	mu sync.Mutex

	// TokenResult is returned by [TokenSource.Token]. A zero ExpiresAt
	// defaults to one hour from now.
	TokenResult telephony.Token

	// TokenError is returned by [TokenSource.Token].
	TokenError error

	// CallCountToken records how many times Token was called.
	CallCountToken int
}

// Token implements [telephony.TokenSource].
func (s *TokenSource) Token(_ context.Context) (telephony.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountToken++
	if s.TokenError != nil {
		return telephony.Token{}, s.TokenError
	}
	tok := s.TokenResult
	if tok.Value == "" {
		tok.Value = "mock-token"
	}
	if tok.ExpiresAt.IsZero() {
		tok.ExpiresAt = time.Now().Add(time.Hour)
	}
	return tok, nil
}
