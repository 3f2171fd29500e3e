// Package mock provides in-memory mock implementations of the [device.Host],
// [device.CaptureStream], [device.PlaybackStream], and [device.MediaPlayer]
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	capture := mock.NewCaptureStream(4)
//	host := &mock.Host{CaptureResult: capture}
//	stream, err := host.OpenCapture(ctx, device.CaptureConfig{BufferSize: 4096})
//	capture.Push([]float32{0.5, -0.5})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/airdial/airdial/pkg/audio/device"
)

// ─── Host ─────────────────────────────────────────────────────────────────────

// Host is a mock implementation of [device.Host].
// Set the exported Result/Error fields before use; inspect the Call* fields
// after.
type Host struct {
	mu sync.Mutex

	// PermissionError is returned by [Host.RequestPermission].
	PermissionError error

	// Devices is returned by [Host.Enumerate], filtered by kind.
	Devices []device.Descriptor

	// EnumerateError is returned by [Host.Enumerate].
	EnumerateError error

	// CaptureResult is returned by [Host.OpenCapture]. Defaults to a fresh
	// [CaptureStream] if left nil.
	CaptureResult *CaptureStream

	// CaptureError is returned by [Host.OpenCapture].
	CaptureError error

	// PlaybackResult is returned by [Host.OpenPlayback]. Defaults to a fresh
	// [PlaybackStream] if left nil.
	PlaybackResult *PlaybackStream

	// PlaybackError is returned by [Host.OpenPlayback].
	PlaybackError error

	// PlayerResult is returned by [Host.OpenMediaPlayer]. Defaults to a
	// fresh [MediaPlayer] if left nil.
	PlayerResult *MediaPlayer

	// PlayerError is returned by [Host.OpenMediaPlayer].
	PlayerError error

	// CallCountPermission records how many times RequestPermission was called.
	CallCountPermission int

	// CallCountEnumerate records how many times Enumerate was called.
	CallCountEnumerate int

	// CaptureCalls records the config of every OpenCapture call, in order.
	CaptureCalls []device.CaptureConfig

	// PlaybackCalls records the config of every OpenPlayback call, in order.
	PlaybackCalls []device.PlaybackConfig

	// RecordedChangeCallback holds the callback registered via OnDeviceChange.
	RecordedChangeCallback func()
}

// RequestPermission implements [device.Host].
func (h *Host) RequestPermission(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountPermission++
	return h.PermissionError
}

// Enumerate implements [device.Host]. Returns Devices filtered by kind.
func (h *Host) Enumerate(_ context.Context, kind device.Kind) ([]device.Descriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountEnumerate++
	if h.EnumerateError != nil {
		return nil, h.EnumerateError
	}
	var out []device.Descriptor
	for _, d := range h.Devices {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out, nil
}

// OpenCapture implements [device.Host].
func (h *Host) OpenCapture(_ context.Context, cfg device.CaptureConfig) (device.CaptureStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CaptureCalls = append(h.CaptureCalls, cfg)
	if h.CaptureError != nil {
		return nil, h.CaptureError
	}
	if h.CaptureResult == nil {
		h.CaptureResult = NewCaptureStream(16)
	}
	return h.CaptureResult, nil
}

// OpenPlayback implements [device.Host].
func (h *Host) OpenPlayback(_ context.Context, cfg device.PlaybackConfig) (device.PlaybackStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.PlaybackCalls = append(h.PlaybackCalls, cfg)
	if h.PlaybackError != nil {
		return nil, h.PlaybackError
	}
	if h.PlaybackResult == nil {
		h.PlaybackResult = &PlaybackStream{}
	}
	return h.PlaybackResult, nil
}

// OpenMediaPlayer implements [device.Host].
func (h *Host) OpenMediaPlayer(_ context.Context) (device.MediaPlayer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.PlayerError != nil {
		return nil, h.PlayerError
	}
	if h.PlayerResult == nil {
		h.PlayerResult = &MediaPlayer{}
	}
	return h.PlayerResult, nil
}

// OnDeviceChange implements [device.Host].
func (h *Host) OnDeviceChange(cb func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.RecordedChangeCallback = cb
}

// TriggerDeviceChange invokes the registered change callback, simulating a
// hardware hot-plug event.
func (h *Host) TriggerDeviceChange() {
	h.mu.Lock()
	cb := h.RecordedChangeCallback
	h.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// ─── CaptureStream ────────────────────────────────────────────────────────────

// CaptureStream is a mock implementation of [device.CaptureStream]. Tests
// push sample buffers with [CaptureStream.Push]; Stop closes the channel.
type CaptureStream struct {
	mu sync.Mutex

	// StopError is returned by [CaptureStream.Stop].
	StopError error

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	buffers chan []float32
	stopped bool
}

// NewCaptureStream creates a mock capture stream with the given channel
// capacity.
func NewCaptureStream(capacity int) *CaptureStream {
	return &CaptureStream{buffers: make(chan []float32, capacity)}
}

// Push delivers one buffer to the stream's consumer. Returns false if the
// stream has been stopped.
func (s *CaptureStream) Push(buf []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	select {
	case s.buffers <- buf:
		return true
	default:
		return false
	}
}

// Buffers implements [device.CaptureStream].
func (s *CaptureStream) Buffers() <-chan []float32 {
	return s.buffers
}

// Stop implements [device.CaptureStream]. Safe to call more than once.
func (s *CaptureStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if !s.stopped {
		s.stopped = true
		close(s.buffers)
	}
	return s.StopError
}

// ─── PlaybackStream ───────────────────────────────────────────────────────────

// PlaybackStream is a mock implementation of [device.PlaybackStream]. It
// records every written buffer.
type PlaybackStream struct {
	mu sync.Mutex

	// WriteError is returned by [PlaybackStream.WritePCM].
	WriteError error

	// CloseError is returned by [PlaybackStream.Close].
	CloseError error

	// Written holds every PCM buffer passed to WritePCM, in order.
	Written [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int

	closed bool
}

// WritePCM implements [device.PlaybackStream].
func (s *PlaybackStream) WritePCM(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock playback stream: write after close")
	}
	if s.WriteError != nil {
		return s.WriteError
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	s.Written = append(s.Written, buf)
	return nil
}

// Close implements [device.PlaybackStream].
func (s *PlaybackStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return s.CloseError
}

// WrittenCount returns how many buffers have been written so far.
func (s *PlaybackStream) WrittenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Written)
}

// ─── MediaPlayer ──────────────────────────────────────────────────────────────

// MediaPlayer is a mock implementation of [device.MediaPlayer].
type MediaPlayer struct {
	mu sync.Mutex

	// PlayError is returned by [MediaPlayer.Play].
	PlayError error

	// Played holds every clip passed to Play, in order.
	Played [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Play implements [device.MediaPlayer].
func (p *MediaPlayer) Play(_ context.Context, encoded []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PlayError != nil {
		return p.PlayError
	}
	clip := make([]byte, len(encoded))
	copy(clip, encoded)
	p.Played = append(p.Played, clip)
	return nil
}

// Close implements [device.MediaPlayer].
func (p *MediaPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountClose++
	return nil
}

// PlayedCount returns how many clips have been played so far.
func (p *MediaPlayer) PlayedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Played)
}
