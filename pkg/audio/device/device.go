// Package device abstracts the host media layer: microphone acquisition,
// audio output, and hardware enumeration.
//
// The two primary abstractions are:
//
//   - [Host] — the platform media backend (capture streams, playback streams,
//     an encoded-media player, and native device enumeration).
//   - [Enumerator] — merges the telephony SDK's device maps with the host's
//     native enumeration and notifies listeners on hot-plug.
//
// This package lives under pkg/ because platform backends (ALSA, CoreAudio,
// a browser bridge) are expected to implement [Host]; the bundled
// [github.com/airdial/airdial/pkg/audio/device/mock] backend serves tests and
// environments without real hardware.
package device

import "context"

// Kind classifies a device as an audio source or sink.
type Kind string

const (
	// KindInput is a capture device (microphone).
	KindInput Kind = "input"

	// KindOutput is a playback device (speaker, headset).
	KindOutput Kind = "output"
)

// Descriptor identifies a single audio device.
type Descriptor struct {
	// ID is the backend-specific stable identifier.
	ID string `json:"id"`

	// Label is the human-readable device name. Hosts withhold labels until
	// capture permission has been granted.
	Label string `json:"label"`

	// Kind reports whether this is an input or output device.
	Kind Kind `json:"kind"`
}

// CaptureConfig configures a microphone stream.
type CaptureConfig struct {
	// DeviceID selects the capture device; empty selects the host default.
	DeviceID string

	// SampleRate in Hz for delivered buffers.
	SampleRate int

	// BufferSize is the number of float32 samples per delivered buffer.
	BufferSize int

	// Processing hints. Hosts that cannot honour them ignore them.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// CaptureStream delivers fixed-size buffers of float32 samples in [-1, 1]
// from an open microphone.
type CaptureStream interface {
	// Buffers returns the channel of captured sample buffers. The channel is
	// closed when the stream stops.
	Buffers() <-chan []float32

	// Stop releases the microphone. Safe to call more than once.
	Stop() error
}

// PlaybackConfig configures a PCM playback stream.
type PlaybackConfig struct {
	// DeviceID selects the output device; empty selects the host default.
	DeviceID string

	// SampleRate in Hz of the PCM that will be written.
	SampleRate int

	// Channels of the PCM that will be written.
	Channels int
}

// PlaybackStream renders PCM16LE audio on an output device. It is the
// decode-and-schedule path of the playback pipeline.
type PlaybackStream interface {
	// WritePCM schedules one buffer of PCM16LE for playback, blocking until
	// the buffer has been handed to the device.
	WritePCM(pcm []byte) error

	// Close tears the stream down. Writes after Close return an error.
	Close() error
}

// MediaPlayer plays container-encoded audio handed over as opaque bytes.
// It is the fallback playback path used when the PCM graph is unavailable.
type MediaPlayer interface {
	// Play renders one encoded clip, blocking until playback ends or fails.
	Play(ctx context.Context, encoded []byte) error

	// Close releases the player.
	Close() error
}

// Host is the platform media backend.
//
// Implementations must be safe for concurrent use.
type Host interface {
	// RequestPermission primes capture permission by opening and immediately
	// closing a throwaway capture stream. Hosts that need no permission
	// return nil.
	RequestPermission(ctx context.Context) error

	// Enumerate lists devices of the given kind.
	Enumerate(ctx context.Context, kind Kind) ([]Descriptor, error)

	// OpenCapture acquires a microphone stream.
	OpenCapture(ctx context.Context, cfg CaptureConfig) (CaptureStream, error)

	// OpenPlayback opens a PCM playback stream.
	OpenPlayback(ctx context.Context, cfg PlaybackConfig) (PlaybackStream, error)

	// OpenMediaPlayer opens the encoded-media fallback player.
	OpenMediaPlayer(ctx context.Context) (MediaPlayer, error)

	// OnDeviceChange registers cb to run when the hardware set changes.
	// Only one callback may be registered; later calls replace it.
	OnDeviceChange(cb func())
}
