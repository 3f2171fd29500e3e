// Package codec decodes inbound media-stream payloads into PCM16LE.
//
// The stream-start envelope may carry a media format; [New] maps it onto a
// decoder. When the format is absent the stream is assumed to already carry
// raw PCM16LE ("pcm16"), and [Passthrough] applies.
package codec

import (
	"fmt"
	"strings"
)

// Well-known format names accepted by [New]. The MIME-style aliases match
// what telephony media gateways advertise.
const (
	FormatPCM16 = "pcm16"
	FormatMulaw = "mulaw"
	FormatOpus  = "opus"
)

// Decoder converts one encoded payload into 16-bit little-endian PCM.
// Implementations are stateful where the underlying codec requires it (opus)
// and must not be shared across streams.
type Decoder interface {
	// Name returns the canonical format name ("pcm16", "mulaw", "opus").
	Name() string

	// Decode converts a single payload to PCM16LE at [Decoder.SampleRate].
	Decode(payload []byte) ([]byte, error)

	// SampleRate is the rate of the decoded PCM in Hz.
	SampleRate() int

	// Channels is the channel count of the decoded PCM.
	Channels() int
}

// New returns a decoder for the given media format. pcmRate is the sample
// rate assumed for raw PCM payloads; formats with a fixed rate (mulaw 8 kHz,
// opus 48 kHz) ignore it. An empty format selects pcm16.
func New(format string, pcmRate int) (Decoder, error) {
	switch normalize(format) {
	case "", FormatPCM16:
		return Passthrough(pcmRate), nil
	case FormatMulaw:
		return newMulaw(), nil
	case FormatOpus:
		return newOpus()
	default:
		return nil, fmt.Errorf("codec: unsupported media format %q", format)
	}
}

// normalize collapses MIME-style and vendor spellings onto canonical names.
func normalize(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatPCM16, "audio/x-l16", "l16", "linear16":
		if format == "" {
			return ""
		}
		return FormatPCM16
	case FormatMulaw, "audio/x-mulaw", "ulaw", "g711_ulaw":
		return FormatMulaw
	case FormatOpus, "audio/opus":
		return FormatOpus
	default:
		return strings.ToLower(strings.TrimSpace(format))
	}
}

// passthrough returns PCM payloads unchanged.
type passthrough struct {
	rate int
}

// Passthrough returns the identity decoder for raw PCM16LE payloads at the
// given sample rate.
func Passthrough(rate int) Decoder {
	return passthrough{rate: rate}
}

func (p passthrough) Name() string    { return FormatPCM16 }
func (p passthrough) SampleRate() int { return p.rate }
func (p passthrough) Channels() int   { return 1 }

func (p passthrough) Decode(payload []byte) ([]byte, error) {
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("codec: pcm16 payload has odd length %d", len(payload))
	}
	return payload, nil
}
