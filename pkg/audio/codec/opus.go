package codec

import (
	"fmt"

	"layeh.com/gopus"
)

const (
	opusRate     = 48000
	opusChannels = 1

	// opusMaxFrameSamples is the largest frame opus permits (120ms at 48kHz).
	opusMaxFrameSamples = 5760
)

// opus decodes Opus payloads into PCM16LE at 48 kHz mono. The decoder carries
// inter-frame state, so one instance serves exactly one stream.
type opus struct {
	dec *gopus.Decoder
}

func newOpus() (Decoder, error) {
	dec, err := gopus.NewDecoder(opusRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus decoder: %w", err)
	}
	return &opus{dec: dec}, nil
}

func (o *opus) Name() string    { return FormatOpus }
func (o *opus) SampleRate() int { return opusRate }
func (o *opus) Channels() int   { return opusChannels }

func (o *opus) Decode(payload []byte) ([]byte, error) {
	samples, err := o.dec.Decode(payload, opusMaxFrameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("codec: opus decode: %w", err)
	}
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out, nil
}
