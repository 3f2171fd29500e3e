package codec

import "github.com/zaf/g711"

// mulawRate is the fixed G.711 telephony sample rate.
const mulawRate = 8000

// mulaw decodes 8-bit G.711 μ-law payloads (the classic PSTN media-stream
// encoding) into PCM16LE at 8 kHz.
type mulaw struct{}

func newMulaw() Decoder { return mulaw{} }

func (mulaw) Name() string    { return FormatMulaw }
func (mulaw) SampleRate() int { return mulawRate }
func (mulaw) Channels() int   { return 1 }

func (mulaw) Decode(payload []byte) ([]byte, error) {
	return g711.DecodeUlaw(payload), nil
}
