// Package audio provides the sample conversion primitives shared by the
// capture and playback pipelines.
//
// All PCM in this package is 16-bit little-endian signed ("PCM16LE"). The
// capture side produces float32 samples in [-1, 1] from the host media layer
// and encodes them with [EncodePCM16]; the playback side decodes inbound
// payloads back to PCM16LE through [github.com/airdial/airdial/pkg/audio/codec].
package audio

import "math"

// EncodePCM16 converts float32 samples in [-1, 1] to 16-bit little-endian
// signed PCM. Samples outside the range are clamped. Positive values scale by
// 32767 and negative values by 32768 so that both full-scale extremes map onto
// representable int16 values without overflow.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian signed PCM back to float32
// samples in [-1, 1]. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		if v < 0 {
			out[i] = float32(v) / 32768
		} else {
			out[i] = float32(v) / 32767
		}
	}
	return out
}

// RMS computes the root-mean-square energy of a float32 sample buffer.
// It is the cheap silence proxy used by the capture pipeline's gate.
// An empty buffer has zero energy.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged. Host adapters that
// cannot open an output stream at the decoder's rate use this to convert
// 8 kHz telephony payloads to the device rate.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}
