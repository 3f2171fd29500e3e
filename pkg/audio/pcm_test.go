package audio

import (
	"math"
	"testing"
)

func TestEncodePCM16_Scaling(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32768},
		{"half positive", 0.5, 16383},
		{"half negative", -0.5, -16384},
		{"clamped above", 1.5, 32767},
		{"clamped below", -2, -32768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := EncodePCM16([]float32{tt.in})
			if len(out) != 2 {
				t.Fatalf("expected 2 bytes, got %d", len(out))
			}
			got := int16(out[0]) | int16(out[1])<<8
			if got != tt.want {
				t.Errorf("EncodePCM16(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncodePCM16_LittleEndian(t *testing.T) {
	// 0.5 → 16383 → 0x3FFF → bytes FF 3F.
	out := EncodePCM16([]float32{0.5})
	if out[0] != 0xFF || out[1] != 0x3F {
		t.Errorf("expected little-endian FF 3F, got %02X %02X", out[0], out[1])
	}
}

func TestDecodePCM16_RoundTrip(t *testing.T) {
	in := []float32{0, 0.25, -0.25, 0.99, -0.99}
	got := DecodePCM16(EncodePCM16(in))
	if len(got) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(got))
	}
	for i := range in {
		if diff := math.Abs(float64(got[i] - in[i])); diff > 1.0/32767 {
			t.Errorf("sample %d: got %v, want %v (diff %v)", i, got[i], in[i], diff)
		}
	}
}

func TestRMS(t *testing.T) {
	t.Run("empty buffer", func(t *testing.T) {
		if got := RMS(nil); got != 0 {
			t.Errorf("RMS(nil) = %v, want 0", got)
		}
	})

	t.Run("all zero samples", func(t *testing.T) {
		if got := RMS(make([]float32, 4096)); got != 0 {
			t.Errorf("RMS(zeros) = %v, want 0", got)
		}
	})

	t.Run("constant amplitude", func(t *testing.T) {
		buf := make([]float32, 1024)
		for i := range buf {
			buf[i] = 0.5
		}
		if got := RMS(buf); math.Abs(got-0.5) > 1e-9 {
			t.Errorf("RMS(0.5...) = %v, want 0.5", got)
		}
	})

	t.Run("sine wave", func(t *testing.T) {
		buf := make([]float32, 16000)
		for i := range buf {
			buf[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 16000))
		}
		// RMS of a full-scale sine is 1/√2.
		want := 1 / math.Sqrt2
		if got := RMS(buf); math.Abs(got-want) > 0.01 {
			t.Errorf("RMS(sine) = %v, want ~%v", got, want)
		}
	})
}

func TestResampleMono16(t *testing.T) {
	t.Run("same rate is identity", func(t *testing.T) {
		in := EncodePCM16([]float32{0.1, 0.2, 0.3})
		out := ResampleMono16(in, 16000, 16000)
		if &out[0] != &in[0] {
			t.Error("expected input returned unchanged for equal rates")
		}
	})

	t.Run("upsample doubles sample count", func(t *testing.T) {
		in := make([]byte, 160*2) // 20ms at 8kHz
		out := ResampleMono16(in, 8000, 16000)
		if len(out) != 320*2 {
			t.Errorf("expected 320 samples, got %d", len(out)/2)
		}
	})

	t.Run("downsample halves sample count", func(t *testing.T) {
		in := make([]byte, 320*2)
		out := ResampleMono16(in, 16000, 8000)
		if len(out) != 160*2 {
			t.Errorf("expected 160 samples, got %d", len(out)/2)
		}
	})

	t.Run("preserves constant signal", func(t *testing.T) {
		samples := make([]float32, 100)
		for i := range samples {
			samples[i] = 0.5
		}
		out := DecodePCM16(ResampleMono16(EncodePCM16(samples), 8000, 16000))
		for i, s := range out {
			if math.Abs(float64(s)-0.5) > 0.001 {
				t.Fatalf("sample %d: got %v, want ~0.5", i, s)
			}
		}
	})
}
