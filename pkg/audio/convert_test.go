package audio

import (
	"bytes"
	"math"
	"testing"
	"time"
)

func TestFloat32PCM16RoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.5, -0.5, 0.999, -0.999, 0.123, -0.321}
	out := PCM16ToFloat32(Float32ToPCM16(in))

	if len(out) != len(in) {
		t.Fatalf("length = %d, want %d", len(out), len(in))
	}
	// Quantisation to 16 bits loses at most one LSB.
	const lsb = 1.0 / 32768.0
	for i := range in {
		if diff := math.Abs(float64(out[i] - in[i])); diff > lsb {
			t.Errorf("sample %d: got %v, want %v (diff %v)", i, out[i], in[i], diff)
		}
	}
}

func TestFloat32ToPCM16_Clamps(t *testing.T) {
	t.Parallel()

	out := PCM16ToFloat32(Float32ToPCM16([]float32{2.0, -2.0}))
	if out[0] < 0.999 {
		t.Errorf("clamped positive = %v, want ~1.0", out[0])
	}
	if out[1] > -0.999 {
		t.Errorf("clamped negative = %v, want ~-1.0", out[1])
	}
}

func TestEncodePCM16Base64RoundTrip(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x01, 0x02, 0xFF, 0x7F, 0x00, 0x80}
	got, err := DecodePCM16Base64(EncodePCM16Base64(pcm))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("round trip = %x, want %x", got, pcm)
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	// One stereo frame: L=1000, R=3000 → mono 2000.
	l, r := int16(1000), int16(3000)
	stereo := []byte{
		byte(l), byte(l >> 8),
		byte(r), byte(r >> 8),
	}
	mono := StereoToMono(stereo)

	if len(mono) != 2 {
		t.Fatalf("mono length = %d, want 2", len(mono))
	}
	got := int16(mono[0]) | int16(mono[1])<<8
	if got != 2000 {
		t.Errorf("averaged sample = %d, want 2000", got)
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	t.Run("same rate is a no-op", func(t *testing.T) {
		t.Parallel()
		pcm := []byte{1, 2, 3, 4}
		if got := ResampleMono16(pcm, 16000, 16000); !bytes.Equal(got, pcm) {
			t.Errorf("same-rate resample changed data")
		}
	})

	t.Run("downsample halves the sample count", func(t *testing.T) {
		t.Parallel()
		pcm := make([]byte, 320*2) // 320 samples
		got := ResampleMono16(pcm, 16000, 8000)
		if len(got) != 320 {
			t.Errorf("resampled bytes = %d, want 320", len(got))
		}
	})

	t.Run("upsample preserves a constant signal", func(t *testing.T) {
		t.Parallel()
		src := constFrame(5000, 100).Data
		got := ResampleMono16(src, 8000, 16000)
		if len(got) != 400 {
			t.Fatalf("resampled bytes = %d, want 400", len(got))
		}
		for i := 0; i < len(got); i += 2 {
			s := int16(got[i]) | int16(got[i+1])<<8
			if s != 5000 {
				t.Fatalf("sample %d = %d, want 5000", i/2, s)
			}
		}
	})
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	t.Run("matching frame passes through", func(t *testing.T) {
		t.Parallel()
		f := constFrame(1000, 160)
		got := Normalize(f, 16000)
		if !bytes.Equal(got.Data, f.Data) || got.SampleRate != 16000 || got.Channels != 1 {
			t.Errorf("matching frame was modified: %+v", got)
		}
	})

	t.Run("stereo is downmixed", func(t *testing.T) {
		t.Parallel()
		f := AudioFrame{Data: make([]byte, 640), SampleRate: 16000, Channels: 2}
		got := Normalize(f, 16000)
		if got.Channels != 1 || len(got.Data) != 320 {
			t.Errorf("downmix = %d channels, %d bytes; want 1 channel, 320 bytes", got.Channels, len(got.Data))
		}
	})

	t.Run("odd byte count is treated as corrupt", func(t *testing.T) {
		t.Parallel()
		f := AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1, Timestamp: time.Second}
		got := Normalize(f, 16000)
		if len(got.Data) != 0 {
			t.Errorf("corrupt frame kept %d bytes, want 0", len(got.Data))
		}
		if got.Timestamp != time.Second {
			t.Errorf("timestamp = %v, want 1s", got.Timestamp)
		}
	})
}
