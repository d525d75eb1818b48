package audio

import (
	"encoding/base64"
	"encoding/binary"
)

// Float32ToPCM16 converts float32 samples in [-1.0, 1.0] to little-endian
// signed 16-bit PCM. Out-of-range samples are clamped.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		v := int16(s * 32767.0)
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(v))
	}
	return out
}

// PCM16ToFloat32 converts little-endian signed 16-bit PCM to float32 samples
// normalised to [-1.0, 1.0]. A trailing odd byte is silently ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// EncodePCM16Base64 encodes little-endian PCM16 data for transport to STT
// providers that expect base64 payloads.
func EncodePCM16Base64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodePCM16Base64 decodes a base64 transport payload back to raw PCM16.
func DecodePCM16Base64(enc string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(enc)
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		lSample := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		rSample := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (lSample + rSample) / 2

		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
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

// Normalize converts a frame to mono at the target sample rate. Frames that
// already match are returned unchanged (zero allocation). Frames with an odd
// byte count are treated as corrupt and returned with empty data.
func Normalize(frame AudioFrame, targetRate int) AudioFrame {
	if len(frame.Data)%2 != 0 {
		return AudioFrame{SampleRate: targetRate, Channels: 1, Timestamp: frame.Timestamp}
	}
	pcm := frame.Data
	if frame.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	if frame.SampleRate != targetRate {
		pcm = ResampleMono16(pcm, frame.SampleRate, targetRate)
	}
	return AudioFrame{
		Data:       pcm,
		SampleRate: targetRate,
		Channels:   1,
		Timestamp:  frame.Timestamp,
	}
}
