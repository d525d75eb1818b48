// Package audio implements the capture side of the Verbalis voice pipeline:
// fixed-size PCM frames from a capture device, per-frame loudness metering,
// hysteresis-based speech segmentation, and PCM16/base64 transport encoding.
//
// All per-frame state (meter history, segmenter state machine) is mutated only
// inside the capture loop (single writer, no locks). Anything that leaves the
// capture loop (finalized segments) is handed off by value.
package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport: captured from the input device,
// metered, classified by VAD, and accumulated into speech segments.
type AudioFrame struct {
	// PCM audio data, little-endian signed 16-bit samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 or 24000 for STT input).
	SampleRate int

	// Channels: 1 for mono (the STT path), 2 for stereo sources before downmix.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame's PCM data.
// Returns zero for frames with an invalid sample rate or channel count.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Segment is a finalized stretch of speech produced by the [Segmenter].
// It is handed off by value: once emitted, the segmenter retains no reference
// to the underlying buffer.
type Segment struct {
	// Data is the accumulated little-endian PCM16 audio of the utterance.
	Data []byte

	// SampleRate in Hz of the segment audio.
	SampleRate int

	// Channels of the segment audio.
	Channels int

	// Start is the capture timestamp of the first buffered frame.
	Start time.Duration

	// Duration is the total buffered audio length.
	Duration time.Duration
}

// FrameStatus is the per-frame realtime feedback pair emitted for every
// processed frame regardless of segmentation outcome. It drives visual
// level indicators independently of whether a segment is ultimately kept.
type FrameStatus struct {
	// Voiced reports the frame-level VAD decision.
	Voiced bool

	// Level is the smoothed loudness value in [0, 1].
	Level float64
}
