package audio

import (
	"context"
	"time"
)

// DeviceConfig describes how the capture device should be opened.
type DeviceConfig struct {
	// SampleRate in Hz for captured frames. Typical: 16000–24000.
	SampleRate int

	// Channels to capture. 1 = mono.
	Channels int

	// ChunkDuration is the fixed duration of each delivered frame.
	// Default 100 ms.
	ChunkDuration time.Duration

	// DeviceID optionally selects a specific input device. Empty = default.
	DeviceID string
}

// Stream is a live capture session. Frames are delivered at the configured
// chunk duration; the channel is closed when the stream ends or Close is
// called. Frame delivery is strictly sequential: a frame is fully consumed
// before the next is produced.
type Stream interface {
	// Frames returns the read-only channel of captured frames.
	Frames() <-chan AudioFrame

	// Close releases the device. Safe to call more than once; subsequent
	// calls return nil. The Frames channel is closed as a result.
	Close() error
}

// Device is the entry point for an audio input backend. Implementations wrap
// platform capture APIs (or test fixtures) and expose a uniform [Stream].
//
// Implementations must be safe for concurrent use; a single returned Stream
// is consumed by one goroutine.
type Device interface {
	// Open acquires the input device and begins delivering frames. Returns an
	// error if the device cannot be acquired; capture never silently no-ops.
	Open(ctx context.Context, cfg DeviceConfig) (Stream, error)
}
