package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// ReaderDevice adapts any stream of raw little-endian PCM16 bytes (a pipe
// from arecord or sox, a recorded fixture file, os.Stdin) to the [Device]
// interface. Pacing is driven by the source: frames are delivered as soon as
// a full chunk has been read.
type ReaderDevice struct {
	r io.Reader
}

var _ Device = (*ReaderDevice)(nil)

// NewReaderDevice wraps r as a capture device. If r also implements
// [io.Closer] it is closed when the stream is closed, which unblocks a
// pending Read.
func NewReaderDevice(r io.Reader) *ReaderDevice {
	return &ReaderDevice{r: r}
}

// Open implements Device. Only one stream per ReaderDevice makes sense; the
// underlying reader is consumed.
func (d *ReaderDevice) Open(ctx context.Context, cfg DeviceConfig) (Stream, error) {
	if d.r == nil {
		return nil, errors.New("audio: reader device has no source")
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.ChunkDuration == 0 {
		cfg.ChunkDuration = 100 * time.Millisecond
	}

	frameBytes := cfg.SampleRate * cfg.Channels * 2 * int(cfg.ChunkDuration/time.Millisecond) / 1000
	if frameBytes <= 0 {
		return nil, errors.New("audio: invalid frame size from device config")
	}

	s := &readerStream{
		r:      d.r,
		cfg:    cfg,
		frames: make(chan AudioFrame),
		closed: make(chan struct{}),
	}
	go s.read(ctx, frameBytes)
	return s, nil
}

type readerStream struct {
	r      io.Reader
	cfg    DeviceConfig
	frames chan AudioFrame

	closeOnce sync.Once
	closed    chan struct{}
}

var _ Stream = (*readerStream)(nil)

func (s *readerStream) Frames() <-chan AudioFrame { return s.frames }

// Close implements Stream. Closing the underlying reader unblocks the read
// goroutine, which then closes the frame channel.
func (s *readerStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if c, ok := s.r.(io.Closer); ok {
			c.Close()
		}
	})
	return nil
}

// read delivers full frames until EOF or Close. A trailing partial chunk is
// delivered as a short final frame so no captured audio is dropped.
func (s *readerStream) read(ctx context.Context, frameBytes int) {
	defer close(s.frames)

	var ts time.Duration
	for {
		buf := make([]byte, frameBytes)
		n, err := io.ReadFull(s.r, buf)
		if n > 0 {
			frame := AudioFrame{
				Data:       buf[:n],
				SampleRate: s.cfg.SampleRate,
				Channels:   s.cfg.Channels,
				Timestamp:  ts,
			}
			select {
			case s.frames <- frame:
				ts += frame.Duration()
			case <-s.closed:
				return
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
	}
}
