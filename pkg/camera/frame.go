package camera

import (
	"image"
	"sync"

	"qr-shutter-pi/pkg/metrics"
)

// Frame is one preview luma plane. Whoever holds a *Frame must call Release
// exactly once; further calls are ignored.
type Frame struct {
	Width  int
	Height int
	Stride int
	Y      []byte

	once    sync.Once
	release func()
}

// NewFrame wraps y. release is called when the frame is released and may be nil.
func NewFrame(y []byte, width, height, stride int, release func()) *Frame {
	return &Frame{
		Width:   width,
		Height:  height,
		Stride:  stride,
		Y:       y,
		release: release,
	}
}

// Gray views the luma plane as an image without copying.
func (f *Frame) Gray() *image.Gray {
	return &image.Gray{
		Pix:    f.Y,
		Stride: f.Stride,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

func (f *Frame) Release() {
	f.once.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
}

// FrameChannel hands the newest preview frame to the decode worker. It holds
// at most one pending frame; publishing over a pending frame drops the older
// one.
type FrameChannel struct {
	mu     sync.Mutex
	closed bool
	slot   chan *Frame
	done   chan struct{}
}

func NewFrameChannel() *FrameChannel {
	return &FrameChannel{
		slot: make(chan *Frame, 1),
		done: make(chan struct{}),
	}
}

// Publish never blocks. It reports false if the channel is closed, in which
// case f has already been released.
func (c *FrameChannel) Publish(f *Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		f.Release()
		return false
	}
	metrics.FramesPublished.Inc()
	select {
	case old := <-c.slot:
		old.Release()
		metrics.FramesDropped.Inc()
	default:
	}
	c.slot <- f

	return true
}

// Next blocks until a frame is pending or the channel is closed.
func (c *FrameChannel) Next() (*Frame, bool) {
	select {
	case f := <-c.slot:
		return f, true
	case <-c.done:
		return nil, false
	}
}

// Close releases the pending frame, if any, and wakes the consumer.
func (c *FrameChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	select {
	case old := <-c.slot:
		old.Release()
	default:
	}
}
