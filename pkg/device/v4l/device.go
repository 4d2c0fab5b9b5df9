// Package v4l drives a V4L2 webcam or the Raspberry Pi camera through
// go4vl.
package v4l

import (
	"fmt"
	"sync"

	"github.com/vladimirvivien/go4vl/v4l2"

	"qr-shutter-pi/pkg/camera"
)

const DefaultDevice = "/dev/video0"

type Device struct {
	devName string
}

func New(devName string) *Device {
	if devName == "" {
		devName = DefaultDevice
	}
	return &Device{devName: devName}
}

// Cameras reports the single camera behind the device node.
func (d *Device) Cameras() ([]camera.Characteristics, error) {
	sizes, ctrls, err := probe(d.devName)
	if err != nil {
		return nil, err
	}

	info := camera.Characteristics{
		ID:           d.devName,
		Facing:       camera.FacingExternal,
		StillSizes:   discreteSizes(sizes[v4l2.PixelFmtJPEG]),
		PreviewSizes: discreteSizes(sizes[v4l2.PixelFmtYUYV]),
	}
	if ctrl, ok := ctrls[CtrlIsoSensitivity]; ok {
		info.IsoRange = newIsoScale(ctrl).Range(ctrl)
	}
	if ctrl, ok := ctrls[CtrlExposureAbsolute]; ok {
		info.ExposureRange = exposureRange(ctrl)
	}

	return []camera.Characteristics{info}, nil
}

func discreteSizes(enums []v4l2.FrameSizeEnum) []camera.Size {
	var out []camera.Size
	for _, e := range enums {
		out = append(out, camera.Size{Width: int(e.Size.MaxWidth), Height: int(e.Size.MaxHeight)})
	}
	return out
}

func (d *Device) Open(id string, sink camera.EventSink) error {
	if id != d.devName {
		return fmt.Errorf("unknown camera %q", id)
	}
	go func() {
		_, ctrls, err := probe(d.devName)
		if err != nil {
			sink.Post(camera.DeviceError{Err: err})
			return
		}
		sink.Post(camera.DeviceOpened{Camera: &Camera{
			stream: newStream(d.devName),
			sink:   sink,
			ctrls:  ctrls,
		}})
	}()

	return nil
}

type Camera struct {
	stream streamer
	sink   camera.EventSink
	ctrls  map[v4l2.CtrlID]v4l2.Control

	mu      sync.Mutex
	session *Session
	closed  bool
}

func (c *Camera) CreateSession(outputs []camera.Output) error {
	var preview, still camera.Size
	for _, o := range outputs {
		switch o.Stream {
		case camera.StreamDisplay, camera.StreamDecode:
			preview = o.Size
		case camera.StreamStill:
			still = o.Size
		}
	}

	c.mu.Lock()
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			logger.Warnf("close previous session: %s", err)
		}
		c.session = nil
	}
	c.mu.Unlock()

	go func() {
		c.stream.Update(initSettings)
		frames, err := c.stream.Start(v4l2.PixelFmtYUYV, preview.Width, preview.Height)
		if err != nil {
			c.sink.Post(camera.SessionConfigureFailed{Err: err})
			return
		}
		s := newSession(c.stream, c.sink, c.ctrls, preview, still)
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = c.stream.Stop()
			return
		}
		c.session = s
		c.mu.Unlock()

		go s.run(frames)
		c.sink.Post(camera.SessionConfigured{Session: s})
	}()

	return nil
}

// Close returns once the stream is stopped.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.session != nil {
		err := c.session.Close()
		c.session = nil
		return err
	}

	return c.stream.Stop()
}

// Formats lists the frame sizes per pixel format, keyed by fourcc.
func (d *Device) Formats() (map[string][]camera.Size, error) {
	sizes, _, err := probe(d.devName)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]camera.Size, len(sizes))
	for f, enums := range sizes {
		out[fourcc(f)] = discreteSizes(enums)
	}

	return out, nil
}

// Controls describes the supported known controls, one line each.
func (d *Device) Controls() ([]string, error) {
	_, ctrls, err := probe(d.devName)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range knownCtrlIDs {
		if ctrl, ok := ctrls[id]; ok {
			out = append(out, CtrlToString(ctrl))
		}
	}

	return out, nil
}
