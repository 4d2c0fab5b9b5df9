package v4l

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
)

var ErrStarted = errors.New("already started")

// stream owns the video device while it is streaming. Controls are kept in
// settings and reapplied every time the device is reopened.
type stream struct {
	devName string

	lock   sync.Mutex
	cancel context.CancelFunc
	dev    *device.Device
	format v4l2.FourCCType

	settings Settings
}

func newStream(devName string) *stream {
	return &stream{devName: devName, settings: make(Settings)}
}

func (s *stream) open(format v4l2.FourCCType, width, height int) error {
	if s.dev != nil {
		return ErrStarted
	}
	dev, err := device.Open(
		s.devName,
		device.WithBufferSize(1),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: format,
			Width:       uint32(width),
			Height:      uint32(height),
		}),
	)
	if err != nil {
		return err
	}
	s.dev = dev
	s.format = format

	return nil
}

// Start opens the device in format at width x height and returns its frames.
func (s *stream) Start(format v4l2.FourCCType, width, height int) (<-chan []byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	logger.Infof("start %s in %d*%d", fourcc(format), width, height)
	if err := s.open(format, width, height); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if err := s.dev.Start(ctx); err != nil {
		cancel()
		s.cancel = nil
		_ = s.dev.Close()
		s.dev = nil
		return nil, err
	}

	s.applySettings()

	return s.dev.GetOutput(), nil
}

func (s *stream) Stop() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.cancel != nil {
		// let the driver goroutine observe ctx.Done and stop streaming before
		// the device is closed underneath it
		s.cancel()
		time.Sleep(100 * time.Millisecond)
		s.cancel = nil
	}
	if s.dev != nil {
		err := s.dev.Close()
		s.dev = nil
		return err
	}
	return nil
}

// Update merges settings and applies them if the device is streaming.
func (s *stream) Update(settings Settings) {
	s.lock.Lock()
	defer s.lock.Unlock()

	changed := make(Settings)
	for k, v := range settings {
		if old, ok := s.settings[k]; !ok || old != v {
			changed[k] = v
		}
	}
	maps.Copy(s.settings, changed)
	s.apply(changed)
}

func (s *stream) applySettings() {
	s.apply(s.settings)
}

func (s *stream) apply(settings Settings) {
	if s.dev == nil {
		return
	}
	for _, k := range orderedCtrls(settings) {
		v := settings[k]
		if err := s.dev.SetControlValue(k, v); err != nil {
			logger.Warnf("set ctrl(%d) to %d, err: %s", k, v, err)
		}
	}
}

// SetControlValue writes one control without remembering it. It is meant
// for triggers such as AF start.
func (s *stream) SetControlValue(key v4l2.CtrlID, value v4l2.CtrlValue) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.dev == nil {
		return nil
	}

	return s.dev.SetControlValue(key, value)
}

// Control reads a control from the streaming device.
func (s *stream) Control(id v4l2.CtrlID) (v4l2.Control, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.dev == nil {
		return v4l2.Control{}, errors.New("camera not started")
	}

	return v4l2.GetControl(s.dev.Fd(), id)
}

// probe opens the device without streaming and reports its sizes and
// control ranges.
func probe(devName string) (sizes map[v4l2.FourCCType][]v4l2.FrameSizeEnum, ctrls map[v4l2.CtrlID]v4l2.Control, err error) {
	dev, err := device.Open(devName)
	if err != nil {
		return nil, nil, err
	}
	defer dev.Close()

	all, err := v4l2.GetAllFormatFrameSizes(dev.Fd())
	if err != nil {
		return nil, nil, fmt.Errorf("frame sizes: %w", err)
	}
	sizes = make(map[v4l2.FourCCType][]v4l2.FrameSizeEnum)
	for _, size := range all {
		sizes[size.PixelFormat] = append(sizes[size.PixelFormat], size)
	}

	ctrls = make(map[v4l2.CtrlID]v4l2.Control)
	for _, id := range knownCtrlIDs {
		ctrl, err := v4l2.GetControl(dev.Fd(), id)
		if err != nil {
			logger.Debugf("the device does not support control(%d)", id)
			continue
		}
		ctrls[id] = ctrl
	}

	return sizes, ctrls, nil
}

func fourcc(f v4l2.FourCCType) string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}
