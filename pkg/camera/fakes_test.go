package camera

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordListener struct {
	mu        sync.Mutex
	found     []string
	notices   []Notice
	isos      []int
	isoIdx    int
	exposures []int
	expIdx    int
}

func (l *recordListener) OnFound(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.found = append(l.found, text)
}

func (l *recordListener) OnExposureRangeLoaded(divisors []int, defaultIndex int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exposures, l.expIdx = divisors, defaultIndex
}

func (l *recordListener) OnIsoRangeLoaded(values []int, defaultIndex int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isos, l.isoIdx = values, defaultIndex
}

func (l *recordListener) OnNotice(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *recordListener) Found() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.found...)
}

func (l *recordListener) Notices() []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Notice(nil), l.notices...)
}

type fakeSession struct {
	mu        sync.Mutex
	sink      EventSink
	still     []byte
	stillErr  error
	repeating []Request
	captures  []Request
	stops     int
	closed    bool
}

func (s *fakeSession) SetRepeatingRequest(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repeating = append(s.repeating, req)
	return nil
}

func (s *fakeSession) StopRepeating() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *fakeSession) Capture(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Tag == TagStill && s.stillErr != nil {
		return s.stillErr
	}
	s.captures = append(s.captures, req)
	if req.Tag == TagStill && s.sink != nil {
		s.sink.Post(StillImage{Data: s.still})
		s.sink.Post(StillCaptureCompleted{})
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) lastRepeating() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repeating[len(s.repeating)-1]
}

func (s *fakeSession) capturesTagged(tag RequestTag) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.captures {
		if r.Tag == tag {
			out = append(out, r)
		}
	}
	return out
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeCamera struct {
	dev    *fakeDevice
	closed bool
}

func (c *fakeCamera) CreateSession(outputs []Output) error {
	c.dev.mu.Lock()
	c.dev.outputs = outputs
	sink, s := c.dev.sink, c.dev.session
	c.dev.mu.Unlock()

	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
	sink.Post(SessionConfigured{Session: s})
	return nil
}

func (c *fakeCamera) Close() error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.closed = true
	c.dev.closes++
	return nil
}

type fakeDevice struct {
	mu      sync.Mutex
	cams    []Characteristics
	session *fakeSession
	sink    EventSink
	outputs []Output
	opens   int
	closes  int
	silent  bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		cams: []Characteristics{
			{ID: "front", Facing: FacingFront},
			{
				ID:            "back",
				Facing:        FacingBack,
				IsoRange:      IntRange{Min: 50, Max: 1000},
				ExposureRange: DurationRange{Min: 100 * time.Microsecond, Max: time.Second},
				StillSizes:    []Size{{640, 480}, {4032, 3024}, {1920, 1080}},
				PreviewSizes:  []Size{{1920, 1080}, {1440, 1080}, {1024, 768}, {640, 480}},
			},
		},
		session: &fakeSession{still: []byte{0xff, 0xd8, 0xff, 0xd9}},
	}
}

func (d *fakeDevice) Cameras() ([]Characteristics, error) {
	if len(d.cams) == 0 {
		return nil, errors.New("no cameras")
	}
	return d.cams, nil
}

func (d *fakeDevice) Open(id string, sink EventSink) error {
	d.mu.Lock()
	d.opens++
	d.sink = sink
	silent := d.silent
	d.mu.Unlock()

	if !silent {
		sink.Post(DeviceOpened{Camera: &fakeCamera{dev: d}})
	}
	return nil
}

type memStills struct {
	mu    sync.Mutex
	names []string
}

func (s *memStills) SaveStill(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	return nil
}

func (s *memStills) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func checkErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
