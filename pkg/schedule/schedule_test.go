package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"qr-shutter-pi/pkg/camera"
)

type countingShutter struct {
	n    atomic.Int32
	busy atomic.Bool
}

func (c *countingShutter) TakePicture() error {
	if c.busy.Load() {
		return camera.ErrCaptureInProgress
	}
	c.n.Add(1)
	return nil
}

func TestSchedulerMinInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(ctx, &countingShutter{})

	if err := s.Begin(10 * time.Millisecond); err == nil {
		t.Fatal("interval below the minimum accepted")
	}
	if st := s.Status(); st.Interval != 0 {
		t.Fatalf("status %+v", st)
	}
}

func TestSchedulerTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shutter := &countingShutter{}
	s := New(ctx, shutter)

	s.lock.Lock()
	s.interval = time.Second
	s.lock.Unlock()

	s.tick(time.Now())
	shutter.busy.Store(true)
	s.tick(time.Now())

	st := s.Status()
	if st.Shots != 1 || st.Skipped != 1 || shutter.n.Load() != 1 {
		t.Fatalf("status %+v, fired %d", st, shutter.n.Load())
	}

	s.Stop()
	s.tick(time.Now())
	if shutter.n.Load() != 1 {
		t.Fatal("fired after stop")
	}
}

func TestSchedulerRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shutter := &countingShutter{}
	s := New(ctx, shutter)

	if err := s.Begin(MinInterval); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for shutter.n.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("shutter never fired")
		}
		time.Sleep(20 * time.Millisecond)
	}
	s.Stop()
}
