// Package schedule fires the shutter on a fixed interval.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"qr-shutter-pi/pkg/camera"
	"qr-shutter-pi/pkg/utils"
)

// MinInterval keeps a full auto capture sequence inside one tick.
const MinInterval = time.Second

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("schedule")
}

type Shutter interface {
	TakePicture() error
}

type Scheduler struct {
	t       *time.Ticker
	shutter Shutter

	lock     sync.Mutex
	interval time.Duration
	shots    int
	skipped  int
}

// New returns a stopped scheduler whose loop exits when ctx is done.
func New(ctx context.Context, shutter Shutter) *Scheduler {
	t := time.NewTicker(time.Second)
	t.Stop()

	s := &Scheduler{
		t:       t,
		shutter: shutter,
	}
	go s.run(ctx)

	return s
}

// Begin (re)starts the shutter every interval.
func (s *Scheduler) Begin(interval time.Duration) error {
	if interval < MinInterval {
		return fmt.Errorf("interval %s less than %s", interval, MinInterval)
	}
	s.lock.Lock()
	s.interval = interval
	s.shots, s.skipped = 0, 0
	s.lock.Unlock()
	s.t.Reset(interval)
	logger.Infof("shutter every %s", interval)

	return nil
}

func (s *Scheduler) Stop() {
	s.t.Stop()
	s.lock.Lock()
	s.interval = 0
	s.lock.Unlock()
	logger.Info("stopped")
}

type Status struct {
	Interval time.Duration `json:"interval"`
	Shots    int           `json:"shots"`
	Skipped  int           `json:"skipped"`
}

func (s *Scheduler) Status() Status {
	s.lock.Lock()
	defer s.lock.Unlock()
	return Status{Interval: s.interval, Shots: s.shots, Skipped: s.skipped}
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		select {
		case start := <-s.t.C:
			s.tick(start)
		case <-ctx.Done():
			s.t.Stop()
			logger.Info("scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) tick(start time.Time) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.interval == 0 {
		return
	}

	err := s.shutter.TakePicture()
	switch {
	case err == nil:
		s.shots++
		logger.Debugf("shutter fired at %s", start.Format(time.TimeOnly))
	case errors.Is(err, camera.ErrCaptureInProgress):
		s.skipped++
		logger.Warn("previous capture still running, skipping this tick")
	default:
		s.skipped++
		logger.Errorf("take picture: %s", err)
	}
}
