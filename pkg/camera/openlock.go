package camera

import (
	"context"
	"sync"
	"time"
)

const DefaultOpenLockTimeout = 2500 * time.Millisecond

// openLock is the single permit guarding device open and close.
type openLock struct {
	permit chan struct{}
}

func newOpenLock() *openLock {
	return &openLock{permit: make(chan struct{}, 1)}
}

// acquire waits for the permit until timeout (no limit when timeout <= 0) or
// ctx is done. The returned release func is safe to call any number of times.
func (l *openLock) acquire(ctx context.Context, timeout time.Duration) (func(), error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case l.permit <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-l.permit })
	}, nil
}

func (l *openLock) held() bool {
	return len(l.permit) == 1
}
