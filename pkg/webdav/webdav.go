// Package webdav shares the stills directory over WebDAV on demand.
package webdav

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"qr-shutter-pi/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("webdav")
}

type Webdav struct {
	lock   sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	done   <-chan struct{}
	port   int
	dir    string
}

func New(ctx context.Context, port int, dir string) *Webdav {
	return &Webdav{
		ctx:  ctx,
		port: port,
		dir:  dir,
	}
}

// Start serves the directory until Stop is called or the parent context is
// done. Starting a running server is a no-op.
func (w *Webdav) Start() error {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.cancel != nil {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", w.port))
	if err != nil {
		return fmt.Errorf("webdav listen: %w", err)
	}
	newCtx, cancel := context.WithCancel(w.ctx)
	w.cancel = cancel
	w.done = Serve(newCtx, ln, w.dir)
	logger.Infof("webdav serving %s on %s", w.dir, ln.Addr())

	return nil
}

func (w *Webdav) Stop() {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.cancel = nil
	w.done = nil
}

func (w *Webdav) Running() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.cancel != nil
}

func (w *Webdav) Port() int {
	return w.port
}

func Handler(dir string) http.Handler {
	return &webdav.Handler{
		FileSystem: webdav.Dir(dir),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logger.Errorf("WEBDAV [%s]: %s, err: %s", r.Method, r.URL, err)
			}
		},
	}
}

// Serve runs a WebDAV server on ln until ctx is done. The returned channel is
// closed once the server has shut down.
func Serve(ctx context.Context, ln net.Listener, dir string) <-chan struct{} {
	svr := &http.Server{Handler: Handler(dir)}
	done := make(chan struct{})

	go func() {
		if err := svr.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("webdav server err: %s", err)
		}
	}()
	go func() {
		defer close(done)
		<-ctx.Done()
		srcCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svr.Shutdown(srcCtx); err != nil {
			logger.Errorf("shutdown webdav server err: %s", err)
		}
	}()

	return done
}
