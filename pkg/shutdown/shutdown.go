package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ErrAborted is returned by WaitDrained when a second signal cut the grace
// period short.
var ErrAborted = errors.New("shutdown: drain aborted by second signal")

// Handle tracks one drain lifecycle.
type Handle struct {
	log *zap.SugaredLogger

	drainOnce sync.Once
	drain     chan struct{}
	abortOnce sync.Once
	abort     chan struct{}

	wg sync.WaitGroup
}

// Watch installs SIGINT/SIGTERM handling and returns a context that is
// cancelled when the first signal arrives (or when the parent ends), together
// with the drain handle.
func Watch(ctx context.Context, log *zap.SugaredLogger) (context.Context, *Handle) {
	ctx, cancel := context.WithCancel(ctx)
	h := newHandle(log)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			h.log.Infow("Received signal, starting drain", "signal", sig.String())
			h.beginDrain()
			cancel()
		case <-ctx.Done():
			h.beginDrain()
			return
		}
		select {
		case sig := <-sigCh:
			h.log.Warnw("Received second signal, aborting drain", "signal", sig.String())
			h.abortDrain()
		case <-h.abort:
		}
	}()

	return ctx, h
}

func newHandle(log *zap.SugaredLogger) *Handle {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handle{
		log:   log.Named("shutdown"),
		drain: make(chan struct{}),
		abort: make(chan struct{}),
	}
}

// Draining returns a channel closed when the drain has started.
func (h *Handle) Draining() <-chan struct{} {
	return h.drain
}

// Aborted returns a channel closed when a second signal demanded an
// immediate stop.
func (h *Handle) Aborted() <-chan struct{} {
	return h.abort
}

// Register adds a drain participant and returns its release function. The
// release is idempotent; WaitDrained blocks until every participant has
// released.
func (h *Handle) Register() func() {
	h.wg.Add(1)
	var once sync.Once
	return func() {
		once.Do(h.wg.Done)
	}
}

// WaitDrained blocks until every registered participant released, the grace
// period elapsed, or a second signal aborted the drain.
func (h *Handle) WaitDrained(grace time.Duration) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-h.abort:
		return ErrAborted
	case <-timer.C:
		return fmt.Errorf("shutdown: grace period %s elapsed with participants still draining", grace)
	}
}

func (h *Handle) beginDrain() {
	h.drainOnce.Do(func() {
		close(h.drain)
	})
}

func (h *Handle) abortDrain() {
	h.abortOnce.Do(func() {
		close(h.abort)
	})
}
