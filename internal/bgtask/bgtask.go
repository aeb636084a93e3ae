package bgtask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var ErrClosed = errors.New("background task pool is shut down")

// BackgroundTask runs a bounded number of goroutines with a shared lifecycle.
// Shutdown first lets running tasks finish and only cancels their context once the
// timeout is exceeded.
type BackgroundTask struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
	slots  chan struct{}
	wg     sync.WaitGroup
	tasks  atomic.Int32
	mu     sync.Mutex
	closed bool
}

// New returns a pool allowing at most limit concurrent tasks; limit <= 0 means unbounded.
func New(parent context.Context, limit int, log *slog.Logger) *BackgroundTask {
	ctx, cancel := context.WithCancel(parent)
	bt := &BackgroundTask{ctx: ctx, cancel: cancel, log: log}
	if limit > 0 {
		bt.slots = make(chan struct{}, limit)
	}
	if bt.log == nil {
		bt.log = slog.New(slog.DiscardHandler)
	}
	return bt
}

// Count returns the number of running tasks.
func (bt *BackgroundTask) Count() int {
	return int(bt.tasks.Load())
}

// Run executes fn in a tracked goroutine, waiting for a free slot first.
// It returns ErrClosed after Shutdown, or the context error if ctx ends while waiting.
// Panics in fn are recovered and logged.
func (bt *BackgroundTask) Run(ctx context.Context, fn func(shutdownCtx context.Context)) error {
	if bt.slots != nil {
		select {
		case bt.slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		case <-bt.ctx.Done():
			return ErrClosed
		}
	}
	bt.mu.Lock()
	if bt.closed {
		bt.mu.Unlock()
		bt.release()
		return ErrClosed
	}
	bt.wg.Add(1)
	bt.mu.Unlock()
	bt.tasks.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				bt.log.Error("Background task panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			}
			bt.tasks.Add(-1)
			bt.release()
			bt.wg.Done()
		}()
		fn(bt.ctx)
	}()
	return nil
}

func (bt *BackgroundTask) release() {
	if bt.slots != nil {
		<-bt.slots
	}
}

// Shutdown stops accepting tasks and waits for running ones. After timeout the shared
// context is canceled and an error reporting the stragglers is returned.
func (bt *BackgroundTask) Shutdown(timeout time.Duration) error {
	bt.mu.Lock()
	bt.closed = true
	bt.mu.Unlock()
	wait := make(chan struct{})
	go func() {
		bt.wg.Wait()
		close(wait)
	}()
	defer bt.cancel()
	select {
	case <-wait:
		return nil
	case <-time.After(timeout):
		select {
		case <-wait:
			return nil
		default:
		}
		return fmt.Errorf("shutdown timeout, some background tasks may not have finished, \"count\"=%v", bt.tasks.Load())
	}
}
