package network

import (
	"context"
	"errors"
	"fmt"
	"github.com/MuhamedUsman/adminplane/internal/bgtask"
	"github.com/MuhamedUsman/adminplane/internal/logging"
	"github.com/MuhamedUsman/adminplane/internal/metrics"
	"github.com/MuhamedUsman/adminplane/internal/transport"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Handler serves one accepted connection. The listener closes conn after it returns.
type Handler func(ctx context.Context, conn net.Conn)

type ListenerOptions struct {
	// Name labels logs and metrics, e.g. "admin".
	Name      string
	Addr      string
	Transport transport.Factory
	// MaxConns bounds concurrently served connections; <= 0 means unbounded.
	MaxConns int
	Handler  Handler
	Log      *slog.Logger
	Metrics  *metrics.Metrics
}

// Listener owns one listening socket, its accept loop and its connection pool.
type Listener struct {
	opts     ListenerOptions
	log      *slog.Logger
	ln       net.Listener
	bt       *bgtask.BackgroundTask
	stopping atomic.Bool
	stopOnce sync.Once
	loopDone chan struct{}

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func NewListener(opts ListenerOptions) *Listener {
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}
	return &Listener{
		opts:     opts,
		log:      log.With("listener", opts.Name),
		loopDone: make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start binds the socket and runs the accept loop until Stop or ctx ends.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := l.opts.Transport.Listen(l.opts.Addr)
	if err != nil {
		return fmt.Errorf("binding %s listener on %s: %w", l.opts.Name, l.opts.Addr, err)
	}
	l.ln = ln
	l.bt = bgtask.New(ctx, l.opts.MaxConns, l.log)
	go func() {
		<-ctx.Done()
		l.closeSocket()
	}()
	go l.acceptLoop(ctx)
	l.log.Info("Listening", "addr", ln.Addr().String(), "transport", l.opts.Transport.Mode())
	return nil
}

// Addr is the bound address, nil before Start.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Stopping reports whether Stop has been requested.
func (l *Listener) Stopping() bool {
	return l.stopping.Load()
}

// Close stops accepting without waiting for in-flight connections. Stop must still be
// called to drain them.
func (l *Listener) Close() {
	l.closeSocket()
}

func (l *Listener) closeSocket() {
	l.stopping.Store(true)
	if l.ln != nil {
		_ = l.ln.Close()
	}
}

func (l *Listener) acceptLoop(ctx context.Context) {
	defer close(l.loopDone)
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.stopping.Load() || errors.Is(err, net.ErrClosed) {
				l.log.Debug("Accept loop finished", "err", err)
				return
			}
			l.log.Error("Accept failed", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		l.opts.Metrics.ConnectionAccepted(l.opts.Name)
		l.track(conn, true)
		err = l.bt.Run(ctx, func(shutdownCtx context.Context) {
			start := time.Now()
			defer func() {
				l.track(conn, false)
				_ = conn.Close()
				l.opts.Metrics.ConnectionDone(l.opts.Name, time.Since(start))
			}()
			l.opts.Handler(shutdownCtx, conn)
		})
		if err != nil {
			l.track(conn, false)
			_ = conn.Close()
			if !l.stopping.Load() {
				l.log.Warn("Connection rejected", "remote", conn.RemoteAddr().String(), "err", err)
			}
		}
	}
}

func (l *Listener) track(c net.Conn, add bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if add {
		l.conns[c] = struct{}{}
	} else {
		delete(l.conns, c)
	}
}

// Stop closes the socket, lets in-flight connections finish within timeout and then
// force-closes whatever is still open. Only the first call does any work.
func (l *Listener) Stop(timeout time.Duration) error {
	var err error
	l.stopOnce.Do(func() {
		if l.ln == nil {
			return
		}
		l.closeSocket()
		if err = l.bt.Shutdown(timeout); err != nil {
			l.mu.Lock()
			n := len(l.conns)
			for c := range l.conns {
				_ = c.Close()
			}
			l.mu.Unlock()
			l.log.Warn("Force-closed connections after shutdown timeout", "count", n)
		}
		// the loop may still be parked waiting for a pool slot until Shutdown cancels it
		<-l.loopDone
		l.log.Info("Stopped")
	})
	return err
}
