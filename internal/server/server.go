// Package server is the control plane: it owns the admin listener, the file transfer
// listeners and the managed processes, and runs their shared lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/MuhamedUsman/adminplane/internal/config"
	"github.com/MuhamedUsman/adminplane/internal/dispatch"
	"github.com/MuhamedUsman/adminplane/internal/filetransfer"
	"github.com/MuhamedUsman/adminplane/internal/logging"
	"github.com/MuhamedUsman/adminplane/internal/mdns"
	"github.com/MuhamedUsman/adminplane/internal/metrics"
	"github.com/MuhamedUsman/adminplane/internal/network"
	"github.com/MuhamedUsman/adminplane/internal/storage"
	"github.com/MuhamedUsman/adminplane/internal/transport"
	"github.com/MuhamedUsman/adminplane/internal/webproc"
	"github.com/MuhamedUsman/adminplane/internal/wire"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"slices"
	"sync/atomic"
	"syscall"
	"time"
)

var (
	ErrNotRunning = errors.New("server is not running")
	ErrClosed     = errors.New("server already ran")
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Hooks run around the lifecycle transitions. BeforeStart may abort a start.
type Hooks struct {
	BeforeStart func(ctx context.Context) error
	AfterStart  func()
	BeforeStop  func()
	AfterStop   func()
}

type Options struct {
	Config config.Config
	Log    *slog.Logger
	// Logs backs the built-in log dispatcher.
	Logs     *logging.Buffer
	Registry *dispatch.Registry
	// Storage overrides the backend built from the [storage] section.
	Storage storage.FileStorage
	Metrics *metrics.Metrics
	// Processes are managed in addition to the one described by [web].
	Processes []webproc.Process
	Hooks     Hooks
}

// Server runs once: after Stop it cannot be started again.
type Server struct {
	opts     Options
	cfg      config.Config
	log      *slog.Logger
	state    atomic.Int32
	tr       transport.Factory
	comm     *wire.Communicator
	registry *dispatch.Registry
	metrics  *metrics.Metrics
	storage  storage.FileStorage
	admin    *network.Listener
	files    *filetransfer.Server
	procs    []webproc.Process

	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
	stopErr error
}

// New validates the configuration and prepares the server without binding anything.
func New(opts Options) (*Server, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Registry == nil {
		opts.Registry = dispatch.NewRegistry(opts.Log)
	}
	tr, err := cfg.Transport()
	if err != nil {
		return nil, fmt.Errorf("building transport: %w", err)
	}
	comm, err := cfg.Communicator()
	if err != nil {
		return nil, err
	}
	s := &Server{
		opts:     opts,
		cfg:      cfg,
		log:      opts.Log.With("server", cfg.Server.Name),
		tr:       tr,
		comm:     comm,
		registry: opts.Registry,
		metrics:  opts.Metrics,
		done:     make(chan struct{}),
	}
	s.admin = network.NewListener(network.ListenerOptions{
		Name:      metrics.Admin,
		Addr:      network.JoinHostPort(cfg.Server.Host, cfg.Server.AdminPort),
		Transport: tr,
		MaxConns:  cfg.Server.MaxConnections,
		Handler:   s.handleAdmin,
		Log:       opts.Log,
		Metrics:   opts.Metrics,
	})
	if cfg.Web.Enabled {
		s.procs = append(s.procs, s.webProcess())
	}
	s.procs = append(s.procs, opts.Processes...)
	return s, nil
}

func (s *Server) webProcess() webproc.Process {
	addr := network.JoinHostPort(s.cfg.Server.Host, s.cfg.Web.Port)
	if s.cfg.Web.Command != "" {
		return webproc.NewExecProcess(webproc.ExecOptions{
			Name:     "web",
			Command:  s.cfg.Web.Command,
			Args:     s.cfg.Web.Args,
			ProbeURL: "http://" + network.JoinHostPort(s.cfg.DialHost(), s.cfg.Web.Port) + "/",
			Log:      s.opts.Log,
		})
	}
	return webproc.NewStatusServer(webproc.StatusOptions{
		Addr:    addr,
		Status:  func() any { return s.Status() },
		Healthy: func() bool { return s.State() == StateRunning },
		Metrics: s.metrics.Handler(),
		Log:     s.opts.Log,
	})
}

func (s *Server) tempDir() string {
	if s.cfg.Files.TempDir != "" {
		return s.cfg.Files.TempDir
	}
	return filepath.Join(os.TempDir(), "adminplane", "transfer")
}

func (s *Server) setState(st State) {
	s.state.Store(int32(st))
	s.metrics.State(int(st))
}

func (s *Server) State() State { return State(s.state.Load()) }

// Done is closed once the server has stopped for good, after Stop or a failed Start.
func (s *Server) Done() <-chan struct{} { return s.done }

// Addr is the admin listener address, nil before Start.
func (s *Server) Addr() net.Addr { return s.admin.Addr() }

// Files returns the file transfer subsystem, nil when disabled or before Start.
func (s *Server) Files() *filetransfer.Server { return s.files }

// Start binds every listener and starts the managed processes. On failure everything
// already started is released and the server is left Stopped.
func (s *Server) Start(ctx context.Context) (err error) {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("starting server: state is %s", s.State())
	}
	s.metrics.State(int(StateStarting))
	// the listeners outlive ctx: Stop cancels them once in-flight work has drained
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var rollback []func()
	defer func() {
		if err == nil {
			return
		}
		for _, fn := range slices.Backward(rollback) {
			fn()
		}
		cancel()
		s.setState(StateStopped)
		close(s.done)
	}()

	if h := s.opts.Hooks.BeforeStart; h != nil {
		if err = h(ctx); err != nil {
			return fmt.Errorf("before start hook: %w", err)
		}
	}
	if s.cfg.Files.Enabled {
		if err = s.openStorage(ctx); err != nil {
			return err
		}
	}
	s.started = time.Now()
	err = s.registry.Init(s.cfg.Server.Dispatchers, dispatch.Deps{
		Log:        s.opts.Log,
		ServerName: s.cfg.Server.Name,
		Logs:       s.opts.Logs,
		StartedAt:  s.started,
	})
	if err != nil {
		return err
	}

	if s.cfg.Files.Enabled {
		files := filetransfer.New(filetransfer.Options{
			ServerName:    s.cfg.Server.Name,
			Host:          s.cfg.Server.Host,
			DownloadPort:  s.cfg.Files.DownloadPort,
			UploadPort:    s.cfg.Files.UploadPort,
			Transport:     s.tr,
			Comm:          s.comm,
			Storage:       s.storage,
			BufferSize:    s.cfg.Files.BufferKB * 1024,
			MaxUploadSize: s.cfg.Files.MaxUploadSize,
			TempDir:       s.tempDir(),
			MaxConns:      s.cfg.Server.MaxConnections,
			Log:           s.opts.Log,
			Metrics:       s.metrics,
		})
		if err = files.Start(ctx); err != nil {
			return err
		}
		s.files = files
		rollback = append(rollback, func() { _ = files.Stop(time.Second) })
	}

	if err = s.admin.Start(ctx); err != nil {
		return err
	}
	rollback = append(rollback, func() { _ = s.admin.Stop(time.Second) })

	for _, p := range s.procs {
		if err = p.Start(ctx); err != nil {
			return fmt.Errorf("starting %s: %w", p.Name(), err)
		}
		rollback = append(rollback, func() { _ = p.Stop(context.Background()) })
	}

	if s.cfg.MDNS.Publish {
		go s.publish(ctx)
	}

	s.cancel = cancel
	s.setState(StateRunning)
	s.log.Info("Control plane running",
		"admin", s.admin.Addr().String(),
		"files", s.cfg.Files.Enabled,
		"transport", s.tr.Mode(),
		"modules", s.registry.Modules(),
	)
	if h := s.opts.Hooks.AfterStart; h != nil {
		h()
	}
	return nil
}

func (s *Server) openStorage(ctx context.Context) error {
	if s.opts.Storage != nil {
		s.storage = s.opts.Storage
		return nil
	}
	st, err := storage.New(ctx, s.cfg.Storage, s.tempDir(), s.opts.Log)
	if err != nil {
		return fmt.Errorf("opening file storage: %w", err)
	}
	s.storage = st
	return nil
}

func (s *Server) publish(ctx context.Context) {
	instance := s.cfg.MDNS.Instance
	if instance == "" {
		instance = s.cfg.Server.Name
	}
	ip, err := network.AdvertiseIP(s.cfg.Server.Host)
	if err != nil {
		s.log.Warn("mDNS publication skipped", "err", err)
		return
	}
	host, _ := os.Hostname()
	err = mdns.Publish(ctx, mdns.Advert{
		Instance: instance,
		Host:     host,
		Server:   s.cfg.Server.Name,
		Port:     s.admin.Addr().(*net.TCPAddr).Port,
		IP:       ip.AsSlice(),
	})
	if err != nil {
		s.log.Error("Publishing mDNS entry", "err", err)
	}
}

// Serve starts the server and blocks until it is stopped by a STOP command, a signal
// or ctx.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	select {
	case <-s.done:
		return s.stopErr
	case <-ctx.Done():
		s.log.Info("Context done, stopping")
	case sig := <-quit:
		s.log.Info("Signal received, stopping", "signal", sig.String())
	}
	return s.Stop()
}

// Stop runs the shutdown sequence. Only the first call does the work; later calls wait
// for it to finish.
func (s *Server) Stop() error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		switch s.State() {
		case StateStopping:
			<-s.done
			return nil
		case StateStopped:
			select {
			case <-s.done:
				return nil
			default:
			}
		}
		return ErrNotRunning
	}
	s.metrics.State(int(StateStopping))
	s.log.Info("Stopping control plane")
	// one deadline bounds the whole sequence; each step gets what is left of it
	deadline := time.Now().Add(s.cfg.Server.ShutdownTimeout.Duration)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	remaining := func() time.Duration { return max(time.Until(deadline), 0) }

	s.admin.Close()
	if h := s.opts.Hooks.BeforeStop; h != nil {
		h()
	}
	var errs []error
	if s.files != nil {
		errs = append(errs, s.files.Stop(remaining()))
	}
	for _, p := range s.procs {
		if err := p.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", p.Name(), err))
		}
	}
	errs = append(errs, s.admin.Stop(remaining()))
	s.cancel()

	if h := s.opts.Hooks.AfterStop; h != nil {
		h()
	}
	s.stopErr = errors.Join(errs...)
	s.setState(StateStopped)
	close(s.done)
	s.log.Info("Control plane stopped", "err", s.stopErr)
	return s.stopErr
}

// Status is the snapshot served by the status server.
type Status struct {
	Server     string   `json:"server"`
	State      string   `json:"state"`
	StartedAt  string   `json:"startedAt,omitempty"`
	Modules    []string `json:"modules"`
	Downloads  int      `json:"pendingDownloads"`
	Uploads    int      `json:"pendingUploads"`
	Goroutines int      `json:"goroutines"`
}

func (s *Server) Status() Status {
	st := Status{
		Server:     s.cfg.Server.Name,
		State:      s.State().String(),
		Modules:    s.registry.Modules(),
		Goroutines: runtime.NumGoroutine(),
	}
	if !s.started.IsZero() {
		st.StartedAt = s.started.Format(time.RFC3339)
	}
	if s.files != nil {
		st.Downloads = s.files.PendingDownloads()
		st.Uploads = s.files.PendingUploads()
	}
	return st
}
