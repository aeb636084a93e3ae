package webproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/MuhamedUsman/adminplane/internal/logging"
	"github.com/justinas/alice"
	"log/slog"
	"net"
	"net/http"
	"time"
)

type envelop map[string]any

type StatusOptions struct {
	Addr string
	// Status is rendered as JSON by GET /healthz.
	Status func() any
	// Healthy decides between 200 and 503 on /healthz; nil means always healthy.
	Healthy func() bool
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	Log     *slog.Logger
}

// StatusServer is the built-in web process exposing health and metrics over HTTP.
type StatusServer struct {
	opts StatusOptions
	log  *slog.Logger
	srv  *http.Server
	ln   net.Listener
	done chan error
}

func NewStatusServer(opts StatusOptions) *StatusServer {
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	s := &StatusServer{opts: opts, log: opts.Log.With("process", "status")}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		ReadTimeout:       4 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		IdleTimeout:       10 * time.Second,
		Handler:           s.routes(),
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}
	return s
}

func (s *StatusServer) Name() string { return "status" }

// Addr is the bound address, nil before Start.
func (s *StatusServer) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *StatusServer) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("binding status server on %s: %w", s.opts.Addr, err)
	}
	s.ln = ln
	s.done = make(chan error, 1)
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.done <- err
		}
	}()
	s.log.Info("Starting status server", "address", ln.Addr().String())
	return nil
}

func (s *StatusServer) Stop(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status server: %w", err)
	}
	if err := <-s.done; err != nil {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

func (s *StatusServer) Check(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("status server not started")
	}
	return probe(ctx, "http://"+s.ln.Addr().String()+"/healthz")
}

func (s *StatusServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.errorResponse(w, r, http.StatusNotFound, "the requested resource cannot be found")
	})
	return alice.New(s.recoverPanic, s.logRequest).Then(mux)
}

func (s *StatusServer) healthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if s.opts.Healthy != nil && !s.opts.Healthy() {
		status = http.StatusServiceUnavailable
	}
	var body any = envelop{"status": http.StatusText(status)}
	if s.opts.Status != nil {
		body = s.opts.Status()
	}
	if err := writeJSON(w, body, status); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}

func (s *StatusServer) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				w.Header().Set("Connection", "close")
				s.serverErrorResponse(w, r, fmt.Errorf("%s", err))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *StatusServer) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("Request served", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "took", time.Since(start))
	})
}

func (s *StatusServer) errorResponse(w http.ResponseWriter, r *http.Request, status int, message string) {
	if err := writeJSON(w, envelop{"errors": message}, status); err != nil {
		s.log.Error("Writing error response", "path", r.URL.Path, "err", err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (s *StatusServer) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error(err.Error(), "method", r.Method, "path", r.URL.Path)
	s.errorResponse(w, r, http.StatusInternalServerError, "the server encountered a problem and could not process your request")
}

func writeJSON(w http.ResponseWriter, data any, status int) error {
	b, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(b)
	return err
}
