package webproc

import (
	"context"
	"errors"
	"fmt"
	"github.com/MuhamedUsman/adminplane/internal/logging"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

var ErrExited = errors.New("process exited")

type ExecOptions struct {
	Name    string
	Command string
	Args    []string
	// ProbeURL is fetched by Check; empty means only liveness of the process is checked.
	ProbeURL string
	Log      *slog.Logger
}

// ExecProcess runs an external command, typically a web server, for the lifetime of the
// control plane. Stop sends SIGTERM and kills the process if ctx ends first.
type ExecProcess struct {
	opts ExecOptions
	log  *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
	err    error
}

func NewExecProcess(opts ExecOptions) *ExecProcess {
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	if opts.Name == "" {
		opts.Name = "web"
	}
	return &ExecProcess{opts: opts, log: opts.Log.With("process", opts.Name)}
}

func (p *ExecProcess) Name() string { return p.opts.Name }

func (p *ExecProcess) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return fmt.Errorf("%s already started", p.opts.Name)
	}
	cmd := exec.Command(p.opts.Command, p.opts.Args...)
	cmd.Stdout = logWriter{log: p.log, level: slog.LevelInfo}
	cmd.Stderr = logWriter{log: p.log, level: slog.LevelWarn}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", p.opts.Name, err)
	}
	p.cmd = cmd
	p.exited = make(chan struct{})
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.exited)
		p.log.Info("Process exited", "pid", cmd.Process.Pid, "err", err)
	}()
	p.log.Info("Process started", "pid", cmd.Process.Pid, "command", p.opts.Command)
	return nil
}

func (p *ExecProcess) Stop(ctx context.Context) error {
	p.mu.Lock()
	cmd, exited := p.cmd, p.exited
	p.mu.Unlock()
	if cmd == nil {
		return nil
	}
	select {
	case <-exited:
		return nil
	default:
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.log.Debug("SIGTERM not delivered, killing", "err", err)
		_ = cmd.Process.Kill()
	}
	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("killing %s: %w", p.opts.Name, err)
		}
		<-exited
		p.log.Warn("Process killed after grace period")
		return nil
	}
}

func (p *ExecProcess) Check(ctx context.Context) error {
	p.mu.Lock()
	cmd, exited, err := p.cmd, p.exited, p.err
	p.mu.Unlock()
	if cmd == nil {
		return fmt.Errorf("%s not started", p.opts.Name)
	}
	select {
	case <-exited:
		return fmt.Errorf("%w: %v", ErrExited, err)
	default:
	}
	if p.opts.ProbeURL == "" {
		return nil
	}
	return probe(ctx, p.opts.ProbeURL)
}

// logWriter turns process output into log records, one per line.
type logWriter struct {
	log   *slog.Logger
	level slog.Level
}

func (w logWriter) Write(b []byte) (int, error) {
	for line := range strings.Lines(string(b)) {
		if l := strings.TrimRight(line, "\r\n"); l != "" {
			w.log.Log(context.Background(), w.level, l)
		}
	}
	return len(b), nil
}
