package server

import (
	"bytes"
	"context"
	"errors"
	"github.com/MuhamedUsman/adminplane/internal/client"
	"github.com/MuhamedUsman/adminplane/internal/config"
	"github.com/MuhamedUsman/adminplane/internal/dispatch"
	"github.com/MuhamedUsman/adminplane/internal/filetransfer"
	"github.com/MuhamedUsman/adminplane/internal/health"
	"github.com/MuhamedUsman/adminplane/internal/logging"
	"github.com/MuhamedUsman/adminplane/internal/message"
	"github.com/MuhamedUsman/adminplane/internal/webproc"
	"github.com/MuhamedUsman/adminplane/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Name = "X"
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.AdminPort = 0
	cfg.Server.ConnectionTimeout = config.Duration{Duration: 2 * time.Second}
	cfg.Server.ShutdownTimeout = config.Duration{Duration: 2 * time.Second}
	cfg.Files.DownloadPort = 0
	cfg.Files.UploadPort = 0
	cfg.Files.TempDir = t.TempDir()
	cfg.Storage.Location = t.TempDir()
	return cfg
}

func startServer(t *testing.T, cfg config.Config, hooks Hooks) *Server {
	t.Helper()
	s, err := New(Options{Config: cfg, Logs: logging.NewBuffer(100), Hooks: hooks})
	require.NoError(t, err)
	require.NoError(t, s.Start(t.Context()))
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func clientFor(t *testing.T, s *Server) *client.Client {
	t.Helper()
	comm, err := s.cfg.Communicator()
	require.NoError(t, err)
	opts := client.Options{
		ServerName: s.cfg.Server.Name,
		AdminAddr:  s.Addr().String(),
		Comm:       comm,
	}
	if f := s.Files(); f != nil {
		opts.DownloadAddr = f.Download().Addr().String()
		opts.UploadAddr = f.Upload().Addr().String()
	}
	c, err := client.New(opts)
	require.NoError(t, err)
	return c
}

// rawExchange writes cmd to addr and returns whatever the server sends before closing.
func rawExchange(t *testing.T, addr net.Addr, cmd message.Command) []byte {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	comm := wire.NewCommunicator(nil, 0, 2*time.Second)
	require.NoError(t, comm.WriteCommand(conn, cmd))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	return b
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Name = ""
	_, err := New(Options{Config: cfg})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestStopIsIdempotent(t *testing.T) {
	var stops atomic.Int32
	s := startServer(t, testConfig(t), Hooks{AfterStop: func() { stops.Add(1) }})
	c := clientFor(t, s)
	assert.Equal(t, StateRunning, s.State())

	require.NoError(t, c.Stop(t.Context()))
	// the second STOP may race the closing socket; either way it must not stop twice
	_ = c.Stop(t.Context())

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, StateStopped, s.State())
	assert.NoError(t, s.Stop())
	assert.Equal(t, int32(1), stops.Load())
	assert.ErrorIs(t, s.Start(t.Context()), ErrClosed)

	_, err := net.DialTimeout("tcp", s.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err, "admin port must be closed")
}

func TestWrongServerNameIsIgnored(t *testing.T) {
	s := startServer(t, testConfig(t), Hooks{})
	cmd := message.NewCommand("other", message.VerbFileReceiveRequest)
	cmd.Entity = "a.txt:abc"
	cmd.ID = 3
	assert.Empty(t, rawExchange(t, s.Addr(), cmd))
	assert.Zero(t, s.Files().PendingUploads())

	stop := message.NewCommand("other", message.VerbStop)
	assert.Empty(t, rawExchange(t, s.Addr(), stop))
	assert.Equal(t, StateRunning, s.State())
}

func TestFileGetUnknownIDClosesWithoutReply(t *testing.T) {
	s := startServer(t, testConfig(t), Hooks{})
	cmd := message.NewCommand("X", message.VerbFileGet)
	cmd.FileID = "abc"
	assert.Empty(t, rawExchange(t, s.Addr(), cmd), "admin port")
	assert.Empty(t, rawExchange(t, s.Files().Download().Addr(), cmd), "download port")
}

func TestHealthFlagsClosedUploadListener(t *testing.T) {
	s := startServer(t, testConfig(t), Hooks{})
	c := clientFor(t, s)

	r, err := c.Health(t.Context())
	require.NoError(t, err)
	assert.True(t, r.Healthy, "unhealthy: %v", r.Components)
	assert.Len(t, r.Components, 3)

	require.NoError(t, s.Files().Upload().Stop(time.Second))
	r, err = c.Health(t.Context())
	require.NoError(t, err)
	assert.False(t, r.Healthy)
	assert.Equal(t, []string{health.Upload}, r.Unhealthy())
	down, ok := r.Component(health.Download)
	require.True(t, ok)
	assert.True(t, down.Healthy)
	assert.Zero(t, s.Files().PendingUploads(), "failed ping must not stay queued")
}

// stuckProcess never answers a health check until the check is abandoned.
type stuckProcess struct{}

func (stuckProcess) Name() string                { return "slow" }
func (stuckProcess) Start(context.Context) error { return nil }
func (stuckProcess) Stop(context.Context) error  { return nil }
func (stuckProcess) Check(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestHealthReportsStuckProcessWithinTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.ConnectionTimeout = config.Duration{Duration: 400 * time.Millisecond}
	s, err := New(Options{Config: cfg, Logs: logging.NewBuffer(10), Processes: []webproc.Process{stuckProcess{}}})
	require.NoError(t, err)
	require.NoError(t, s.Start(t.Context()))
	t.Cleanup(func() { _ = s.Stop() })

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancel()
	r, err := clientFor(t, s).Health(ctx)
	require.NoError(t, err, "the report must arrive before the exchange times out")
	assert.False(t, r.Healthy)
	assert.Equal(t, []string{"slow"}, r.Unhealthy())
}

func TestHealthWithFilesDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Files.Enabled = false
	s := startServer(t, cfg, Hooks{})
	r := s.Health(t.Context())
	assert.True(t, r.Healthy)
	assert.Len(t, r.Components, 1)

	c := clientFor(t, s)
	_, err := c.RequestFile(t.Context(), "anything", "")
	assert.ErrorIs(t, err, client.ErrRejected)
}

func TestUploadDownloadDeleteRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.Encryption = "aes"
	cfg.Security.Seed = "correct horse"
	s := startServer(t, cfg, Hooks{})
	c := clientFor(t, s)
	ctx := t.Context()
	path := writeFile(t, "quarterly numbers")

	a, err := c.Upload(ctx, path, "report.txt", "ann", "finance")
	require.NoError(t, err)
	require.Equal(t, message.TypeFileOK, a.Type)
	id := a.FileID

	var buf bytes.Buffer
	name, n, err := c.Download(ctx, id, "finance", &buf)
	require.NoError(t, err)
	assert.Equal(t, "report.txt", name)
	assert.Equal(t, int64(len("quarterly numbers")), n)
	assert.Equal(t, "quarterly numbers", buf.String())

	_, err = c.RequestFile(ctx, id, "other-domain")
	assert.ErrorIs(t, err, client.ErrRejected)

	a, err = c.Delete(ctx, id, "finance")
	require.NoError(t, err)
	assert.Equal(t, "Success", a.Message)
	_, err = c.Delete(ctx, id, "finance")
	assert.ErrorIs(t, err, client.ErrRejected)
}

func TestChecksumMismatchNeverStored(t *testing.T) {
	cfg := testConfig(t)
	s := startServer(t, cfg, Hooks{})
	c := clientFor(t, s)
	path := writeFile(t, "abc")

	_, err := c.RequestUpload(t.Context(), "a.txt", "00000000000000000000000000000000", 3, "", "")
	require.NoError(t, err)
	a, err := c.SendFile(t.Context(), path)
	require.ErrorIs(t, err, client.ErrRejected)
	assert.Equal(t, filetransfer.ReasonChecksumMismatch, a.ErrorReason)

	entries, err := os.ReadDir(cfg.Storage.Location)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPingFileRequest(t *testing.T) {
	s := startServer(t, testConfig(t), Hooks{})
	c := clientFor(t, s)
	var buf bytes.Buffer
	_, _, err := c.Download(t.Context(), "PING", "", &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "PING-")
}

func TestDispatchThroughAdminPort(t *testing.T) {
	s := startServer(t, testConfig(t), Hooks{})
	c := clientFor(t, s)

	a, err := c.Custom(t.Context(), "nope", "anything", "")
	require.NoError(t, err, "unknown dispatcher answers OK")
	assert.Equal(t, message.TypeOK, a.Type)

	a, err = c.Custom(t.Context(), "info", "show", "")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, a.DecodeObject(&info))
	assert.NotEmpty(t, info)

	a, err = c.Send(t.Context(), message.NewCommand("X", "REBOOT"))
	require.NoError(t, err)
	assert.Equal(t, message.TypeOK, a.Type)
}

func TestStartRollsBackOnBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t)
	cfg.Files.UploadPort = busy.Addr().(*net.TCPAddr).Port
	var started atomic.Bool
	s, err := New(Options{Config: cfg, Logs: logging.NewBuffer(10), Hooks: Hooks{AfterStart: func() { started.Store(true) }}})
	require.NoError(t, err)

	err = s.Start(t.Context())
	require.Error(t, err)
	assert.Equal(t, StateStopped, s.State())
	assert.False(t, started.Load())
	assert.Nil(t, s.Addr(), "admin listener must not have been bound")
	select {
	case <-s.Done():
	default:
		t.Fatal("Done must be closed after a failed start")
	}
	assert.NoError(t, s.Stop())
}

func TestStartFailsOnUnknownDispatcher(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Dispatchers = []string{"lgo"}
	s, err := New(Options{Config: cfg, Logs: logging.NewBuffer(10)})
	require.NoError(t, err)
	err = s.Start(t.Context())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrClosed))
}

func TestServeReturnsOnContextCancel(t *testing.T) {
	s, err := New(Options{Config: testConfig(t), Logs: logging.NewBuffer(10)})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(t.Context())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx) }()
	assert.Eventually(t, func() bool { return s.State() == StateRunning }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, StateStopped, s.State())
}

// holdModule blocks each command until released and reports the handler context state then.
type holdModule struct {
	started chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (m *holdModule) ID() string { return "hold" }

func (m *holdModule) Dispatch(ctx context.Context, _ message.Command) message.Answer {
	close(m.started)
	<-m.release
	m.ctxErr <- ctx.Err()
	return message.OK()
}

func TestServeCancelDrainsInFlightCommands(t *testing.T) {
	m := &holdModule{started: make(chan struct{}), release: make(chan struct{}), ctxErr: make(chan error, 1)}
	reg := dispatch.NewRegistry(nil)
	reg.Register("hold", func(dispatch.Deps) (dispatch.Dispatcher, error) { return m, nil })
	cfg := testConfig(t)
	cfg.Server.Dispatchers = []string{"hold"}
	s, err := New(Options{Config: cfg, Logs: logging.NewBuffer(10), Registry: reg})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx) }()
	require.Eventually(t, func() bool { return s.State() == StateRunning }, 2*time.Second, 10*time.Millisecond)

	answered := make(chan error, 1)
	c := clientFor(t, s)
	go func() {
		_, err := c.Custom(t.Context(), "hold", "WAIT", "")
		answered <- err
	}()
	<-m.started
	cancel()
	require.Eventually(t, func() bool { return s.State() == StateStopping }, 2*time.Second, 10*time.Millisecond)
	close(m.release)

	assert.NoError(t, <-m.ctxErr, "in-flight handler must not see a cancelled context")
	assert.NoError(t, <-answered)
	assert.NoError(t, <-served)
}

// lingeringProcess only stops when its context gives up.
type lingeringProcess struct{}

func (lingeringProcess) Name() string                { return "lingering" }
func (lingeringProcess) Start(context.Context) error { return nil }
func (lingeringProcess) Check(context.Context) error { return nil }
func (lingeringProcess) Stop(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func TestStopSharesOneDeadline(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.ShutdownTimeout = config.Duration{Duration: 400 * time.Millisecond}
	s, err := New(Options{Config: cfg, Logs: logging.NewBuffer(10), Processes: []webproc.Process{lingeringProcess{}}})
	require.NoError(t, err)
	require.NoError(t, s.Start(t.Context()))

	// idle connections keep a handler busy on every listener until it is force-closed
	for _, addr := range []net.Addr{s.Addr(), s.Files().Download().Addr(), s.Files().Upload().Addr()} {
		conn, err := net.Dial("tcp", addr.String())
		require.NoError(t, err)
		defer conn.Close()
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	_ = s.Stop()
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, StateStopped, s.State())
}
