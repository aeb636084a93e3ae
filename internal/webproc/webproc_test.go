package webproc

import (
	"context"
	"encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net/http"
	"os/exec"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func startStatus(t *testing.T, opts StatusOptions) *StatusServer {
	t.Helper()
	opts.Addr = "127.0.0.1:0"
	s := NewStatusServer(opts)
	require.NoError(t, s.Start(t.Context()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func TestStatusServerHealthz(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	s := startStatus(t, StatusOptions{
		Status:  func() any { return map[string]string{"state": "Running"} },
		Healthy: healthy.Load,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "adminplane_up 1\n")
		}),
	})
	base := "http://" + s.Addr().String()

	code, body := get(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	var status map[string]string
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "Running", status["state"])
	assert.NoError(t, s.Check(t.Context()))

	healthy.Store(false)
	code, _ = get(t, base+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Error(t, s.Check(t.Context()))

	code, body = get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "adminplane_up 1")

	code, _ = get(t, base+"/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatusServerRecoversPanics(t *testing.T) {
	s := startStatus(t, StatusOptions{Status: func() any { panic("boom") }})
	code, body := get(t, "http://"+s.Addr().String()+"/healthz")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, string(body), "could not process your request")
}

func TestStatusServerStop(t *testing.T) {
	s := NewStatusServer(StatusOptions{Addr: "127.0.0.1:0"})
	require.NoError(t, s.Start(t.Context()))
	require.NoError(t, s.Stop(t.Context()))
	assert.Error(t, s.Check(t.Context()))
}

func TestExecProcessLifecycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}
	bin, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	p := NewExecProcess(ExecOptions{Command: bin, Args: []string{"30"}})
	assert.Error(t, p.Check(t.Context()), "not started")
	require.NoError(t, p.Start(t.Context()))
	assert.NoError(t, p.Check(t.Context()))

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
	assert.ErrorIs(t, p.Check(t.Context()), ErrExited)
	// stopping an exited process is a no-op
	assert.NoError(t, p.Stop(ctx))
}
