package network

import (
	"context"
	"github.com/MuhamedUsman/adminplane/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net"
	"testing"
	"time"
)

func startListener(t *testing.T, h Handler, maxConns int) *Listener {
	t.Helper()
	f, err := transport.New(transport.Options{Mode: transport.ModePlain})
	require.NoError(t, err)
	l := NewListener(ListenerOptions{Name: "test", Addr: "127.0.0.1:0", Transport: f, MaxConns: maxConns, Handler: h})
	require.NoError(t, l.Start(t.Context()))
	return l
}

func TestListenerServesConnections(t *testing.T) {
	l := startListener(t, func(_ context.Context, conn net.Conn) {
		_, _ = io.Copy(conn, io.LimitReader(conn, 5))
	}, 4)
	defer l.Stop(time.Second)

	for range 3 {
		conn, err := net.Dial("tcp", l.Addr().String())
		require.NoError(t, err)
		_, err = conn.Write([]byte("hello"))
		require.NoError(t, err)
		b, err := io.ReadAll(conn)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(b))
		conn.Close()
	}
}

func TestListenerStopClosesSocket(t *testing.T) {
	l := startListener(t, func(context.Context, net.Conn) {}, 0)
	addr := l.Addr().String()
	require.NoError(t, l.Stop(time.Second))
	assert.True(t, l.Stopping())
	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
	// second stop is a no-op
	assert.NoError(t, l.Stop(time.Second))
}

func TestListenerForceClosesStragglers(t *testing.T) {
	unblocked := make(chan struct{})
	l := startListener(t, func(_ context.Context, conn net.Conn) {
		// blocks until the listener force-closes the connection
		_, _ = io.ReadAll(conn)
		close(unblocked)
	}, 0)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	err = l.Stop(50 * time.Millisecond)
	assert.Error(t, err)
	select {
	case <-unblocked:
	case <-time.After(2 * time.Second):
		t.Fatal("handler still blocked after forced stop")
	}
}

func TestJoinHostPort(t *testing.T) {
	assert.Equal(t, ":9777", JoinHostPort("", 9777))
	assert.Equal(t, "[::1]:1", JoinHostPort("::1", 1))
}

func TestAdvertiseIPLiteral(t *testing.T) {
	ip, err := AdvertiseIP("192.168.1.10")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10", ip.String())
}

func TestDialAddr(t *testing.T) {
	tests := map[string]string{
		"0.0.0.0:9775":  "127.0.0.1:9775",
		"[::]:9775":     "[::1]:9775",
		"10.1.2.3:9777": "10.1.2.3:9777",
	}
	for in, want := range tests {
		a, err := net.ResolveTCPAddr("tcp", in)
		require.NoError(t, err)
		assert.Equal(t, want, DialAddr(a), in)
	}
}
