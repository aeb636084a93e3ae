package ui

import (
	"bytes"
	"github.com/MuhamedUsman/adminplane/internal/health"
	"github.com/MuhamedUsman/adminplane/internal/mdns"
	"github.com/MuhamedUsman/adminplane/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
	"time"
)

func TestPrintHealth(t *testing.T) {
	r := health.New("edge-1",
		health.Component{Name: health.Admin, Healthy: true, Latency: 40 * time.Microsecond},
		health.Component{Name: health.Upload, Detail: "connection refused", Latency: 3 * time.Millisecond},
	)
	var buf bytes.Buffer
	require.NoError(t, PrintHealth(&buf, r))
	out := buf.String()
	assert.Contains(t, out, "edge-1")
	assert.Contains(t, out, "DOWN")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "3ms")
}

func TestPrintAnswer(t *testing.T) {
	var buf bytes.Buffer
	a := message.FileNOK("a.txt", "checksum mismatch")
	require.NoError(t, PrintAnswer(&buf, a))
	assert.Contains(t, buf.String(), "FILE_NOK")
	assert.Contains(t, buf.String(), "checksum mismatch")

	buf.Reset()
	ok := message.OK()
	ok.ID = 1500
	ok.Object = []byte(`{"lines":2}`)
	require.NoError(t, PrintAnswer(&buf, ok))
	assert.Contains(t, buf.String(), "1,500")
	assert.Contains(t, buf.String(), `{"lines":2}`)
}

func TestPrintEntries(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintEntries(&buf, nil))
	assert.Contains(t, buf.String(), "no instances found")

	buf.Reset()
	entries := []mdns.Entry{
		{Instance: "zulu", Server: "edge-2", Host: "zulu.local.", Port: 9775},
		{Instance: "alpha", Server: "edge-1", IP: "10.0.0.4", Port: 9775},
	}
	require.NoError(t, PrintEntries(&buf, entries))
	out := buf.String()
	assert.Contains(t, out, "10.0.0.4:9775")
	assert.Contains(t, out, "zulu.local.:9775")
	assert.Less(t, strings.Index(out, "alpha"), strings.Index(out, "zulu"))
}
