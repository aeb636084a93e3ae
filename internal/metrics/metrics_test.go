package metrics

import (
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionAccepted(Admin)
		m.ConnectionDone(Admin, time.Second)
		m.CommandHandled("internal", "OK")
		m.ProtocolError(Upload, "malformed")
		m.Transfer(Download, "ok", 10)
		m.QueueDepth(Upload, 1)
		m.State(2)
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.ConnectionAccepted(Admin)
	m.ConnectionAccepted(Admin)
	m.Transfer(Upload, "ok", 1024)
	m.Transfer(Upload, "checksum_mismatch", 0)
	m.QueueDepth(Download, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connections.WithLabelValues(Admin)))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.transferBytes.WithLabelValues(Upload)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transfers.WithLabelValues(Upload, "checksum_mismatch")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth.WithLabelValues(Download)))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.CommandHandled("info", "OK")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `adminplane_commands_total{answer="OK",dispatcher="info"} 1`), body)
}
