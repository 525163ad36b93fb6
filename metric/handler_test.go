package metric

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerHandler(t *testing.T) {
	r := NewMetricsRegistry()
	r.CoreMetrics().RecordSent("event", "broadcast")

	health := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(NewServer("", "", r, health).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "networker_messages_sent_total")

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServerStartStop(t *testing.T) {
	s := NewServer("127.0.0.1:0", "/metrics", NewMetricsRegistry(), nil)
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	resp, err := http.Get(s.Address())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}

func TestServerRequiresRegistry(t *testing.T) {
	s := NewServer("127.0.0.1:0", "", nil, nil)
	assert.Error(t, s.Start())
}
