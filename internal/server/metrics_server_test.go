package server_test

import (
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/arraydb/writer-node/internal/health"
	"github.com/devrev/arraydb/writer-node/internal/metrics"
	"github.com/devrev/arraydb/writer-node/internal/server"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServer_ServesMetricsHealthAndReady(t *testing.T) {
	port := freePort(t)
	dir := t.TempDir()

	m := metrics.NewMetrics(t.Name())
	h := health.New(&health.Config{NodeID: "n1", FragmentRootDir: dir}, func() bool { return false }, zap.NewNop())

	s := server.New(&server.Config{Port: port}, m, h, nil, zap.NewNop())
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	base := fmt.Sprintf("http://127.0.0.1:%d", port)

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond, "ops server never started accepting connections")

	healthResp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer healthResp.Body.Close()
	assert.Equal(t, http.StatusOK, healthResp.StatusCode)

	readyResp, err := http.Get(base + "/ready")
	require.NoError(t, err)
	defer readyResp.Body.Close()
	assert.Equal(t, http.StatusOK, readyResp.StatusCode)

	metricsResp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestServer_StopShutsDownListener(t *testing.T) {
	port := freePort(t)
	dir := t.TempDir()

	m := metrics.NewMetrics(t.Name())
	h := health.New(&health.Config{NodeID: "n1", FragmentRootDir: dir}, nil, zap.NewNop())
	s := server.New(&server.Config{Port: port}, m, h, nil, zap.NewNop())
	require.NoError(t, s.Start())

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())

	_, err := http.Get(base + "/health")
	assert.Error(t, err)
}
