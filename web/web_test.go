package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vio-engine-go/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func startServer(t *testing.T, state func() interface{}, configPath string) (*Server, *httptest.Server, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer(state)
	go s.Hub.Run(ctx)
	ts := httptest.NewServer(s.Handler("", configPath))
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return s, ts, cancel
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestBroadcastReachesClients(t *testing.T) {
	s, ts, _ := startServer(t, nil, "")
	a := dial(t, ts)
	b := dial(t, ts)
	require.Eventually(t, func() bool { return s.Hub.NumClients() == 2 }, 2*time.Second, 10*time.Millisecond)

	s.Hub.Broadcast([]byte(`{"seq":1}`))
	for _, ws := range []*websocket.Conn{a, b} {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := ws.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"seq":1}`, string(msg))
	}

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return s.Hub.NumClients() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubShutdownClosesClients(t *testing.T) {
	s, ts, cancel := startServer(t, nil, "")
	ws := dial(t, ts)
	require.Eventually(t, func() bool { return s.Hub.NumClients() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, s.Hub.NumClients())
}

func TestStateEndpoint(t *testing.T) {
	state := func() interface{} {
		return []map[string]int{{"source": 7, "seq": 3}}
	}
	_, ts, _ := startServer(t, state, "")

	resp, err := http.Get(ts.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got []map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, []map[string]int{{"source": 7, "seq": 3}}, got)
}

func TestConfigEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("imu: {}\n"), 0o644))
	_, ts, _ := startServer(t, nil, path)

	resp, err := http.Get(ts.URL + "/config.yaml")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "imu: {}\n", string(body))
}
