package bridge

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/config"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/logging"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/metrics"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// startBridge runs a server on a free loopback port and waits for it to
// accept connections.
func startBridge(t *testing.T, cfg config.BridgeConfig, met *metrics.Metrics) (*Server, int) {
	t.Helper()
	port := freePort(t)
	cfg.Port = port

	s := New(cfg, met.Registry(), logging.New(nil, "silent"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("bridge did not shut down")
		}
	})

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/healthz", port))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	return s, port
}

func dialFeed(t *testing.T, port int) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://127.0.0.1:%d/ws", port)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestServer_BroadcastReachesAllClients(t *testing.T) {
	s, port := startBridge(t, config.BridgeConfig{Bind: "loopback"}, nil)

	a := dialFeed(t, port)
	b := dialFeed(t, port)
	require.Eventually(t, func() bool { return s.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	s.Broadcast(EventCallStarted, map[string]string{"id": "1724.42"})

	for _, conn := range []*websocket.Conn{a, b} {
		f := readFrame(t, conn)
		assert.Equal(t, "event", f.Type)
		assert.Equal(t, EventCallStarted, f.Event)
		assert.Equal(t, int64(1), f.Seq)
		payload, ok := f.Payload.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "1724.42", payload["id"])
	}
}

func TestServer_SeqIsMonotonic(t *testing.T) {
	s, port := startBridge(t, config.BridgeConfig{Bind: "loopback"}, nil)

	conn := dialFeed(t, port)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Broadcast(EventCallStarted, nil)
	s.Broadcast(EventCallAnswered, nil)
	s.Broadcast(EventCallEnded, nil)

	assert.Equal(t, int64(1), readFrame(t, conn).Seq)
	assert.Equal(t, int64(2), readFrame(t, conn).Seq)
	f := readFrame(t, conn)
	assert.Equal(t, int64(3), f.Seq)
	assert.Equal(t, EventCallEnded, f.Event)
}

func TestServer_ClientDisconnectIsNoticed(t *testing.T) {
	s, port := startBridge(t, config.BridgeConfig{Bind: "loopback"}, nil)

	conn := dialFeed(t, port)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	// Broadcasting with no clients is a no-op.
	s.Broadcast(EventConnectionState, ConnectionStatePayload{Old: "connected", New: "reconnecting"})
}

func TestServer_MetricsEndpoint(t *testing.T) {
	met := metrics.New()
	met.EventReceived("Newstate")
	_, port := startBridge(t, config.BridgeConfig{Bind: "loopback", Metrics: true}, met)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "freepbx_popup_ami_events_total")
}

func TestServer_MetricsDisabledByDefault(t *testing.T) {
	_, port := startBridge(t, config.BridgeConfig{Bind: "loopback"}, metrics.New())

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
