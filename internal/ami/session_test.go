package ami

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePBX is a minimal manager-interface server for session tests. Each
// accepted connection is handed to the per-connection handler in order.
type fakePBX struct {
	t        *testing.T
	ln       net.Listener
	handlers []func(conn net.Conn, fr *Framer)

	mu       sync.Mutex
	accepted int
}

func startFakePBX(t *testing.T, handlers ...func(conn net.Conn, fr *Framer)) *fakePBX {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	p := &fakePBX{t: t, ln: ln, handlers: handlers}
	go p.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return p
}

func (p *fakePBX) acceptLoop() {
	for i := 0; ; i++ {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		p.accepted++
		p.mu.Unlock()

		h := p.handlers[len(p.handlers)-1]
		if i < len(p.handlers) {
			h = p.handlers[i]
		}
		go func() {
			defer conn.Close()
			h(conn, NewFramer(conn))
		}()
	}
}

func (p *fakePBX) acceptedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepted
}

func (p *fakePBX) hostPort() (string, int) {
	addr := p.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func writeBlock(conn net.Conn, lines ...string) {
	out := ""
	for _, l := range lines {
		out += l + "\r\n"
	}
	out += "\r\n"
	_, _ = conn.Write([]byte(out))
}

// greetAndLogin performs the server half of the handshake and returns the
// parsed login action.
func greetAndLogin(conn net.Conn, fr *Framer) *Message {
	_, _ = conn.Write([]byte("Asterisk Call Manager/5.0.0\r\n"))
	block, err := fr.Next()
	if err != nil {
		return nil
	}
	login := ParseMessage(block)
	writeBlock(conn, "Response: Success", "Message: Authentication accepted")
	return login
}

// holdOpen keeps serving reads until the client goes away.
func holdOpen(conn net.Conn, fr *Framer) {
	for {
		if _, err := fr.Next(); err != nil {
			return
		}
	}
}

func testSessionConfig(p *fakePBX) SessionConfig {
	host, port := p.hostPort()
	return SessionConfig{
		Host:                 host,
		Port:                 port,
		Username:             "popup",
		Secret:               "s3cret",
		ConnectTimeout:       2 * time.Second,
		ReconnectBase:        10 * time.Millisecond,
		ReconnectMax:         50 * time.Millisecond,
		ReconnectMaxAttempts: 3,
	}
}

type stateRecorder struct {
	mu     sync.Mutex
	states []ConnectionState
}

func (r *stateRecorder) record(_, new ConnectionState) {
	r.mu.Lock()
	r.states = append(r.states, new)
	r.mu.Unlock()
}

func (r *stateRecorder) has(st ConnectionState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == st {
			return true
		}
	}
	return false
}

func TestSession_ConnectAndDisconnect(t *testing.T) {
	var loginMu sync.Mutex
	var login *Message
	pbx := startFakePBX(t, func(conn net.Conn, fr *Framer) {
		m := greetAndLogin(conn, fr)
		loginMu.Lock()
		login = m
		loginMu.Unlock()
		holdOpen(conn, fr)
	})

	s := NewSession(testSessionConfig(pbx), testLogger())
	rec := &stateRecorder{}
	s.OnStateChange(rec.record)

	require.NoError(t, s.Connect())
	assert.Equal(t, StateConnected, s.State())
	assert.True(t, rec.has(StateConnecting))
	assert.True(t, rec.has(StateAuthenticating))

	loginMu.Lock()
	require.NotNil(t, login)
	assert.Equal(t, "Login", login.Get("Action"))
	assert.Equal(t, "popup", login.Get("Username"))
	assert.Equal(t, "s3cret", login.Get("Secret"))
	loginMu.Unlock()

	s.Disconnect()
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSession_AuthFailureIsTerminal(t *testing.T) {
	pbx := startFakePBX(t, func(conn net.Conn, fr *Framer) {
		_, _ = conn.Write([]byte("Asterisk Call Manager/5.0.0\r\n"))
		if _, err := fr.Next(); err != nil {
			return
		}
		writeBlock(conn, "Response: Error", "Message: Authentication failed")
	})

	s := NewSession(testSessionConfig(pbx), testLogger())
	err := s.Connect()
	require.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, StateDisconnected, s.State())

	// Bad credentials must not trigger reconnection.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, pbx.acceptedCount())
}

func TestSession_RoutesEventsAndResolvesActions(t *testing.T) {
	pbx := startFakePBX(t, func(conn net.Conn, fr *Framer) {
		greetAndLogin(conn, fr)
		writeBlock(conn, "Event: FullyBooted", "Status: Fully Booted")
		for {
			block, err := fr.Next()
			if err != nil {
				return
			}
			action := ParseMessage(block)
			if action.Get("Action") == "Ping" {
				writeBlock(conn, "Response: Success", "ActionID: "+action.ActionID(), "Ping: Pong")
			}
		}
	})

	s := NewSession(testSessionConfig(pbx), testLogger())
	events := make(chan *Message, 8)
	s.Router().Subscribe(func(msg *Message) { events <- msg })

	require.NoError(t, s.Connect())
	defer s.Disconnect()

	select {
	case ev := <-events:
		assert.Equal(t, "FullyBooted", ev.EventName())
	case <-time.After(2 * time.Second):
		t.Fatal("event was not routed")
	}

	resp, err := s.Correlator().Submit(context.Background(), []Field{{"Action", "Ping"}}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Pong", resp.Get("Ping"))
}

func TestSession_DisconnectFailsPendingActions(t *testing.T) {
	gotAction := make(chan struct{})
	pbx := startFakePBX(t,
		func(conn net.Conn, fr *Framer) {
			greetAndLogin(conn, fr)
			if _, err := fr.Next(); err == nil {
				close(gotAction) // swallow the action, then drop the link
			}
		},
		func(conn net.Conn, fr *Framer) { // serve reconnects quietly
			greetAndLogin(conn, fr)
			holdOpen(conn, fr)
		},
	)

	cfg := testSessionConfig(pbx)
	s := NewSession(cfg, testLogger())

	hookFired := make(chan struct{}, 1)
	s.OnDisconnect(func() { hookFired <- struct{}{} })

	require.NoError(t, s.Connect())
	defer s.Disconnect()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Correlator().Submit(context.Background(), []Field{{"Action", "Ping"}}, 10*time.Second)
		errCh <- err
	}()

	<-gotAction

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("pending action survived the disconnect")
	}

	select {
	case <-hookFired:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect hook did not fire")
	}
}

func TestSession_ReconnectsAfterConnectionLoss(t *testing.T) {
	second := make(chan struct{})
	pbx := startFakePBX(t,
		func(conn net.Conn, fr *Framer) {
			greetAndLogin(conn, fr) // then return: connection drops
		},
		func(conn net.Conn, fr *Framer) {
			greetAndLogin(conn, fr)
			close(second)
			holdOpen(conn, fr)
		},
	)

	s := NewSession(testSessionConfig(pbx), testLogger())
	rec := &stateRecorder{}
	s.OnStateChange(rec.record)

	require.NoError(t, s.Connect())
	defer s.Disconnect()

	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not reconnect")
	}

	require.Eventually(t, func() bool {
		return s.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, rec.has(StateReconnecting))
}

func TestSession_KeepaliveDeclaresDeadLink(t *testing.T) {
	second := make(chan struct{})
	pbx := startFakePBX(t,
		func(conn net.Conn, fr *Framer) {
			greetAndLogin(conn, fr)
			// Swallow everything, including keepalive pings.
			holdOpen(conn, fr)
		},
		func(conn net.Conn, fr *Framer) {
			greetAndLogin(conn, fr)
			close(second)
			holdOpen(conn, fr)
		},
	)

	cfg := testSessionConfig(pbx)
	cfg.KeepaliveIdle = 100 * time.Millisecond
	cfg.KeepaliveGrace = 100 * time.Millisecond
	s := NewSession(cfg, testLogger())

	require.NoError(t, s.Connect())
	defer s.Disconnect()

	// The unanswered ping must kill the first link and trigger reconnect.
	select {
	case <-second:
	case <-time.After(5 * time.Second):
		t.Fatal("keepalive did not declare the link dead")
	}
}

func TestSession_BackoffDelayMonotonic(t *testing.T) {
	s := &Session{cfg: SessionConfig{
		ReconnectBase: 2 * time.Second,
		ReconnectMax:  60 * time.Second,
	}}

	prev := time.Duration(0)
	for failures := 0; failures < 5; failures++ {
		d := s.backoffDelay(failures)
		assert.Greater(t, d, prev, "failures=%d", failures)
		prev = d
	}

	// Deep failure counts stay at the cap (plus jitter).
	d := s.backoffDelay(30)
	assert.LessOrEqual(t, d, 66*time.Second)
	assert.GreaterOrEqual(t, d, 54*time.Second)
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "authenticating", StateAuthenticating.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
}
