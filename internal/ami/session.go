package ami

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/logging"
)

// ConnectionState describes where the session is in its lifecycle.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// StateHandler observes connection state transitions.
type StateHandler func(old, new ConnectionState)

// SessionConfig carries the transport settings for one manager connection.
type SessionConfig struct {
	Host     string
	Port     int
	Username string
	Secret   string

	ConnectTimeout time.Duration
	KeepaliveIdle  time.Duration // 0 disables keepalive
	KeepaliveGrace time.Duration

	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	ReconnectMaxAttempts int // 0 means retry forever
}

// Session owns the TCP connection to the manager interface: connect, login,
// keepalive, disconnect detection, and reconnection with backoff. One
// dedicated read loop drains the stream into the parser and hands responses
// to the Correlator and events to the Router.
type Session struct {
	cfg        SessionConfig
	log        *logging.Logger
	router     *Router
	correlator *Correlator

	mu       sync.Mutex
	conn     net.Conn
	state    ConnectionState
	stopCh   chan struct{}
	stopping bool
	lastRead time.Time
	wg       sync.WaitGroup

	handlerMu     sync.RWMutex
	stateHandlers []StateHandler
	onDisconnect  func()
}

// link bundles a live connection with its framer; the framer owns the read
// buffer, so both travel together.
type link struct {
	conn   net.Conn
	framer *Framer
}

// NewSession creates a session with its own Router and Correlator.
func NewSession(cfg SessionConfig, log *logging.Logger) *Session {
	s := &Session{
		cfg:    cfg,
		log:    log.Sub("session"),
		router: NewRouter(log),
		stopCh: make(chan struct{}),
	}
	s.correlator = NewCorrelator(s, log)
	return s
}

// Router returns the event router fed by this session's read loop.
func (s *Session) Router() *Router { return s.router }

// Correlator returns the action/response correlator bound to this session.
func (s *Session) Correlator() *Correlator { return s.correlator }

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers a handler for connection state transitions.
func (s *Session) OnStateChange(h StateHandler) {
	s.handlerMu.Lock()
	s.stateHandlers = append(s.stateHandlers, h)
	s.handlerMu.Unlock()
}

// OnDisconnect registers a hook invoked after every connection loss, once
// pending actions have been failed. The call tracker uses it to close out
// live calls.
func (s *Session) OnDisconnect(h func()) {
	s.handlerMu.Lock()
	s.onDisconnect = h
	s.handlerMu.Unlock()
}

// Connect performs the first connection attempt synchronously. Bad
// credentials are terminal and returned immediately; network failures
// return nil and hand over to autonomous background reconnection, surfaced
// through state-change notifications.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return fmt.Errorf("ami: connect: session already started")
	}
	s.stopping = false
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.setState(StateConnecting)
	l, err := s.connectOnce()
	if err != nil {
		if errors.Is(err, ErrAuthFailed) {
			s.setState(StateDisconnected)
			return err
		}
		s.log.Warn().Err(err).Msg("initial connect failed, retrying in background")
		s.wg.Add(1)
		go s.run(nil, 0)
		return nil
	}

	s.setState(StateConnected)
	s.wg.Add(1)
	go s.run(l, 0)
	return nil
}

// Disconnect closes the session, cancels any reconnection backoff wait, and
// fails all pending actions. Safe to call more than once.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	close(s.stopCh)
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		// Best-effort goodbye; the server closes the link after Logoff.
		_ = writeFields(conn, []Field{{"Action", "Logoff"}})
		conn.Close()
	}
	s.wg.Wait()
	s.setState(StateDisconnected)
}

// Send writes a serialized action block to the stream without correlation.
// Most callers should go through the Correlator instead.
func (s *Session) Send(fields []Field) error { return s.send(fields) }

func (s *Session) send(fields []Field) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := writeFields(conn, fields); err != nil {
		return fmt.Errorf("ami: send: %w", err)
	}
	return nil
}

// writeFields serializes one action block with a single Write, relying on
// the transport's write atomicity for interleaving-free concurrent sends.
func writeFields(w io.Writer, fields []Field) error {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// connectOnce dials, consumes the server greeting, and authenticates.
// Auth rejection returns ErrAuthFailed; everything else is a network error.
func (s *Session) connectOnce() (*link, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	d := net.Dialer{Timeout: s.cfg.ConnectTimeout}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ami: dial %s: %w", addr, err)
	}

	s.setState(StateAuthenticating)
	if s.cfg.ConnectTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.ConnectTimeout))
	}

	framer := NewFramer(conn)
	greeting, err := framer.ReadLine()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ami: reading greeting: %w", err)
	}
	s.log.Debug().Str("greeting", greeting).Msg("server greeting")

	login := []Field{
		{"Action", "Login"},
		{"Username", s.cfg.Username},
		{"Secret", s.cfg.Secret},
		{"Events", "on"},
	}
	if err := writeFields(conn, login); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ami: sending login: %w", err)
	}

	// The login response may be preceded by unsolicited events.
	for {
		block, err := framer.Next()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("ami: awaiting login response: %w", err)
		}
		msg := ParseMessage(block)
		if msg.Kind() != KindResponse {
			continue
		}
		if !msg.Success() {
			conn.Close()
			if m := msg.Get("Message"); m != "" {
				return nil, fmt.Errorf("%w: %s", ErrAuthFailed, m)
			}
			return nil, ErrAuthFailed
		}
		break
	}

	_ = conn.SetDeadline(time.Time{})

	s.mu.Lock()
	s.conn = conn
	s.lastRead = time.Now()
	s.mu.Unlock()

	s.log.Info().Str("addr", addr).Str("username", s.cfg.Username).Msg("logged in")
	return &link{conn: conn, framer: framer}, nil
}

// run is the session manager goroutine: serve the live link, then cycle
// through backoff and reconnection until stopped, exhausted, or rejected.
func (s *Session) run(l *link, failures int) {
	defer s.wg.Done()
	for {
		if l != nil {
			s.serve(l)
			l = nil
			failures = 0
			if s.isStopping() {
				s.setState(StateDisconnected)
				return
			}
		}

		if s.cfg.ReconnectMaxAttempts > 0 && failures >= s.cfg.ReconnectMaxAttempts {
			s.log.Error().Int("attempts", failures).Msg("reconnect attempts exhausted, giving up")
			s.setState(StateDisconnected)
			return
		}

		s.setState(StateReconnecting)
		delay := s.backoffDelay(failures)
		s.log.Info().Dur("delay", delay).Int("failures", failures).Msg("waiting before reconnect")
		select {
		case <-s.stopCh:
			s.setState(StateDisconnected)
			return
		case <-time.After(delay):
		}

		s.setState(StateConnecting)
		nl, err := s.connectOnce()
		if err != nil {
			if errors.Is(err, ErrAuthFailed) {
				s.log.Error().Err(err).Msg("authentication rejected, not retrying")
				s.setState(StateDisconnected)
				return
			}
			s.log.Warn().Err(err).Msg("reconnect attempt failed")
			failures++
			continue
		}
		s.setState(StateConnected)
		l = nl
	}
}

// serve drains the link until it dies, then tears down: pending actions
// fail first, the disconnect hook runs last.
func (s *Session) serve(l *link) {
	kaStop := make(chan struct{})
	var kaWG sync.WaitGroup
	if s.cfg.KeepaliveIdle > 0 {
		kaWG.Add(1)
		go func() {
			defer kaWG.Done()
			s.keepalive(l.conn, kaStop)
		}()
	}

	for {
		block, err := l.framer.Next()
		if err != nil {
			if !s.isStopping() {
				s.log.Warn().Err(err).Msg("connection lost")
			}
			break
		}
		s.touch()

		msg := ParseMessage(block)
		switch msg.Kind() {
		case KindResponse:
			if !s.correlator.Resolve(msg) {
				s.log.Debug().Str("actionId", msg.ActionID()).Msg("discarding unmatched response")
			}
		case KindEvent:
			s.router.Dispatch(msg)
		default:
			s.log.Debug().Msg("skipping unclassified block")
		}
	}

	close(kaStop)
	l.conn.Close()
	s.correlator.FailAll(ErrDisconnected)
	kaWG.Wait()

	s.mu.Lock()
	if s.conn == l.conn {
		s.conn = nil
	}
	s.mu.Unlock()

	s.handlerMu.RLock()
	hook := s.onDisconnect
	s.handlerMu.RUnlock()
	if hook != nil {
		hook()
	}
}

// keepalive issues a Ping whenever the link has been silent past the idle
// threshold. A Ping that gets no response within the grace period declares
// the connection dead by closing it, which unblocks the read loop.
func (s *Session) keepalive(conn net.Conn, stop chan struct{}) {
	interval := s.cfg.KeepaliveIdle / 4
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		idle := time.Since(s.lastRead)
		s.mu.Unlock()
		if idle < s.cfg.KeepaliveIdle {
			continue
		}

		grace := s.cfg.KeepaliveGrace
		if grace <= 0 {
			grace = DefaultActionTimeout
		}
		if _, err := s.correlator.Submit(context.Background(), []Field{{"Action", "Ping"}}, grace); err != nil {
			select {
			case <-stop:
				return
			default:
			}
			s.log.Warn().Err(err).Msg("keepalive ping failed, declaring connection dead")
			conn.Close()
			return
		}
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastRead = time.Now()
	s.mu.Unlock()
}

func (s *Session) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// backoffDelay returns the exponential backoff for the given consecutive
// failure count: base*2^failures capped at max, with ±10% jitter.
func (s *Session) backoffDelay(failures int) time.Duration {
	base := s.cfg.ReconnectBase
	if base <= 0 {
		base = 2 * time.Second
	}
	max := s.cfg.ReconnectMax
	if max <= 0 {
		max = 60 * time.Second
	}

	d := base
	for i := 0; i < failures && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}

	jitter := time.Duration(rand.Int64N(int64(d/5)+1)) - d/10
	return d + jitter
}

func (s *Session) setState(st ConnectionState) {
	s.mu.Lock()
	old := s.state
	if old == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()

	s.log.Debug().Str("from", old.String()).Str("to", st.String()).Msg("connection state changed")

	s.handlerMu.RLock()
	handlers := slices.Clone(s.stateHandlers)
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		h(old, st)
	}
}
