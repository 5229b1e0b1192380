// Package bridge serves the local event feed consumed by the UI shell: a
// WebSocket endpoint that mirrors call lifecycle notifications, plus health
// and metrics endpoints.
package bridge

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/config"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

// Server is the bridge HTTP + WebSocket server.
type Server struct {
	cfg      config.BridgeConfig
	log      *logging.Logger
	registry *prometheus.Registry // nil disables /metrics
	upgrader websocket.Upgrader
	seq      atomic.Int64

	mu      sync.Mutex
	clients map[*client]struct{}

	httpServer *http.Server
}

type client struct {
	conn *websocket.Conn
	send chan Frame
}

// New creates a bridge server. registry may be nil.
func New(cfg config.BridgeConfig, registry *prometheus.Registry, log *logging.Logger) *Server {
	return &Server{
		cfg:      cfg,
		log:      log.Sub("bridge"),
		registry: registry,
		clients:  make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The feed is local-first; same-host UI clients send no Origin
			// header worth gating on.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Run serves until ctx is canceled. It returns nil on clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	host := "127.0.0.1"
	if s.cfg.Bind == "lan" {
		host = "0.0.0.0"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.cfg.Metrics && s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", addr, err)
	}
	s.httpServer = &http.Server{Handler: mux}

	s.log.Info().Str("addr", addr).Bool("metrics", s.cfg.Metrics).Msg("bridge listening")

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		s.closeClients()
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("bridge: serve: %w", err)
	}
}

// Broadcast pushes one event frame to every connected feed client. Slow
// clients whose buffers are full are dropped rather than allowed to stall
// the caller.
func (s *Server) Broadcast(event string, payload any) {
	frame := Frame{
		Type:    "event",
		Event:   event,
		Seq:     s.seq.Add(1),
		Payload: payload,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- frame:
		default:
			s.log.Warn().Msg("dropping slow feed client")
			delete(s.clients, c)
			close(c.send)
		}
	}
}

// ClientCount returns the number of connected feed clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan Frame, sendBufferSize)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("feed client connected")

	go s.writePump(c)
	s.readPump(c)
}

// readPump discards inbound frames; the feed is one-way. It exists to
// notice the close handshake and network errors.
func (s *Server) readPump(c *client) {
	defer s.dropClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	for frame := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(frame); err != nil {
			s.dropClient(c)
			return
		}
	}
	_ = c.conn.Close()
}

func (s *Server) dropClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	_ = c.conn.Close()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
}
