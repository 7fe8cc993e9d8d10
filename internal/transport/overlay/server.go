// Package overlay serves the HUD feed over a loopback websocket: snapshots
// out (latest wins), hotkeys in.
package overlay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/bus"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
)

const (
	eventQueue   = 32
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
	pingInterval = 20 * time.Second
)

// Submitter is satisfied by *session.Orchestrator.
type Submitter interface {
	Submit(obs protocol.Observation) bool
}

type client struct {
	id     uint64
	snap   chan []byte // capacity 1, latest wins
	events chan []byte
}

type Server struct {
	sub Submitter
	log *slog.Logger
	now func() time.Time

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu      sync.Mutex
	clients map[uint64]*client
	latest  []byte
}

func NewServer(sub Submitter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sub: sub,
		log: logger,
		now: time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			// Loopback is enforced on the remote address.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: map[uint64]*client{},
	}
}

// Attach forwards snapshots, phase changes and announcements from b.
func (s *Server) Attach(b *bus.Bus) {
	bus.Subscribe(b, s.PublishSnapshot)
	bus.Subscribe(b, func(p protocol.PhaseChange) {
		s.publishEvent(protocol.PhaseMsg{Type: protocol.TypePhase, ProtocolVersion: protocol.Version, Phase: p})
	})
	bus.Subscribe(b, func(a protocol.Announcement) {
		s.publishEvent(protocol.SpeechMsg{Type: protocol.TypeSpeech, ProtocolVersion: protocol.Version, Text: a.Text})
	})
}

// PublishSnapshot replaces every client's pending snapshot. It never blocks.
func (s *Server) PublishSnapshot(snap protocol.Snapshot) {
	b, err := json.Marshal(protocol.SnapshotMsg{Type: protocol.TypeSnapshot, ProtocolVersion: protocol.Version, Snapshot: snap})
	if err != nil {
		s.log.Warn("encode snapshot", "err", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = b
	for _, c := range s.clients {
		offerLatest(c.snap, b)
	}
}

func offerLatest(ch chan []byte, b []byte) {
	for {
		select {
		case ch <- b:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (s *Server) publishEvent(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		select {
		case c.events <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

// Clients returns the number of connected overlays.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Handler routes GET /v1/overlay (websocket) and GET /v1/snapshot.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/overlay", s.WSHandler())
	mux.HandleFunc("/v1/snapshot", s.SnapshotHandler())
	return mux
}

func (s *Server) SnapshotHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		s.mu.Lock()
		b := s.latest
		s.mu.Unlock()
		if b == nil {
			rw.WriteHeader(http.StatusNoContent)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_, _ = rw.Write(b)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := s.register()
		defer s.unregister(c.id)
		s.log.Info("overlay connected", "client", c.id)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go s.writeLoop(ctx, cancel, conn, c)

		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.handleMessage(c.id, msg)
		}
		s.log.Info("overlay disconnected", "client", c.id)
	}
}

func (s *Server) register() *client {
	c := &client{
		id:     s.nextID.Add(1),
		snap:   make(chan []byte, 1),
		events: make(chan []byte, eventQueue),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest != nil {
		c.snap <- s.latest
	}
	s.clients[c.id] = c
	return c
}

func (s *Server) unregister(id uint64) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, c *client) {
	defer cancel()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		var b []byte
		select {
		case <-ctx.Done():
			return
		case b = <-c.events:
		case b = <-c.snap:
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			_ = conn.Close()
			return
		}
	}
}

func (s *Server) handleMessage(id uint64, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHotkey {
		return
	}
	if base.ProtocolVersion != "" && base.ProtocolVersion != protocol.Version {
		s.log.Debug("overlay message version mismatch", "client", id, "version", base.ProtocolVersion)
		return
	}
	var hk protocol.HotkeyMsg
	if err := json.Unmarshal(msg, &hk); err != nil {
		return
	}
	action := strings.TrimSpace(hk.Action)
	if !protocol.IsKnownAction(action) {
		s.log.Debug("unknown hotkey", "client", id, "action", action)
		return
	}
	if s.sub == nil || !s.sub.Submit(protocol.Hotkey{At: s.now(), Action: action}) {
		s.log.Warn("hotkey dropped", "action", action)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
