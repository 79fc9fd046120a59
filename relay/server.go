// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/farview-dev/farview/lib/clock"
	"github.com/farview-dev/farview/signal"
)

const (
	defaultWriteTimeout      = 10 * time.Second
	defaultOutboundQueueSize = 64
)

// ServerConfig carries the dependencies for a relay Server.
type ServerConfig struct {
	Registry *Registry
	Logger   *slog.Logger
	Metrics  *Metrics
	Clock    clock.Clock

	// WriteTimeout bounds each websocket write. Zero means 10s.
	WriteTimeout time.Duration

	// PingInterval is the keepalive ping cadence. Zero disables
	// pings.
	PingInterval time.Duration

	// OutboundQueueSize bounds each connection's outbound envelope
	// queue. A full queue drops the envelope rather than blocking
	// the sender's read loop. Zero means 64.
	OutboundQueueSize int
}

// Server terminates device websockets and relays envelopes between
// them. It implements http.Handler for the signaling endpoint.
type Server struct {
	cfg      ServerConfig
	upgrader websocket.Upgrader
}

// NewServer returns a relay server. Registry, Logger, Metrics, and
// Clock are required.
func NewServer(cfg ServerConfig) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = defaultOutboundQueueSize
	}
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			// Device tokens are the authentication boundary, not
			// browser origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := newConnection(ws, s.cfg.OutboundQueueSize)

	// The socket's first envelope must authenticate it. Nothing is
	// routed, and nothing can be delivered to it, until then.
	entry, err := s.authenticate(r, conn)
	if err != nil {
		s.cfg.Metrics.AuthFailures.Inc()
		s.cfg.Logger.Warn("socket authentication failed", "remote", r.RemoteAddr, "error", err)
		ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		ws.WriteJSON(signal.Envelope{Type: signal.TypeError, Message: signal.ErrInvalidTokenMessage})
		ws.Close()
		return
	}

	logger := s.cfg.Logger.With("device_id", entry.DeviceID)
	logger.Info("device connected", "remote", r.RemoteAddr)
	s.cfg.Metrics.ConnectionsActive.Inc()
	defer s.cfg.Metrics.ConnectionsActive.Dec()

	go s.writePump(conn, logger)
	conn.Send(signal.Envelope{Type: signal.TypeAuthenticated, DeviceID: entry.DeviceID})

	s.readLoop(entry, conn, logger)

	s.cfg.Registry.Release(r.Context(), entry.DeviceID, conn)
	conn.Close()
	logger.Info("device disconnected")
}

func (s *Server) authenticate(r *http.Request, conn *connection) (Entry, error) {
	var env signal.Envelope
	if err := conn.ws.ReadJSON(&env); err != nil {
		return Entry{}, err
	}
	if env.Type != signal.TypeAuthenticate {
		return Entry{}, ErrInvalidToken
	}
	return s.cfg.Registry.Authenticate(r.Context(), env.Token, conn)
}

// readLoop reads envelopes until the socket errors. Malformed JSON is
// logged and skipped so one bad message cannot take the session down;
// only transport errors end the loop.
func (s *Server) readLoop(entry Entry, conn *connection, logger *slog.Logger) {
	for {
		_, payload, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		var env signal.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			logger.Warn("discarding malformed envelope", "error", err)
			continue
		}
		s.route(entry, env, logger)
	}
}

// route forwards one envelope to its target. The forwarded envelope's
// fromDeviceId is always the sender's authenticated identity; whatever
// the sender put there is discarded. An unknown target is a silent
// drop — the sender's socket stays open and gets no error back.
func (s *Server) route(sender Entry, env signal.Envelope, logger *slog.Logger) {
	if !signal.Routable(env.Type) {
		s.cfg.Metrics.EnvelopesDropped.WithLabelValues(dropUnroutable).Inc()
		logger.Warn("discarding unroutable envelope", "type", env.Type)
		return
	}
	if env.TargetDeviceID == "" {
		s.cfg.Metrics.EnvelopesDropped.WithLabelValues(dropUnroutable).Inc()
		logger.Warn("discarding envelope without target", "type", env.Type)
		return
	}

	target, ok := s.cfg.Registry.Lookup(env.TargetDeviceID)
	if !ok {
		s.cfg.Metrics.EnvelopesDropped.WithLabelValues(dropTargetOffline).Inc()
		logger.Debug("target offline, dropping", "type", env.Type, "target_device_id", env.TargetDeviceID)
		return
	}

	forwarded := env
	forwarded.Type = signal.ForwardedType(env.Type)
	forwarded.FromDeviceID = sender.DeviceID
	forwarded.TargetDeviceID = ""
	forwarded.Token = ""
	forwarded.DeviceID = ""

	if !target.Link.Send(forwarded) {
		s.cfg.Metrics.EnvelopesDropped.WithLabelValues(dropQueueFull).Inc()
		logger.Warn("target queue full, dropping",
			"type", forwarded.Type, "target_device_id", env.TargetDeviceID)
		return
	}
	s.cfg.Metrics.EnvelopesRouted.WithLabelValues(forwarded.Type).Inc()
}

// writePump serializes all writes to one socket: queued envelopes and
// keepalive pings. It owns the write side until the connection closes.
func (s *Server) writePump(conn *connection, logger *slog.Logger) {
	var ping <-chan time.Time
	if s.cfg.PingInterval > 0 {
		ticker := s.cfg.Clock.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case env := <-conn.outbound:
			conn.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.ws.WriteJSON(env); err != nil {
				logger.Debug("write failed, closing", "error", err)
				conn.Close()
				return
			}
		case <-ping:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debug("ping failed, closing", "error", err)
				conn.Close()
				return
			}
		case <-conn.closed:
			return
		}
	}
}

// connection is one device websocket plus its bounded outbound queue.
// It is the Link the registry holds for the device.
type connection struct {
	ws        *websocket.Conn
	outbound  chan signal.Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func newConnection(ws *websocket.Conn, queueSize int) *connection {
	return &connection{
		ws:       ws,
		outbound: make(chan signal.Envelope, queueSize),
		closed:   make(chan struct{}),
	}
}

// Send queues env for delivery. It never blocks: a closed connection
// or a full queue returns false and the envelope is discarded.
func (c *connection) Send(env signal.Envelope) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.outbound <- env:
		return true
	case <-c.closed:
		return false
	default:
		return false
	}
}

// Close tears the socket down. Idempotent; safe from any goroutine,
// including a registry eviction racing the connection's own teardown.
func (c *connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}
