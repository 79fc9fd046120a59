// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/farview-dev/farview/signal"
)

// Sender hands an envelope to the signaling relay. *signal.Client
// satisfies it.
type Sender interface {
	Send(signal.Envelope) error
}

// Config carries a Manager's dependencies and policy callbacks.
// Callbacks are invoked from transport goroutines; implementations
// must not call back into the Manager synchronously except through
// Disconnect.
type Config struct {
	Sender Sender
	Logger *slog.Logger

	// LocalName is the human-readable name sent with outbound
	// connection requests.
	LocalName string

	// ICEServers are STUN/TURN URLs for the peer connection.
	ICEServers []string

	// Approve decides whether to accept an inbound connection
	// request. Nil declines everything.
	Approve func(fromDeviceID, fromName string) bool

	// OnControlChannel fires when a session's control channel opens.
	OnControlChannel func(remoteDeviceID string, channel *webrtc.DataChannel)

	// OnSessionClosed fires when a session tears down, with the
	// reason. A declined request surfaces as ErrRejected.
	OnSessionClosed func(remoteDeviceID string, reason error)
}

// Manager owns the negotiation sessions of one device agent, at most
// one per remote device. It is the handler behind the agent's
// signaling client: every inbound relay envelope lands in
// HandleEnvelope.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a Manager with no sessions.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// RequestConnection starts the viewer path: register a session for
// remoteID and ask the relay to forward a connection request. The
// remote's offer, or its rejection, arrives later via HandleEnvelope;
// an offline remote answers with nothing, so callers watch
// OnControlChannel/OnSessionClosed under their own timeout.
func (m *Manager) RequestConnection(remoteID string) error {
	m.mu.Lock()
	if _, exists := m.sessions[remoteID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("session: already negotiating with %s", remoteID)
	}
	s := newSession(m, RoleViewer, remoteID, StateRequesting)
	m.sessions[remoteID] = s
	m.mu.Unlock()

	err := m.cfg.Sender.Send(signal.Envelope{
		Type:           signal.TypeRequestConnection,
		TargetDeviceID: remoteID,
		FromName:       m.cfg.LocalName,
	})
	if err != nil {
		m.remove(remoteID, s)
		return fmt.Errorf("sending connection request: %w", err)
	}
	m.cfg.Logger.Info("connection requested", "remote_device_id", remoteID)
	return nil
}

// Disconnect tears down the session with remoteID, if any.
func (m *Manager) Disconnect(remoteID string) {
	if s, ok := m.Session(remoteID); ok {
		s.teardown(errors.New("session: local disconnect"))
	}
}

// Session returns the live session for remoteID.
func (m *Manager) Session(remoteID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[remoteID]
	return s, ok
}

// Close tears down every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.teardown(errors.New("session: manager closed"))
	}
}

// HandleEnvelope dispatches one relay envelope to the session it
// belongs to. Per-message errors are logged, never fatal: one
// malformed envelope must not take down the agent's signaling loop.
func (m *Manager) HandleEnvelope(env signal.Envelope) {
	switch env.Type {
	case signal.TypeConnectionRequest:
		m.handleConnectionRequest(env)
	case signal.TypeOffer:
		s := m.sessionForOffer(env.FromDeviceID)
		if err := s.handleOffer(env.Data); err != nil {
			m.cfg.Logger.Error("handling offer", "remote_device_id", env.FromDeviceID, "error", err)
		}
	case signal.TypeAnswer:
		s, ok := m.Session(env.FromDeviceID)
		if !ok {
			m.cfg.Logger.Warn("answer for unknown session", "remote_device_id", env.FromDeviceID)
			return
		}
		if err := s.handleAnswer(env.Data); err != nil {
			m.cfg.Logger.Error("handling answer", "remote_device_id", env.FromDeviceID, "error", err)
		}
	case signal.TypeICECandidate:
		s, ok := m.Session(env.FromDeviceID)
		if !ok {
			m.cfg.Logger.Warn("candidate for unknown session", "remote_device_id", env.FromDeviceID)
			return
		}
		if err := s.handleCandidate(env.Data); err != nil {
			m.cfg.Logger.Error("handling candidate", "remote_device_id", env.FromDeviceID, "error", err)
		}
	case signal.TypeConnectionRejected:
		if s, ok := m.Session(env.FromDeviceID); ok {
			s.handleRejected()
		}
	default:
		m.cfg.Logger.Debug("ignoring envelope", "type", env.Type)
	}
}

// handleConnectionRequest runs the host's accept/decline decision. An
// accepted request creates the host session and starts the offer; a
// declined one answers with connection-rejected so the requester can
// stop waiting.
func (m *Manager) handleConnectionRequest(env signal.Envelope) {
	remoteID := env.FromDeviceID
	if remoteID == "" {
		m.cfg.Logger.Warn("connection request without sender identity")
		return
	}
	if m.cfg.Approve == nil || !m.cfg.Approve(remoteID, env.FromName) {
		m.cfg.Logger.Info("connection request declined", "remote_device_id", remoteID, "from_name", env.FromName)
		err := m.cfg.Sender.Send(signal.Envelope{
			Type:           signal.TypeConnectionRejected,
			TargetDeviceID: remoteID,
		})
		if err != nil {
			m.cfg.Logger.Warn("sending rejection failed", "remote_device_id", remoteID, "error", err)
		}
		return
	}

	m.mu.Lock()
	if _, exists := m.sessions[remoteID]; exists {
		// A stale session with this remote; replace it with the new
		// negotiation.
		m.mu.Unlock()
		m.Disconnect(remoteID)
		m.mu.Lock()
	}
	s := newSession(m, RoleHost, remoteID, StateRequested)
	m.sessions[remoteID] = s
	m.mu.Unlock()

	m.cfg.Logger.Info("connection request accepted", "remote_device_id", remoteID, "from_name", env.FromName)
	if err := s.startOffer(); err != nil {
		m.cfg.Logger.Error("starting offer", "remote_device_id", remoteID, "error", err)
		s.teardown(err)
	}
}

// sessionForOffer finds the viewer session awaiting this offer, or
// creates one if the offer arrived without a preceding request from
// our side.
func (m *Manager) sessionForOffer(remoteID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[remoteID]; ok {
		return s
	}
	s := newSession(m, RoleViewer, remoteID, StateIdle)
	m.sessions[remoteID] = s
	return s
}

// remove deletes the session from the table if it is still the
// registered one. Compared by identity so a teardown racing a
// replacement cannot evict the newer session.
func (m *Manager) remove(remoteID string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.sessions[remoteID]; ok && current == s {
		delete(m.sessions, remoteID)
	}
}

// newPeerConnection builds a pion PeerConnection with the configured
// ICE servers. Loopback candidates are enabled so two agents on the
// same machine, or a test, can connect without a reachable interface.
func (m *Manager) newPeerConnection() (*webrtc.PeerConnection, error) {
	var servers []webrtc.ICEServer
	for _, url := range m.cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
}
