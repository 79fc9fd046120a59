// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/farview-dev/farview/signal"
)

// ErrRejected is the teardown reason when the remote device declines a
// connection request.
var ErrRejected = errors.New("session: connection rejected by remote device")

// controlChannelLabel is the one data channel both sides use for input
// events and frame payloads.
const controlChannelLabel = "control"

// Role determines which half of the negotiation a session runs. It is
// fixed at creation: the field is never written after newSession, so a
// session structurally cannot change sides.
type Role int

const (
	// RoleHost shares its screen: it creates the control channel and
	// sends the offer.
	RoleHost Role = iota
	// RoleViewer drives the remote screen: it requests the
	// connection, answers the offer, and accepts the control channel.
	RoleViewer
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "viewer"
}

// State is a session's position in the negotiation.
type State string

const (
	StateIdle           State = "idle"
	StateRequesting     State = "requesting"
	StateRequested      State = "requested"
	StateOfferSent      State = "offer-sent"
	StateOfferReceived  State = "offer-received"
	StateAnswerSent     State = "answer-sent"
	StateAnswerReceived State = "answer-received"
	StateConnected      State = "connected"
	StateClosed         State = "closed"
)

// Session is the negotiation state machine for one remote device. All
// transitions — inbound envelopes and transport callbacks alike — are
// serialized through one mutex, so handlers never observe a
// half-applied transition.
type Session struct {
	role     Role
	remoteID string
	manager  *Manager
	logger   *slog.Logger

	mu      sync.Mutex
	state   State
	pc      *webrtc.PeerConnection
	channel *webrtc.DataChannel

	// pending holds ICE candidates that arrived before the remote
	// description was set. Applying a candidate without a remote
	// description is invalid, so they are deferred here in arrival
	// order and drained the moment the description lands.
	pending   []webrtc.ICECandidateInit
	remoteSet bool
}

func newSession(m *Manager, role Role, remoteID string, state State) *Session {
	return &Session{
		role:     role,
		remoteID: remoteID,
		manager:  m,
		logger:   m.cfg.Logger.With("remote_device_id", remoteID, "role", role.String()),
		state:    state,
	}
}

// Role reports which side of the negotiation this session runs.
func (s *Session) Role() Role { return s.role }

// RemoteDeviceID reports the peer this session negotiates with.
func (s *Session) RemoteDeviceID() string { return s.remoteID }

// State reports the current negotiation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Channel returns the control channel, or nil before it exists.
func (s *Session) Channel() *webrtc.DataChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// startOffer runs the initiator path: build the peer connection and
// the control channel, then send the offer. Host side only.
func (s *Session) startOffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return errors.New("session: closed")
	}

	if err := s.ensurePeerConnectionLocked(); err != nil {
		return err
	}

	ordered := true
	channel, err := s.pc.CreateDataChannel(controlChannelLabel, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return fmt.Errorf("creating control channel: %w", err)
	}
	s.installChannelLocked(channel)

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	if err := s.sendDescriptionLocked(signal.TypeOffer, offer); err != nil {
		return err
	}
	s.state = StateOfferSent
	s.logger.Info("offer sent")
	return nil
}

// handleOffer runs the responder path: apply the remote offer, drain
// any queued candidates, and answer.
func (s *Session) handleOffer(data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return errors.New("session: closed")
	}

	if err := s.ensurePeerConnectionLocked(); err != nil {
		return err
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(data, &offer); err != nil {
		return fmt.Errorf("decoding offer: %w", err)
	}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	s.state = StateOfferReceived
	s.drainPendingLocked()

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("creating answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	if err := s.sendDescriptionLocked(signal.TypeAnswer, answer); err != nil {
		return err
	}
	s.state = StateAnswerSent
	s.logger.Info("answer sent")
	return nil
}

// handleAnswer completes the initiator's round-trip: apply the remote
// answer and drain any candidates that beat it here.
func (s *Session) handleAnswer(data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return errors.New("session: closed")
	}
	if s.pc == nil {
		return errors.New("session: answer before offer")
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(data, &answer); err != nil {
		return fmt.Errorf("decoding answer: %w", err)
	}
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	s.state = StateAnswerReceived
	s.drainPendingLocked()
	s.logger.Info("answer applied")
	return nil
}

// handleCandidate applies a remote ICE candidate, or queues it if the
// remote description is not set yet.
func (s *Session) handleCandidate(data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return errors.New("session: closed")
	}

	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &candidate); err != nil {
		return fmt.Errorf("decoding candidate: %w", err)
	}
	if !s.remoteSet {
		s.pending = append(s.pending, candidate)
		s.logger.Debug("candidate queued", "queued", len(s.pending))
		return nil
	}
	if err := s.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("applying candidate: %w", err)
	}
	return nil
}

// drainPendingLocked applies queued candidates in arrival order. Call
// only after SetRemoteDescription succeeds.
func (s *Session) drainPendingLocked() {
	s.remoteSet = true
	for _, candidate := range s.pending {
		if err := s.pc.AddICECandidate(candidate); err != nil {
			s.logger.Warn("applying queued candidate failed", "error", err)
		}
	}
	if n := len(s.pending); n > 0 {
		s.logger.Debug("candidate queue drained", "count", n)
	}
	s.pending = nil
}

// pendingCount reports queued remote candidates, for tests.
func (s *Session) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ensurePeerConnectionLocked creates the PeerConnection on first use
// and wires its callbacks back into this session.
func (s *Session) ensurePeerConnectionLocked() error {
	if s.pc != nil {
		return nil
	}
	pc, err := s.manager.newPeerConnection()
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}
	s.pc = pc

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks end of gathering; there is nothing to forward.
		if candidate == nil {
			return
		}
		s.sendLocalCandidate(candidate.ToJSON())
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.handleTransportState(state)
	})
	if s.role == RoleViewer {
		pc.OnDataChannel(func(channel *webrtc.DataChannel) {
			s.acceptChannel(channel)
		})
	}
	return nil
}

// sendLocalCandidate forwards a locally gathered candidate through the
// relay immediately, independent of negotiation state.
func (s *Session) sendLocalCandidate(candidate webrtc.ICECandidateInit) {
	data, err := json.Marshal(candidate)
	if err != nil {
		s.logger.Error("encoding candidate", "error", err)
		return
	}
	err = s.manager.cfg.Sender.Send(signal.Envelope{
		Type:           signal.TypeICECandidate,
		TargetDeviceID: s.remoteID,
		Data:           data,
	})
	if err != nil {
		s.logger.Warn("sending candidate failed", "error", err)
	}
}

func (s *Session) sendDescriptionLocked(envelopeType string, description webrtc.SessionDescription) error {
	data, err := json.Marshal(description)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", envelopeType, err)
	}
	err = s.manager.cfg.Sender.Send(signal.Envelope{
		Type:           envelopeType,
		TargetDeviceID: s.remoteID,
		Data:           data,
	})
	if err != nil {
		return fmt.Errorf("sending %s: %w", envelopeType, err)
	}
	return nil
}

// installChannelLocked records the control channel and announces it
// once open. Exactly one side creates it; the other accepts it here
// via OnDataChannel.
func (s *Session) installChannelLocked(channel *webrtc.DataChannel) {
	s.channel = channel
	channel.OnOpen(func() {
		s.logger.Info("control channel open")
		if s.manager.cfg.OnControlChannel != nil {
			s.manager.cfg.OnControlChannel(s.remoteID, channel)
		}
	})
}

func (s *Session) acceptChannel(channel *webrtc.DataChannel) {
	if channel.Label() != controlChannelLabel {
		s.logger.Warn("ignoring unexpected data channel", "label", channel.Label())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		channel.Close()
		return
	}
	s.installChannelLocked(channel)
}

// handleTransportState reacts to peer connection state changes. A
// failed or disconnected transport tears the whole session down;
// there is no automatic re-negotiation — the caller retries from
// scratch.
func (s *Session) handleTransportState(state webrtc.PeerConnectionState) {
	s.logger.Info("transport state change", "state", state.String())
	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.mu.Lock()
		if s.state != StateClosed {
			s.state = StateConnected
		}
		s.mu.Unlock()
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		s.teardown(fmt.Errorf("session: transport %s", state))
	}
}

// handleRejected surfaces a connection-rejected envelope received
// while requesting.
func (s *Session) handleRejected() {
	s.teardown(ErrRejected)
}

// teardown closes the transport and control channel, clears the
// pending queue, and removes the session from the manager. Idempotent;
// a network failure and an explicit disconnect take the same path.
func (s *Session) teardown(reason error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	channel := s.channel
	pc := s.pc
	s.channel = nil
	s.pending = nil
	s.mu.Unlock()

	if channel != nil {
		channel.Close()
	}
	if pc != nil {
		pc.Close()
	}
	s.manager.remove(s.remoteID, s)
	s.logger.Info("session closed", "reason", reason)
	if s.manager.cfg.OnSessionClosed != nil {
		s.manager.cfg.OnSessionClosed(s.remoteID, reason)
	}
}
