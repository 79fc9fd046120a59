// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

// Package session drives peer-connection establishment between two
// device agents. A Manager holds at most one Session per remote
// device; each Session is a state machine over one WebRTC
// PeerConnection, fed by envelopes from the signaling relay and by
// transport state callbacks.
//
// Roles are fixed at session creation. The host side creates the
// "control" data channel and sends the SDP offer; the viewer side
// requests the connection, answers the offer, and accepts the channel.
// Signaling uses trickle ICE: candidates are forwarded as soon as they
// are produced, and candidates that arrive before the remote
// description is set are queued in arrival order and drained once it
// is, never applied early and never dropped.
package session
