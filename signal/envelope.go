// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package signal

import "encoding/json"

// Envelope kinds. TypeRequestConnection is what a viewer sends; the
// relay rewrites it to TypeConnectionRequest before forwarding so the
// receiving host can tell a routed request from its own outbound one.
const (
	TypeAuthenticate       = "authenticate"
	TypeAuthenticated      = "authenticated"
	TypeError              = "error"
	TypeOffer              = "offer"
	TypeAnswer             = "answer"
	TypeICECandidate       = "ice-candidate"
	TypeRequestConnection  = "request-connection"
	TypeConnectionRequest  = "connection-request"
	TypeConnectionRejected = "connection-rejected"
)

// ErrInvalidTokenMessage is the error message the relay sends before
// closing a socket that failed authentication.
const ErrInvalidTokenMessage = "Invalid token"

// Envelope is the one message shape exchanged with the relay. Which
// fields are populated depends on Type; unused fields are omitted on
// the wire.
type Envelope struct {
	Type string `json:"type"`

	// Token authenticates the socket (TypeAuthenticate only). It is
	// never forwarded to other devices.
	Token string `json:"token,omitempty"`

	// DeviceID carries the authenticated identity back to the device
	// in the TypeAuthenticated acknowledgement.
	DeviceID string `json:"deviceId,omitempty"`

	// TargetDeviceID addresses an outbound envelope. The relay strips
	// it when forwarding.
	TargetDeviceID string `json:"targetDeviceId,omitempty"`

	// FromDeviceID is set by the relay on forwarded envelopes from
	// the sender's authenticated identity. It is never trusted from
	// the sender's payload.
	FromDeviceID string `json:"fromDeviceId,omitempty"`

	// FromName is the sender-chosen display name on connection
	// requests, forwarded unmodified.
	FromName string `json:"fromName,omitempty"`

	// Data is the negotiation payload (SDP or ICE candidate JSON),
	// opaque to the relay.
	Data json.RawMessage `json:"data,omitempty"`

	// Message carries error text on TypeError envelopes.
	Message string `json:"message,omitempty"`
}

// Routable reports whether this envelope kind is forwarded between
// devices by the relay.
func Routable(envelopeType string) bool {
	switch envelopeType {
	case TypeOffer, TypeAnswer, TypeICECandidate,
		TypeRequestConnection, TypeConnectionRejected:
		return true
	}
	return false
}

// ForwardedType maps an inbound envelope kind to the kind delivered to
// the target device. Only TypeRequestConnection is rewritten.
func ForwardedType(envelopeType string) string {
	if envelopeType == TypeRequestConnection {
		return TypeConnectionRequest
	}
	return envelopeType
}
