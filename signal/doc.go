// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

// Package signal defines the relay wire protocol and the agent-side
// relay client.
//
// Envelopes are JSON text messages over a persistent WebSocket. The
// relay routes them between authenticated devices by target identifier
// without inspecting negotiation payloads; the Data field is raw JSON
// (an SDP description or an ICE candidate) that only the two endpoint
// negotiators interpret.
//
// [Client] maintains a device's connection to the relay: it
// authenticates with the device session token, dispatches inbound
// envelopes to a handler, and reconnects after a fixed delay for as
// long as the token is accepted. An "Invalid token" rejection is
// terminal — the device must be re-registered for a fresh token.
package signal
