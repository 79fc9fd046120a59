// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay is the server side of the signaling plane: the device
// registry, which maps authenticated device IDs to their one live
// websocket, and the relay server, which forwards negotiation
// envelopes between registered devices.
//
// The relay is a byte-transparent forwarder. It authenticates sockets,
// stamps forwarded envelopes with the sender's verified identity, and
// resolves targets through the registry; it never inspects SDP or ICE
// payloads. Envelopes addressed to an offline device are dropped
// silently — senders detect absence with their own timeouts.
package relay
