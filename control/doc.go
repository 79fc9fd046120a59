// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

// Package control is the message protocol spoken over an established
// session's control channel: input events flowing viewer to host, and
// frame payloads flowing host to viewer.
//
// The protocol is deliberately loss-tolerant at the edges: any send
// attempted while the channel is not open is a silent no-op, and the
// frame producer never buffers — a tick that cannot send is simply
// skipped, so the viewer always gets the freshest frame the channel
// could carry.
package control
