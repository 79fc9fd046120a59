// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

// Package account is the relay server's HTTP management surface:
// account registration and login, and device registration, listing,
// and deletion.
//
// Login issues a signed account token; every device route derives the
// acting user from that token, never from the request body, so one
// account cannot operate on another's devices by naming them. Device
// registration is the only place device session tokens are minted.
package account
