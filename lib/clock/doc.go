// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability.
//
// Production code injects [Real]; tests inject [Fake] and drive time
// with [FakeClock.Advance]. Anything in this repository that would
// otherwise call time.Now, time.After, time.AfterFunc, or
// time.NewTicker takes a Clock instead: presence timestamps in the
// device registry, session token expiry checks, the frame production
// ticker, and the relay client's reconnect delay.
//
// [FakeClock.WaitForTimers] closes the race between a goroutine
// registering a timer and the test advancing the clock, so tests of
// periodic behavior (frame cadence, reconnect) are fully deterministic.
package clock
