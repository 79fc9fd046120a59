// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/pion/webrtc/v4"
)

// Message families.
const (
	TypeMouse      = "mouse"
	TypeKeyboard   = "keyboard"
	TypeScreenshot = "screenshot"
)

// Mouse actions.
const (
	ActionMove        = "move"
	ActionMouseDown   = "mousedown"
	ActionMouseUp     = "mouseup"
	ActionRightClick  = "rightclick"
	ActionDoubleClick = "doubleclick"
	ActionScroll      = "scroll"
)

// ActionKeyPress is the one keyboard action.
const ActionKeyPress = "keypress"

// Modifier keys carried with a keypress.
const (
	ModifierControl = "control"
	ModifierAlt     = "alt"
	ModifierShift   = "shift"
	ModifierCommand = "command"
)

// Message is the one envelope exchanged on the control channel. Which
// fields are populated depends on Type; identity is implicit in which
// channel delivered it.
type Message struct {
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`

	// Pointer coordinates, normalized to [0,1] against the viewer's
	// rendering box. The host scales them by the declared remote
	// screen size before injection.
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`

	// ScreenWidth/ScreenHeight declare the remote screen size the
	// normalized coordinates map onto.
	ScreenWidth  int `json:"screenWidth,omitempty"`
	ScreenHeight int `json:"screenHeight,omitempty"`

	Button string  `json:"button,omitempty"`
	DeltaX float64 `json:"deltaX,omitempty"`
	DeltaY float64 `json:"deltaY,omitempty"`

	Key       string   `json:"key,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`

	// Frame payload: encoded image bytes, base64, plus dimensions.
	Data   string `json:"data,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// ScalePoint maps normalized viewer coordinates onto an absolute pixel
// position on a screen of the given size.
func ScalePoint(nx, ny float64, width, height int) (x, y int) {
	return int(math.Round(nx * float64(width))), int(math.Round(ny * float64(height)))
}

// Channel is the send side of a control channel.
// *webrtc.DataChannel satisfies it.
type Channel interface {
	ReadyState() webrtc.DataChannelState
	Send([]byte) error
}

// SendMessage delivers msg over the channel. A nil or not-yet-open or
// already-closed channel is a no-op, not an error; senders re-check
// state each call instead of queueing.
func SendMessage(channel Channel, msg Message) error {
	if channel == nil || channel.ReadyState() != webrtc.DataChannelStateOpen {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", msg.Type, err)
	}
	if err := channel.Send(payload); err != nil {
		return fmt.Errorf("sending %s message: %w", msg.Type, err)
	}
	return nil
}
