// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"encoding/json"
	"log/slog"
)

// Input receives decoded input events on the host side. Pointer
// coordinates arrive already scaled to absolute screen pixels; the
// implementation owns the platform injection mechanism.
type Input interface {
	PointerMove(x, y int)
	PointerButton(action, button string)
	Scroll(deltaX, deltaY float64)
	KeyPress(key string, modifiers []string)
}

// Frame is one decoded frame payload on the viewer side.
type Frame struct {
	Data   string // base64-encoded image bytes
	Width  int
	Height int
}

// Dispatcher decodes control channel payloads and hands them to the
// side-specific consumers. A host wires Input; a viewer wires OnFrame.
// Messages for an unwired consumer are dropped.
type Dispatcher struct {
	// Input consumes input events. Nil on the viewer side.
	Input Input

	// OnFrame consumes frame payloads. Nil on the host side.
	OnFrame func(Frame)

	Logger *slog.Logger
}

// Handle decodes one raw channel payload. Malformed payloads are
// logged and dropped; one bad message must not end the session.
func (d *Dispatcher) Handle(payload []byte) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.Logger.Warn("discarding malformed control message", "error", err)
		return
	}

	switch msg.Type {
	case TypeMouse:
		if d.Input == nil {
			return
		}
		d.handleMouse(msg)
	case TypeKeyboard:
		if d.Input == nil {
			return
		}
		if msg.Action != ActionKeyPress {
			d.Logger.Warn("unknown keyboard action", "action", msg.Action)
			return
		}
		d.Input.KeyPress(msg.Key, msg.Modifiers)
	case TypeScreenshot:
		if d.OnFrame == nil {
			return
		}
		d.OnFrame(Frame{Data: msg.Data, Width: msg.Width, Height: msg.Height})
	default:
		d.Logger.Warn("unknown control message", "type", msg.Type)
	}
}

func (d *Dispatcher) handleMouse(msg Message) {
	switch msg.Action {
	case ActionMove:
		x, y := ScalePoint(msg.X, msg.Y, msg.ScreenWidth, msg.ScreenHeight)
		d.Input.PointerMove(x, y)
	case ActionMouseDown, ActionMouseUp, ActionRightClick, ActionDoubleClick:
		d.Input.PointerButton(msg.Action, msg.Button)
	case ActionScroll:
		d.Input.Scroll(msg.DeltaX, msg.DeltaY)
	default:
		d.Logger.Warn("unknown mouse action", "action", msg.Action)
	}
}
