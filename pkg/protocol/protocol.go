// Copyright 2024-2026 The avbot Authors

// Package protocol defines the narrow seam between a chat protocol engine
// and the connection adapter that owns its transport. An engine speaks its
// wire protocol over a byte Transport and reports high-level happenings
// through Events; everything about connection lifecycle, proxying and
// reconnection lives on the adapter side of this seam.
package protocol

import "github.com/avplayer/avbot/pkg/relay"

// Transport is the engine-facing write side of a live network connection.
type Transport interface {
	// Send queues data for writing. It returns false when the connection
	// is not open; the engine treats that as a stream-level failure.
	Send(data []byte) bool
}

// Events receives an engine's high-level protocol events. Callbacks must
// not block; they may be invoked from the engine's decode goroutine.
type Events interface {
	// OnReady fires once the engine's connect/authenticate sequence has
	// succeeded and rooms can be joined.
	OnReady()

	// OnRoomMessage fires for every message received in a joined room.
	// The engine does not filter the adapter's own messages; that is the
	// adapter's responsibility.
	OnRoomMessage(room string, msg relay.Message)

	// OnJoinConflict fires when a room join is rejected because the
	// nickname is already taken. nick is the rejected nickname.
	OnJoinConflict(room, nick string)

	// OnClosed fires when the engine observes a stream-level close,
	// including decode failures on inbound data.
	OnClosed(err error)
}

// Engine drives one chat protocol over a byte transport. An engine serves
// one connection at a time; Close resets its session state so the same
// engine can be reopened on the next connection.
type Engine interface {
	// Protocol returns the protocol tag used in channel identifiers.
	Protocol() string

	// Open begins the protocol handshake on a fresh transport. The engine
	// may write immediately.
	Open(tr Transport) error

	// Feed hands inbound bytes to the engine. Calls are strictly
	// sequential; the engine must consume the slice before returning.
	Feed(data []byte)

	// JoinRoom joins (or re-joins under a new nickname) a room. A room
	// argument of "" renames the engine's identity without joining.
	JoinRoom(room, nick string)

	// SendRoomMessage sends text to a joined room. It reports false when
	// the room is unknown or the transport is not open.
	SendRoomMessage(room, text string) bool

	// Close tells the engine its connection is gone so it can discard
	// session state. It must be safe to call more than once.
	Close()
}
