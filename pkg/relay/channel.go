// Copyright 2024-2026 The avbot Authors

package relay

import (
	"errors"
	"strings"
)

// ErrNoRooms is returned by PrimaryRoom when a channel has no rooms.
var ErrNoRooms = errors.New("channel has no rooms configured")

// SendFunc delivers one message to one room. Implementations translate the
// message into their protocol's wire form; delivery is best-effort.
type SendFunc func(ChannelIdentifier, Message)

// Channel is one logical chat channel spanning rooms on several networks.
// The room set is fixed at configuration time and read-only afterwards, so
// fan-out needs no locking.
type Channel struct {
	// PreambleFormatter renders the relay prefix for messages fanned out
	// from this channel. Nil means the sender's own preamble is used.
	PreambleFormatter PreambleFormatter

	name  string
	rooms []ChannelIdentifier
}

func NewChannel(name string) *Channel {
	return &Channel{name: name}
}

func (c *Channel) Name() string { return c.name }

// AddRoom appends a room to the channel. Insertion order is preserved; it
// determines both fan-out order and primary room preference.
func (c *Channel) AddRoom(protocol, room string) {
	c.rooms = append(c.rooms, ChannelIdentifier{Protocol: protocol, Room: room})
}

// Rooms returns a copy of the channel's room list in insertion order.
func (c *Channel) Rooms() []ChannelIdentifier {
	rooms := make([]ChannelIdentifier, len(c.rooms))
	copy(rooms, c.rooms)
	return rooms
}

// CanHandle reports whether the identifier belongs to this channel.
func (c *Channel) CanHandle(id ChannelIdentifier) bool {
	for _, room := range c.rooms {
		if room == id {
			return true
		}
	}
	return false
}

// HandleMessage fans a message received from origin out to every other room
// of the channel, in insertion order. The origin room never receives a
// copy. Sends are independent; there is no completion-order guarantee.
func (c *Channel) HandleMessage(origin ChannelIdentifier, msg Message, send SendFunc) {
	for _, room := range c.rooms {
		if room == origin {
			continue
		}
		send(room, msg)
	}
}

// PrimaryRoom resolves the channel's primary room name: the first QQ room,
// else the first IRC room with its leading channel prefix stripped, else
// the first room of any protocol. Returns ErrNoRooms on an empty channel.
func (c *Channel) PrimaryRoom() (string, error) {
	for _, room := range c.rooms {
		if room.Protocol == "qq" {
			return room.Room, nil
		}
	}
	for _, room := range c.rooms {
		if room.Protocol == "irc" {
			return strings.TrimLeft(room.Room, "#&"), nil
		}
	}
	if len(c.rooms) == 0 {
		return "", ErrNoRooms
	}
	return c.rooms[0].Room, nil
}
