// Copyright 2024-2026 The avbot Authors

// Package botcmd is the command subsystem: every inbound message passes
// through here after routing, and recognized dot-commands are answered
// through the relay handle. The relay core knows nothing about the
// grammar; it only hands messages over.
package botcmd

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/avplayer/avbot/pkg/bot"
	"github.com/avplayer/avbot/pkg/relay"
)

// Dispatcher implements bot.CommandHandler with a small fixed grammar:
//
//	.help     list the known commands
//	.version  report the bot version
//	.rooms    list the rooms bridged into this channel
type Dispatcher struct {
	log     zerolog.Logger
	version string
}

var _ bot.CommandHandler = (*Dispatcher)(nil)

func New(version string, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		log:     log.With().Str("component", "botcmd").Logger(),
		version: version,
	}
}

func (d *Dispatcher) HandleCommand(origin relay.ChannelIdentifier, msg relay.Message, r bot.Relay, ch *relay.Channel) {
	text := strings.TrimSpace(msg.PlainText(func(relay.MessageSender) string { return "" }))
	if !strings.HasPrefix(text, ".") {
		return
	}

	var reply string
	switch strings.Fields(text)[0] {
	case ".help":
		reply = "commands: .help .version .rooms"
	case ".version":
		reply = "avbot " + d.version
	case ".rooms":
		var names []string
		for _, room := range ch.Rooms() {
			names = append(names, room.String())
		}
		reply = "bridged rooms: " + strings.Join(names, ", ")
	default:
		// Unknown dot-commands stay silent so ordinary punctuation
		// does not trigger noise.
		return
	}

	d.log.Debug().Stringer("origin", origin).Str("command", text).Msg("Command handled")
	d.replyAll(r, ch, reply)
}

// replyAll sends the reply to every room of the channel, the origin
// included, so all bridged sides see the same answer.
func (d *Dispatcher) replyAll(r bot.Relay, ch *relay.Channel, text string) {
	msg := relay.NewTextMessage(relay.MessageSender{Nick: "avbot"}, text)
	for _, room := range ch.Rooms() {
		r.SendMessage(room, msg)
	}
}
