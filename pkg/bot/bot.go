// Copyright 2024-2026 The avbot Authors

// Package bot is the relay core: it ties the protocol backends to the
// static channel topology, fans inbound messages out to sibling rooms and
// offers every message to the command subsystem. The bot holds no mutable
// state beyond the topology, which is frozen after configuration.
package bot

import (
	"github.com/rs/zerolog"

	"github.com/avplayer/avbot/pkg/relay"
)

// Sender is one protocol backend's outbound side.
type Sender interface {
	Protocol() string
	// Send delivers text to a room, best-effort. False means dropped.
	Send(room, text string) bool
}

// Relay is the narrow handle given to the command subsystem for replies.
type Relay interface {
	SendMessage(dest relay.ChannelIdentifier, msg relay.Message) bool
}

// CommandHandler receives every inbound message alongside its resolved
// channel. Side effects are entirely the command subsystem's concern.
type CommandHandler interface {
	HandleCommand(origin relay.ChannelIdentifier, msg relay.Message, r Relay, ch *relay.Channel)
}

// Bot routes messages between protocol backends.
type Bot struct {
	log      zerolog.Logger
	channels []*relay.Channel
	senders  map[string]Sender
	command  CommandHandler
}

var _ Relay = (*Bot)(nil)

func New(log zerolog.Logger) *Bot {
	return &Bot{
		log:     log.With().Str("component", "bot").Logger(),
		senders: make(map[string]Sender),
	}
}

// AddChannel registers a logical channel. Call only during setup; the
// topology is read-only once messages flow.
func (b *Bot) AddChannel(ch *relay.Channel) {
	b.channels = append(b.channels, ch)
}

func (b *Bot) Channels() []*relay.Channel {
	return b.channels
}

// RegisterSender attaches a protocol backend's outbound side.
func (b *Bot) RegisterSender(s Sender) {
	b.senders[s.Protocol()] = s
}

func (b *Bot) SetCommandHandler(h CommandHandler) {
	b.command = h
}

// HandleInbound routes one received message: the claiming channel fans it
// out to its other rooms, then the command subsystem gets a look. An
// origin no channel claims is normal (a private message, say) and is
// dropped silently.
func (b *Bot) HandleInbound(origin relay.ChannelIdentifier, msg relay.Message) {
	routed := false
	for _, ch := range b.channels {
		if !ch.CanHandle(origin) {
			continue
		}
		routed = true
		ch.HandleMessage(origin, msg, func(dest relay.ChannelIdentifier, m relay.Message) {
			b.deliver(ch, dest, m)
		})
		if b.command != nil {
			b.command.HandleCommand(origin, msg, b, ch)
		}
	}
	if !routed {
		b.log.Debug().Stringer("origin", origin).Msg("No channel claims origin, not relayed")
	}
}

func (b *Bot) deliver(ch *relay.Channel, dest relay.ChannelIdentifier, msg relay.Message) {
	if !b.send(dest, msg, ch.PreambleFormatter) {
		b.log.Debug().Stringer("dest", dest).Msg("Delivery dropped")
	}
}

// SendMessage implements Relay. The preamble formatter of the channel
// owning the destination renders the display prefix.
func (b *Bot) SendMessage(dest relay.ChannelIdentifier, msg relay.Message) bool {
	var format relay.PreambleFormatter
	for _, ch := range b.channels {
		if ch.CanHandle(dest) {
			format = ch.PreambleFormatter
			break
		}
	}
	return b.send(dest, msg, format)
}

func (b *Bot) send(dest relay.ChannelIdentifier, msg relay.Message, format relay.PreambleFormatter) bool {
	s, ok := b.senders[dest.Protocol]
	if !ok {
		b.log.Warn().Str("protocol", dest.Protocol).Msg("No backend for protocol")
		return false
	}
	return s.Send(dest.Room, msg.PlainText(format))
}
