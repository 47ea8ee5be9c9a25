// Copyright 2024-2026 The avbot Authors

package relay

import "strings"

// ChannelIdentifier addresses one room on one chat network. The protocol
// field names the backend ("xmpp", "irc", "qq") and the room field is the
// backend's own name for the room (a MUC JID, an IRC channel, a QQ group
// number). Both fields are compared exactly; they must be normalized before
// use as keys.
type ChannelIdentifier struct {
	Protocol string `json:"protocol"`
	Room     string `json:"room"`
}

func (c ChannelIdentifier) String() string {
	return c.Protocol + ":" + c.Room
}

// Compare orders identifiers lexicographically by protocol, then room.
func (c ChannelIdentifier) Compare(other ChannelIdentifier) int {
	if d := strings.Compare(c.Protocol, other.Protocol); d != 0 {
		return d
	}
	return strings.Compare(c.Room, other.Room)
}

// MessageSender describes where a message came from. CardName and QQNumber
// are protocol-specific enrichments and stay empty on other networks.
type MessageSender struct {
	Nick     string `json:"nick"`
	Preamble string `json:"preamble,omitempty"`
	CardName string `json:"card_name,omitempty"`
	QQNumber string `json:"qq_number,omitempty"`
	IsOp     bool   `json:"is_op,omitempty"`
}

// PreambleFormatter renders the display prefix shown when a message is
// relayed into a room, e.g. naming the origin network.
type PreambleFormatter func(MessageSender) string

// Message is one chat message: a sender plus an ordered list of segments.
// Segment order is rendering order and is preserved through routing.
type Message struct {
	Sender   MessageSender
	Segments []Segment
}

// NewTextMessage builds a message holding a single text segment.
func NewTextMessage(sender MessageSender, text string) Message {
	return Message{Sender: sender, Segments: []Segment{TextSegment{Text: text}}}
}

// PlainText renders the message as display text. The sender preamble is
// produced by format when given, otherwise the sender's own preamble is
// used. Segment kinds with no textual form render as placeholders; this
// never fails.
func (m Message) PlainText(format PreambleFormatter) string {
	var sb strings.Builder
	if format != nil {
		sb.WriteString(format(m.Sender))
	} else {
		sb.WriteString(m.Sender.Preamble)
	}
	for _, seg := range m.Segments {
		switch s := seg.(type) {
		case TextSegment:
			sb.WriteString(s.Text)
		case ImageSegment:
			if s.URL != "" {
				sb.WriteString(s.URL)
			} else if s.Name != "" {
				sb.WriteString("[image " + s.Name + "]")
			} else {
				sb.WriteString("[image]")
			}
		case EmojiSegment:
			if s.URL != "" {
				sb.WriteString(s.URL)
			} else {
				sb.WriteString("[emoji]")
			}
		default:
			sb.WriteString("[unsupported]")
		}
	}
	return sb.String()
}
