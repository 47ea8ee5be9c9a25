// Copyright 2024-2026 The avbot Authors

package qq

import (
	"strconv"

	"github.com/avplayer/avbot/pkg/relay"
)

// event is the OneBot gateway's JSON envelope. Only the fields the relay
// cares about are mapped; everything else is ignored.
type event struct {
	PostType      string      `json:"post_type"`
	MetaEventType string      `json:"meta_event_type"`
	MessageType   string      `json:"message_type"`
	SelfID        int64       `json:"self_id"`
	UserID        int64       `json:"user_id"`
	GroupID       int64       `json:"group_id"`
	Sender        eventSender `json:"sender"`
	Message       []obSegment `json:"message"`
}

type eventSender struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
	Role     string `json:"role"`
}

// obSegment is one OneBot message segment. Data values vary in type per
// segment kind, hence the any.
type obSegment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func (s obSegment) str(key string) string {
	switch v := s.Data[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// toMessage converts a group message event into the relay's message model.
func toMessage(ev event) relay.Message {
	sender := relay.MessageSender{
		Nick:     ev.Sender.Nickname,
		CardName: ev.Sender.Card,
		QQNumber: strconv.FormatInt(ev.Sender.UserID, 10),
		IsOp:     ev.Sender.Role == "owner" || ev.Sender.Role == "admin",
	}
	if sender.CardName != "" {
		sender.Nick = sender.CardName
	}

	msg := relay.Message{Sender: sender}
	for _, seg := range ev.Message {
		switch seg.Type {
		case "text":
			msg.Segments = append(msg.Segments, relay.TextSegment{Text: seg.str("text")})
		case "image":
			msg.Segments = append(msg.Segments, relay.ImageSegment{Name: seg.str("file"), URL: seg.str("url")})
		case "face":
			msg.Segments = append(msg.Segments, relay.EmojiSegment{ID: seg.str("id"), URL: seg.str("url")})
		}
	}
	return msg
}

// action is an outbound OneBot API call. Echo tags the call so responses
// can be told apart from events.
type action struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
	Echo   string         `json:"echo"`
}
