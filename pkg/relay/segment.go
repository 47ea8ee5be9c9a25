// Copyright 2024-2026 The avbot Authors

package relay

import (
	"encoding/json"
	"fmt"
)

// Segment is one piece of a message. Concrete kinds are TextSegment,
// ImageSegment and EmojiSegment; a segment carries a type tag plus a
// payload typed per tag.
type Segment interface {
	SegmentType() string
}

// TextSegment is a run of plain text.
type TextSegment struct {
	Text string `json:"text"`
}

func (TextSegment) SegmentType() string { return "text" }

// ImageSegment is an inline image, carried either as raw bytes or as a
// fetchable URL provided by the origin network.
type ImageSegment struct {
	Name string `json:"name,omitempty"`
	Data []byte `json:"data,omitempty"`
	URL  string `json:"url,omitempty"`
}

func (ImageSegment) SegmentType() string { return "image" }

// EmojiSegment is a platform emoji/sticker reference.
type EmojiSegment struct {
	ID   string `json:"id"`
	Data []byte `json:"data,omitempty"`
	URL  string `json:"url,omitempty"`
}

func (EmojiSegment) SegmentType() string { return "emoji" }

// wireSegment is the tagged JSON form of a segment.
type wireSegment struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wireMessage struct {
	Sender   MessageSender `json:"sender"`
	Segments []wireSegment `json:"segments"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	wire := wireMessage{Sender: m.Sender, Segments: make([]wireSegment, 0, len(m.Segments))}
	for _, seg := range m.Segments {
		data, err := json.Marshal(seg)
		if err != nil {
			return nil, fmt.Errorf("marshal %s segment: %w", seg.SegmentType(), err)
		}
		wire.Segments = append(wire.Segments, wireSegment{Type: seg.SegmentType(), Data: data})
	}
	return json.Marshal(wire)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Sender = wire.Sender
	m.Segments = make([]Segment, 0, len(wire.Segments))
	for _, ws := range wire.Segments {
		seg, err := decodeSegment(ws)
		if err != nil {
			return err
		}
		m.Segments = append(m.Segments, seg)
	}
	return nil
}

func decodeSegment(ws wireSegment) (Segment, error) {
	switch ws.Type {
	case "text":
		var s TextSegment
		if err := json.Unmarshal(ws.Data, &s); err != nil {
			return nil, fmt.Errorf("decode text segment: %w", err)
		}
		return s, nil
	case "image":
		var s ImageSegment
		if err := json.Unmarshal(ws.Data, &s); err != nil {
			return nil, fmt.Errorf("decode image segment: %w", err)
		}
		return s, nil
	case "emoji":
		var s EmojiSegment
		if err := json.Unmarshal(ws.Data, &s); err != nil {
			return nil, fmt.Errorf("decode emoji segment: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown segment type %q", ws.Type)
	}
}
