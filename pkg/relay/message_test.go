// Copyright 2024-2026 The avbot Authors

package relay

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestChannelIdentifierCompare(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		a, b ChannelIdentifier
		want int
	}{
		{
			name: "equal",
			a:    ChannelIdentifier{"xmpp", "room"},
			b:    ChannelIdentifier{"xmpp", "room"},
			want: 0,
		},
		{
			name: "protocol takes precedence",
			a:    ChannelIdentifier{"irc", "zzz"},
			b:    ChannelIdentifier{"xmpp", "aaa"},
			want: -1,
		},
		{
			name: "room breaks protocol tie",
			a:    ChannelIdentifier{"qq", "12345"},
			b:    ChannelIdentifier{"qq", "54321"},
			want: -1,
		},
		{
			name: "greater",
			a:    ChannelIdentifier{"xmpp", "b"},
			b:    ChannelIdentifier{"irc", "b"},
			want: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if got := tt.b.Compare(tt.a); got != -tt.want {
				t.Errorf("Compare(%v, %v) = %d, want %d", tt.b, tt.a, got, -tt.want)
			}
		})
	}
}

func TestMessageJSONRoundTrip(t *testing.T) {
	t.Parallel()
	orig := Message{
		Sender: MessageSender{Nick: "cai", QQNumber: "10001", IsOp: true},
		Segments: []Segment{
			TextSegment{Text: "look at this:"},
			ImageSegment{Name: "cat.png", Data: []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0xff}},
			EmojiSegment{ID: "14", URL: "https://example.org/face/14.gif"},
		},
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.Sender != orig.Sender {
		t.Errorf("sender: got %+v, want %+v", got.Sender, orig.Sender)
	}
	if len(got.Segments) != len(orig.Segments) {
		t.Fatalf("segment count: got %d, want %d", len(got.Segments), len(orig.Segments))
	}
	if text, ok := got.Segments[0].(TextSegment); !ok || text.Text != "look at this:" {
		t.Errorf("segment 0: got %#v", got.Segments[0])
	}
	img, ok := got.Segments[1].(ImageSegment)
	if !ok {
		t.Fatalf("segment 1: got %#v, want ImageSegment", got.Segments[1])
	}
	if img.Name != "cat.png" || !bytes.Equal(img.Data, []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0xff}) {
		t.Errorf("image payload not preserved: %#v", img)
	}
	if emoji, ok := got.Segments[2].(EmojiSegment); !ok || emoji.ID != "14" {
		t.Errorf("segment 2: got %#v", got.Segments[2])
	}
}

func TestMessageUnmarshalUnknownSegment(t *testing.T) {
	t.Parallel()
	var m Message
	err := json.Unmarshal([]byte(`{"sender":{"nick":"x"},"segments":[{"type":"video","data":{}}]}`), &m)
	if err == nil {
		t.Error("expected error for unknown segment type")
	}
}

func TestMessagePlainText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		msg    Message
		format PreambleFormatter
		want   string
	}{
		{
			name: "text only with sender preamble",
			msg:  NewTextMessage(MessageSender{Nick: "cai", Preamble: "cai说: "}, "hello"),
			want: "cai说: hello",
		},
		{
			name: "formatter overrides preamble",
			msg:  NewTextMessage(MessageSender{Nick: "cai", Preamble: "ignored"}, "hi"),
			format: func(s MessageSender) string {
				return "(xmpp) " + s.Nick + ": "
			},
			want: "(xmpp) cai: hi",
		},
		{
			name: "image placeholder",
			msg: Message{Segments: []Segment{
				TextSegment{Text: "see "},
				ImageSegment{Name: "shot.png"},
			}},
			want: "see [image shot.png]",
		},
		{
			name: "nameless image and emoji fallback",
			msg: Message{Segments: []Segment{
				ImageSegment{},
				EmojiSegment{ID: "3"},
			}},
			want: "[image][emoji]",
		},
		{
			name: "image with url renders the url",
			msg: Message{Segments: []Segment{
				ImageSegment{Name: "cat.png", URL: "https://img/cat.png"},
			}},
			want: "https://img/cat.png",
		},
		{
			name: "emoji renders its url",
			msg: Message{Segments: []Segment{
				EmojiSegment{ID: "3", URL: "https://e/3.gif"},
			}},
			want: "https://e/3.gif",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.msg.PlainText(tt.format); got != tt.want {
				t.Errorf("PlainText: got %q, want %q", got, tt.want)
			}
		})
	}
}
