// Copyright 2024-2026 The avbot Authors

package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/avplayer/avbot/pkg/relay"
)

type uploadRecord struct {
	fields   map[string]string
	fileName string
	body     []byte
}

func newUploadServer(t *testing.T) (*httptest.Server, func() []uploadRecord) {
	t.Helper()
	var mu sync.Mutex
	var records []uploadRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		rec := uploadRecord{fields: make(map[string]string)}
		for k, v := range r.MultipartForm.Value {
			rec.fields[k] = v[0]
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		rec.fileName = header.Filename
		rec.body, _ = io.ReadAll(file)
		mu.Lock()
		records = append(records, rec)
		mu.Unlock()
	}))
	t.Cleanup(srv.Close)
	return srv, func() []uploadRecord {
		mu.Lock()
		defer mu.Unlock()
		return append([]uploadRecord(nil), records...)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPublishInlineData(t *testing.T) {
	t.Parallel()
	srv, records := newUploadServer(t)
	pub := newImagePublisher(srv.URL, zerolog.Nop())

	origin := relay.ChannelIdentifier{Protocol: "xmpp", Room: "roomA"}
	msg := relay.Message{
		Sender: relay.MessageSender{Nick: "cai"},
		Segments: []relay.Segment{
			relay.TextSegment{Text: "look"},
			relay.ImageSegment{Name: "shot.png", Data: []byte{1, 2, 3}},
		},
	}
	pub.publish(origin, msg)

	waitFor(t, func() bool { return len(records()) == 1 })
	rec := records()[0]
	if rec.fileName != "shot.png" {
		t.Errorf("file name: %q", rec.fileName)
	}
	if !bytes.Equal(rec.body, []byte{1, 2, 3}) {
		t.Errorf("body: %x", rec.body)
	}
	if rec.fields["room"] != "xmpp:roomA" || rec.fields["sender"] != "cai" {
		t.Errorf("fields: %v", rec.fields)
	}
}

func TestPublishFetchesURL(t *testing.T) {
	t.Parallel()
	imgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png-bytes"))
	}))
	t.Cleanup(imgSrv.Close)
	srv, records := newUploadServer(t)
	pub := newImagePublisher(srv.URL, zerolog.Nop())

	pub.publish(relay.ChannelIdentifier{Protocol: "qq", Room: "12345"}, relay.Message{
		Sender:   relay.MessageSender{Nick: "mike"},
		Segments: []relay.Segment{relay.ImageSegment{URL: imgSrv.URL + "/cat.png"}},
	})

	waitFor(t, func() bool { return len(records()) == 1 })
	rec := records()[0]
	if rec.fileName != "image.dat" {
		t.Errorf("unnamed image should use the default file name, got %q", rec.fileName)
	}
	if string(rec.body) != "png-bytes" {
		t.Errorf("body: %q", rec.body)
	}
}

func TestPublishSkipsTextOnly(t *testing.T) {
	t.Parallel()
	srv, records := newUploadServer(t)
	pub := newImagePublisher(srv.URL, zerolog.Nop())

	pub.publish(relay.ChannelIdentifier{Protocol: "irc", Room: "#a"},
		relay.NewTextMessage(relay.MessageSender{Nick: "bob"}, "no images here"))

	time.Sleep(100 * time.Millisecond)
	if got := records(); len(got) != 0 {
		t.Errorf("text-only message should not upload, got %d records", len(got))
	}
}
