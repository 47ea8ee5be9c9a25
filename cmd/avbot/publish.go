// Copyright 2024-2026 The avbot Authors

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/avplayer/avbot/pkg/relay"
	"github.com/avplayer/avbot/pkg/upload"
)

const (
	publishTimeout  = 30 * time.Second
	maxImageFetch   = 10 << 20
	publishFileName = "image.dat"
)

// imagePublisher mirrors relayed image attachments to the web archive's
// upload endpoint. Publishing is fire-and-forget: it runs off the routing
// path and failures only log.
type imagePublisher struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

func newImagePublisher(url string, log zerolog.Logger) *imagePublisher {
	return &imagePublisher{
		url:    url,
		client: &http.Client{Timeout: publishTimeout},
		log:    log.With().Str("component", "publish").Logger(),
	}
}

// publish uploads every image segment of msg that carries bytes or a
// fetchable URL. It returns immediately.
func (p *imagePublisher) publish(origin relay.ChannelIdentifier, msg relay.Message) {
	for _, seg := range msg.Segments {
		img, ok := seg.(relay.ImageSegment)
		if !ok || (len(img.Data) == 0 && img.URL == "") {
			continue
		}
		go func() {
			if err := p.publishOne(origin, msg.Sender, img); err != nil {
				p.log.Warn().Err(err).Str("origin", origin.String()).Str("image", img.Name).Msg("Image publish failed")
			}
		}()
	}
}

func (p *imagePublisher) publishOne(origin relay.ChannelIdentifier, sender relay.MessageSender, img relay.ImageSegment) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	content, err := p.imageContent(ctx, img)
	if err != nil {
		return err
	}

	name := img.Name
	if name == "" {
		name = publishFileName
	}
	resp, err := upload.Post(ctx, p.client, p.url, name, "file", upload.FormArgs{
		"room":   origin.String(),
		"sender": sender.Nick,
	}, content)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("upload endpoint returned %s", resp.Status)
	}
	return nil
}

// imageContent yields the image bytes, fetching the origin network's URL
// when the segment does not carry them inline.
func (p *imagePublisher) imageContent(ctx context.Context, img relay.ImageSegment) (io.Reader, error) {
	if len(img.Data) > 0 {
		return bytes.NewReader(img.Data), nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, img.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build image fetch: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("image fetch returned %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageFetch))
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	return bytes.NewReader(data), nil
}
