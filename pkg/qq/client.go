// Copyright 2024-2026 The avbot Authors

// Package qq connects the relay to QQ through an external OneBot-style
// websocket gateway. The gateway owns the proprietary wire protocol; this
// client only consumes its JSON event stream and issues send actions.
package qq

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/avplayer/avbot/pkg/relay"
)

// ReconnectDelay is the fixed pause before redialing a lost gateway
// connection, matching the other backends.
const ReconnectDelay = 10 * time.Second

// Config holds the gateway connection parameters.
type Config struct {
	// GatewayURL is the websocket endpoint, e.g. ws://127.0.0.1:6700.
	GatewayURL  string
	AccessToken string

	// Handler receives every inbound group message after self-filtering.
	Handler func(relay.ChannelIdentifier, relay.Message)

	// Clock drives the reconnect timer. Nil means the real clock.
	Clock clock.Clock
}

// Client is one managed gateway connection with its own reconnect loop.
type Client struct {
	cfg   Config
	clock clock.Clock
	log   zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	selfID  int64
	writeMu sync.Mutex
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Client{
		cfg:   cfg,
		clock: clk,
		log:   log.With().Str("component", "qq").Str("gateway", cfg.GatewayURL).Logger(),
	}
}

// Run dials the gateway and pumps events until ctx is cancelled,
// redialing after the fixed delay on every disconnect.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn().Err(err).Msg("Gateway connect failed")
		} else {
			c.log.Info().Msg("Gateway connected")
			err = c.listen(ctx, conn)
			c.teardown(conn)
			c.log.Info().Err(err).Dur("delay", ReconnectDelay).Msg("Gateway disconnected, reconnect scheduled")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(ReconnectDelay):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.GatewayURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

func (c *Client) listen(ctx context.Context, conn *websocket.Conn) error {
	// Reads unblock on teardown because conn is closed when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleEvent(data)
	}
}

func (c *Client) teardown(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *Client) handleEvent(data []byte) {
	var ev event
	if err := json.Unmarshal(data, &ev); err != nil {
		c.log.Warn().Err(err).Msg("Undecodable gateway event")
		return
	}
	if ev.SelfID != 0 {
		c.mu.Lock()
		c.selfID = ev.SelfID
		c.mu.Unlock()
	}

	switch ev.PostType {
	case "meta_event":
		c.log.Trace().Str("meta", ev.MetaEventType).Msg("Gateway meta event")
	case "message":
		if ev.MessageType != "group" {
			return
		}
		if c.isSelf(ev.UserID) {
			return
		}
		if c.cfg.Handler == nil {
			return
		}
		id := relay.ChannelIdentifier{Protocol: "qq", Room: strconv.FormatInt(ev.GroupID, 10)}
		c.cfg.Handler(id, toMessage(ev))
	default:
		// API responses (echo replies) and notices are ignored.
	}
}

// isSelf is the explicit own-message predicate for this backend.
func (c *Client) isSelf(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID != 0 && userID == c.selfID
}

// Protocol implements the relay sender contract.
func (c *Client) Protocol() string { return "qq" }

// Send delivers text to a QQ group. It reports false when the gateway
// connection is down or the room is not a group number; the message is
// dropped, never queued.
func (c *Client) Send(room, text string) bool {
	groupID, err := strconv.ParseInt(room, 10, 64)
	if err != nil {
		c.log.Warn().Str("room", room).Msg("QQ room is not a group number")
		return false
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	act := action{
		Action: "send_group_msg",
		Params: map[string]any{"group_id": groupID, "message": text},
		Echo:   uuid.NewString(),
	}
	c.writeMu.Lock()
	err = conn.WriteJSON(act)
	c.writeMu.Unlock()
	if err != nil {
		c.log.Warn().Err(err).Msg("Gateway write failed")
		conn.Close()
		return false
	}
	return true
}
