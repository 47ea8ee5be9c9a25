// Copyright 2024-2026 The avbot Authors

// Package adapter owns the network side of one protocol connection: it
// dials through the proxy chain, pumps bytes between the socket and the
// protocol engine, and drives the reconnect state machine. All relay logic
// stays outside; the adapter only normalizes engine events into messages.
package adapter

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.mau.fi/util/random"

	"github.com/avplayer/avbot/pkg/protocol"
	"github.com/avplayer/avbot/pkg/proxychain"
	"github.com/avplayer/avbot/pkg/relay"
)

// State is the adapter's connection state. It transitions only on
// transport or engine events and cycles forever; there is no terminal
// state while the process runs.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

const (
	// ReconnectDelay is the fixed pause between losing a connection and
	// redialing, so a rejecting server is not hammered in a hot loop.
	ReconnectDelay = 10 * time.Second

	readBufferSize = 8192
)

// Config holds the per-connection parameters of one adapter.
type Config struct {
	// Server is the host or host:port to connect to. Without a port the
	// FallbackService name is resolved instead.
	Server          string
	FallbackService string

	// Nick is the configured nickname; renames on conflict derive from it.
	Nick string

	// Rooms are joined after every successful handshake.
	Rooms []string

	// Handler receives every inbound room message after self-filtering.
	// It must not block.
	Handler func(relay.ChannelIdentifier, relay.Message)

	// RenameNick derives a collision-resistant nickname from the base
	// nick. Nil picks the default random-suffix scheme; tests inject a
	// deterministic one.
	RenameNick func(base string) string

	// Clock drives the reconnect timer. Nil means the real clock.
	Clock clock.Clock
}

// Adapter bridges one protocol engine onto one managed network connection.
type Adapter struct {
	cfg    Config
	chain  *proxychain.Chain
	engine protocol.Engine
	clock  clock.Clock
	log    zerolog.Logger

	mu      sync.Mutex
	state   State
	conn    net.Conn
	gen     uint64
	curNick string

	writeMu sync.Mutex
}

var _ protocol.Events = (*Adapter)(nil)

func New(cfg Config, chain *proxychain.Chain, log zerolog.Logger) *Adapter {
	if cfg.RenameNick == nil {
		cfg.RenameNick = func(base string) string {
			return base + random.String(4)
		}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Adapter{
		cfg:     cfg,
		chain:   chain,
		clock:   clk,
		curNick: cfg.Nick,
		log:     log.With().Str("component", "adapter").Str("server", cfg.Server).Logger(),
	}
}

// Bind attaches the protocol engine. The engine must have been constructed
// with this adapter as its Events sink. Must be called before Run.
func (a *Adapter) Bind(engine protocol.Engine) {
	a.engine = engine
	a.log = a.log.With().Str("protocol", engine.Protocol()).Logger()
}

// Run drives the connect/session/reconnect cycle until ctx is cancelled.
// Connections are redialed forever; no failure below is fatal.
func (a *Adapter) Run(ctx context.Context) error {
	if a.engine == nil {
		return errors.New("adapter: Run called before Bind")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.setState(StateConnecting)
		conn, err := a.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The resolver owns retry pacing across proxy candidates;
			// exhaustion is transient and retried immediately.
			a.log.Warn().Err(err).Msg("Connect failed, retrying")
			continue
		}

		gen := a.startSession(conn)
		if err := a.engine.Open(&transportShim{a: a, gen: gen}); err != nil {
			a.log.Error().Err(err).Msg("Protocol handshake start failed")
			conn.Close()
		}
		err = a.readPump(conn)
		a.endSession(conn)
		a.setState(StateDisconnected)
		a.log.Info().Err(err).Dur("delay", ReconnectDelay).Msg("Disconnected, reconnect scheduled")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.clock.After(ReconnectDelay):
		}
	}
}

func (a *Adapter) dial(ctx context.Context) (net.Conn, error) {
	host, service := a.cfg.Server, a.cfg.FallbackService
	if h, p, err := net.SplitHostPort(a.cfg.Server); err == nil {
		host, service = h, p
	}
	return a.chain.Connect(ctx, host, service)
}

func (a *Adapter) startSession(conn net.Conn) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	a.conn = conn
	a.curNick = a.cfg.Nick
	return a.gen
}

// readPump is the single reader of the connection. Reads are strictly
// sequential: the next read is not issued until the engine has consumed
// the previous chunk.
func (a *Adapter) readPump(conn net.Conn) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			a.engine.Feed(buf[:n])
		}
		if err != nil {
			return err
		}
	}
}

func (a *Adapter) endSession(conn net.Conn) {
	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
	}
	a.mu.Unlock()
	conn.Close()
	a.engine.Close()
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// State returns the adapter's current connection state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// CurrentNick returns the nickname currently in use, which differs from
// the configured one after a conflict rename.
func (a *Adapter) CurrentNick() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.curNick
}

// isSelf reports whether a message nick refers to this adapter's own
// identity. This is the protocol-layer echo guard.
func (a *Adapter) isSelf(nick string) bool {
	return nick != "" && nick == a.CurrentNick()
}

// Protocol implements the relay sender contract.
func (a *Adapter) Protocol() string {
	return a.engine.Protocol()
}

// Send delivers text to a joined room. It reports false, without touching
// adapter state, when the connection is not currently open; the message is
// dropped, never queued.
func (a *Adapter) Send(room, text string) bool {
	if a.State() != StateConnected {
		return false
	}
	return a.engine.SendRoomMessage(room, text)
}

// OnReady implements protocol.Events: handshake done, join the rooms.
func (a *Adapter) OnReady() {
	a.setState(StateConnected)
	nick := a.CurrentNick()
	for _, room := range a.cfg.Rooms {
		a.engine.JoinRoom(room, nick)
	}
	a.log.Info().Str("nick", nick).Int("rooms", len(a.cfg.Rooms)).Msg("Session established")
}

// OnRoomMessage implements protocol.Events.
func (a *Adapter) OnRoomMessage(room string, msg relay.Message) {
	if a.isSelf(msg.Sender.Nick) {
		return
	}
	if a.cfg.Handler == nil {
		return
	}
	a.cfg.Handler(relay.ChannelIdentifier{Protocol: a.engine.Protocol(), Room: room}, msg)
}

// OnJoinConflict implements protocol.Events: pick a fresh nickname and
// rejoin. This never gives up; every conflict triggers another attempt.
func (a *Adapter) OnJoinConflict(room, nick string) {
	newNick := a.cfg.RenameNick(a.cfg.Nick)
	a.mu.Lock()
	a.curNick = newNick
	a.mu.Unlock()
	a.log.Warn().Str("room", room).Str("rejected", nick).Str("nick", newNick).Msg("Nickname conflict, rejoining")
	a.engine.JoinRoom(room, newNick)
}

// OnClosed implements protocol.Events: the engine saw a stream-level
// close, so drop the transport and let the read pump surface it.
func (a *Adapter) OnClosed(err error) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn != nil {
		if err != nil {
			a.log.Warn().Err(err).Msg("Engine closed the stream")
		}
		conn.Close()
	}
}

// transportShim is the engine-facing side of the current connection. The
// generation stamp makes writes from a superseded session fail instead of
// resurrecting a dead connection.
type transportShim struct {
	a   *Adapter
	gen uint64
}

func (t *transportShim) Send(data []byte) bool {
	a := t.a
	a.mu.Lock()
	if t.gen != a.gen || a.conn == nil {
		a.mu.Unlock()
		return false
	}
	conn := a.conn
	a.mu.Unlock()

	// One write in flight at a time.
	a.writeMu.Lock()
	_, err := conn.Write(data)
	a.writeMu.Unlock()
	if err != nil {
		a.log.Warn().Err(err).Msg("Write failed")
		conn.Close()
		return false
	}
	return true
}
