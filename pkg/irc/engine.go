// Copyright 2024-2026 The avbot Authors

// Package irc is a small IRC client engine: registration, channel joins
// and PRIVMSG exchange over an externally managed byte transport.
package irc

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/avplayer/avbot/pkg/protocol"
	"github.com/avplayer/avbot/pkg/relay"
)

// Config holds the identity used during registration.
type Config struct {
	Nick     string
	User     string
	RealName string
}

// Engine implements protocol.Engine for IRC. Inbound parsing is purely
// line-based and runs on the feeder's goroutine; no internal concurrency.
type Engine struct {
	cfg    Config
	events protocol.Events
	log    zerolog.Logger

	mu     sync.Mutex
	tr     protocol.Transport
	buf    bytes.Buffer
	nick   string
	joined map[string]bool
}

var _ protocol.Engine = (*Engine)(nil)

func New(cfg Config, events protocol.Events, log zerolog.Logger) *Engine {
	if cfg.User == "" {
		cfg.User = cfg.Nick
	}
	if cfg.RealName == "" {
		cfg.RealName = cfg.Nick
	}
	return &Engine{
		cfg:    cfg,
		events: events,
		log:    log.With().Str("component", "irc").Logger(),
	}
}

func (e *Engine) Protocol() string { return "irc" }

func (e *Engine) Open(tr protocol.Transport) error {
	e.mu.Lock()
	e.tr = tr
	e.nick = e.cfg.Nick
	e.joined = make(map[string]bool)
	e.buf.Reset()
	e.mu.Unlock()

	if !e.sendLine("NICK " + e.cfg.Nick) {
		return errors.New("irc: transport closed during registration")
	}
	e.sendLine(fmt.Sprintf("USER %s 0 * :%s", e.cfg.User, e.cfg.RealName))
	return nil
}

func (e *Engine) Feed(data []byte) {
	e.mu.Lock()
	e.buf.Write(data)
	var lines []string
	for {
		raw := e.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(raw[:idx]), "\r")
		e.buf.Next(idx + 1)
		if line != "" {
			lines = append(lines, line)
		}
	}
	e.mu.Unlock()

	for _, line := range lines {
		e.handleLine(line)
	}
}

func (e *Engine) Close() {
	e.mu.Lock()
	e.tr = nil
	e.joined = nil
	e.buf.Reset()
	e.mu.Unlock()
}

// JoinRoom renames to nick if needed, then joins the channel. An empty
// room only renames, which is how conflict recovery during registration
// works on IRC.
func (e *Engine) JoinRoom(room, nick string) {
	e.mu.Lock()
	rename := nick != "" && nick != e.nick
	if rename {
		e.nick = nick
	}
	if room != "" && e.joined != nil {
		e.joined[room] = true
	}
	e.mu.Unlock()

	if rename {
		e.sendLine("NICK " + nick)
	}
	if room != "" {
		e.sendLine("JOIN " + room)
	}
}

func (e *Engine) SendRoomMessage(room, text string) bool {
	e.mu.Lock()
	joined := e.joined[room]
	e.mu.Unlock()
	if !joined {
		return false
	}
	ok := true
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		ok = e.sendLine("PRIVMSG "+room+" :"+line) && ok
	}
	return ok
}

func (e *Engine) sendLine(line string) bool {
	e.mu.Lock()
	tr := e.tr
	e.mu.Unlock()
	if tr == nil {
		return false
	}
	return tr.Send([]byte(line + "\r\n"))
}

func (e *Engine) handleLine(line string) {
	prefix, command, params := parseLine(line)

	switch command {
	case "PING":
		token := ""
		if len(params) > 0 {
			token = params[0]
		}
		e.sendLine("PONG :" + token)
	case "001":
		e.events.OnReady()
	case "433":
		// ERR_NICKNAMEINUSE: <client> <nick> :Nickname is already in use
		rejected := e.currentNick()
		if len(params) > 1 {
			rejected = params[1]
		}
		e.events.OnJoinConflict("", rejected)
	case "PRIVMSG":
		e.handlePrivmsg(prefix, params)
	case "ERROR":
		reason := strings.Join(params, " ")
		e.events.OnClosed(fmt.Errorf("irc: server error: %s", reason))
	default:
		e.log.Trace().Str("command", command).Msg("Unhandled line")
	}
}

func (e *Engine) handlePrivmsg(prefix string, params []string) {
	if len(params) < 2 {
		return
	}
	target, text := params[0], params[1]
	if !strings.HasPrefix(target, "#") && !strings.HasPrefix(target, "&") {
		// Private message, not a room; the relay only routes rooms.
		return
	}
	nick := prefix
	if i := strings.IndexByte(nick, '!'); i >= 0 {
		nick = nick[:i]
	}
	if nick == "" {
		return
	}
	msg := relay.NewTextMessage(relay.MessageSender{Nick: nick}, text)
	e.events.OnRoomMessage(target, msg)
}

func (e *Engine) currentNick() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nick
}

// parseLine splits one IRC line into its prefix, command and parameters,
// with the trailing parameter unescaped from its ":" form.
func parseLine(line string) (prefix, command string, params []string) {
	rest := line
	if strings.HasPrefix(rest, ":") {
		var ok bool
		prefix, rest, ok = strings.Cut(rest[1:], " ")
		if !ok {
			return prefix, "", nil
		}
	}
	command, rest, _ = strings.Cut(rest, " ")
	for rest != "" {
		if strings.HasPrefix(rest, ":") {
			params = append(params, rest[1:])
			break
		}
		var param string
		param, rest, _ = strings.Cut(rest, " ")
		if param != "" {
			params = append(params, param)
		}
	}
	return prefix, command, params
}
