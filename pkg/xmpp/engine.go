// Copyright 2024-2026 The avbot Authors

// Package xmpp is a minimal XMPP MUC engine: enough of the client protocol
// to authenticate, join multi-user chat rooms, and exchange groupchat
// messages over an externally managed byte transport. It is deliberately
// not a general XMPP library; room info, items and invites are accepted
// and ignored.
package xmpp

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/avplayer/avbot/pkg/protocol"
	"github.com/avplayer/avbot/pkg/relay"
)

var errTransportClosed = errors.New("xmpp: transport closed")

// Config holds the account parameters of one XMPP connection.
type Config struct {
	// User is the bare JID, user@domain.
	User     string
	Password string
	// Resource is the resource bound after authentication, typically the
	// bot's nickname.
	Resource string
}

// Engine implements protocol.Engine for XMPP. It parses the inbound stream
// on its own goroutine, fed through an internal pipe, and reports stanzas
// as protocol events.
type Engine struct {
	cfg    Config
	events protocol.Events
	log    zerolog.Logger

	local  string
	domain string

	mu     sync.Mutex
	tr     protocol.Transport
	pw     *io.PipeWriter
	rooms  map[string]string // bare room JID -> joined nick
	closed bool              // set by Close, suppresses OnClosed
}

var _ protocol.Engine = (*Engine)(nil)

func New(cfg Config, events protocol.Events, log zerolog.Logger) (*Engine, error) {
	local, domain, ok := strings.Cut(cfg.User, "@")
	if !ok || local == "" || domain == "" {
		return nil, fmt.Errorf("xmpp: user %q is not a bare JID", cfg.User)
	}
	return &Engine{
		cfg:    cfg,
		events: events,
		local:  local,
		domain: domain,
		log:    log.With().Str("component", "xmpp").Logger(),
	}, nil
}

func (e *Engine) Protocol() string { return "xmpp" }

// Open starts a session on a fresh transport: spins up the stream parser
// and sends the initial stream header.
func (e *Engine) Open(tr protocol.Transport) error {
	pr, pw := io.Pipe()
	e.mu.Lock()
	e.tr = tr
	e.pw = pw
	e.rooms = make(map[string]string)
	e.closed = false
	e.mu.Unlock()

	go e.readLoop(pr)

	if !tr.Send([]byte(e.streamHeader())) {
		return errTransportClosed
	}
	return nil
}

// Feed pushes inbound bytes into the stream parser. Backpressure is
// natural: the write blocks until the parser has consumed the chunk.
func (e *Engine) Feed(data []byte) {
	e.mu.Lock()
	pw := e.pw
	e.mu.Unlock()
	if pw != nil {
		_, _ = pw.Write(data)
	}
}

// Close discards session state after a disconnect. Safe to call twice; a
// close initiated here does not additionally raise OnClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	pw := e.pw
	e.pw = nil
	e.tr = nil
	e.rooms = nil
	e.mu.Unlock()
	if pw != nil {
		_ = pw.CloseWithError(io.EOF)
	}
}

// JoinRoom sends a MUC join presence for room under nick. An empty room
// only records the nickname; XMPP identity is per-room, so there is
// nothing global to rename.
func (e *Engine) JoinRoom(room, nick string) {
	if room == "" {
		return
	}
	e.mu.Lock()
	if e.rooms != nil {
		e.rooms[room] = nick
	}
	e.mu.Unlock()
	e.send(fmt.Sprintf("<presence to='%s/%s'><x xmlns='http://jabber.org/protocol/muc'/></presence>",
		xmlEscape(room), xmlEscape(nick)))
}

// SendRoomMessage sends a groupchat message to a joined room. Unknown
// rooms and closed transports report false.
func (e *Engine) SendRoomMessage(room, text string) bool {
	e.mu.Lock()
	_, joined := e.rooms[room]
	e.mu.Unlock()
	if !joined {
		return false
	}
	return e.send(fmt.Sprintf("<message to='%s' type='groupchat'><body>%s</body></message>",
		xmlEscape(room), xmlEscape(text)))
}

func (e *Engine) send(s string) bool {
	e.mu.Lock()
	tr := e.tr
	e.mu.Unlock()
	if tr == nil {
		return false
	}
	return tr.Send([]byte(s))
}

func (e *Engine) streamHeader() string {
	return fmt.Sprintf("<?xml version='1.0'?><stream:stream to='%s' xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams' version='1.0'>",
		xmlEscape(e.domain))
}

func (e *Engine) readLoop(pr *io.PipeReader) {
	err := e.session(pr)
	_ = pr.CloseWithError(err)

	e.mu.Lock()
	suppressed := e.closed
	e.mu.Unlock()
	if !suppressed {
		e.events.OnClosed(err)
	}
}

// session drives the stream through SASL, bind and the stanza loop. One
// decoder serves the whole session: the post-auth stream restart nests a
// second stream element inside the first, which streaming parsers accept.
func (e *Engine) session(r io.Reader) error {
	dec := xml.NewDecoder(r)

	if err := e.awaitStreamOpen(dec); err != nil {
		return err
	}
	if err := e.awaitFeatures(dec); err != nil {
		return err
	}
	if !e.send(e.saslAuth()) {
		return errTransportClosed
	}
	if err := e.awaitAuthResult(dec); err != nil {
		return err
	}

	// Stream restart after authentication.
	if !e.send(fmt.Sprintf("<stream:stream to='%s' xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams' version='1.0'>", xmlEscape(e.domain))) {
		return errTransportClosed
	}
	if err := e.awaitStreamOpen(dec); err != nil {
		return err
	}
	if err := e.awaitFeatures(dec); err != nil {
		return err
	}

	if !e.send(fmt.Sprintf("<iq type='set' id='bind_1'><bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'><resource>%s</resource></bind></iq>", xmlEscape(e.cfg.Resource))) {
		return errTransportClosed
	}
	if err := e.awaitBindResult(dec); err != nil {
		return err
	}

	e.log.Debug().Str("user", e.cfg.User).Msg("Stream established")
	e.events.OnReady()

	return e.stanzaLoop(dec)
}

func (e *Engine) stanzaLoop(dec *xml.Decoder) error {
	for {
		se, err := nextStartElement(dec)
		if err != nil {
			return err
		}
		switch se.Name.Local {
		case "message":
			if err := e.handleMessage(dec, se); err != nil {
				return err
			}
		case "presence":
			if err := e.handlePresence(dec, se); err != nil {
				return err
			}
		default:
			if err := dec.Skip(); err != nil {
				return fmt.Errorf("xmpp: skip %s stanza: %w", se.Name.Local, err)
			}
		}
	}
}

func (e *Engine) handleMessage(dec *xml.Decoder, se xml.StartElement) error {
	var st messageStanza
	if err := dec.DecodeElement(&st, &se); err != nil {
		return fmt.Errorf("xmpp: decode message stanza: %w", err)
	}
	if st.Type != "groupchat" || st.Body == "" {
		return nil
	}
	room, nick := splitJID(st.From)
	if nick == "" {
		// Bare-JID messages are room system notices, not chat.
		return nil
	}
	msg := relay.NewTextMessage(relay.MessageSender{Nick: nick}, st.Body)
	e.events.OnRoomMessage(room, msg)
	return nil
}

func (e *Engine) handlePresence(dec *xml.Decoder, se xml.StartElement) error {
	var st presenceStanza
	if err := dec.DecodeElement(&st, &se); err != nil {
		return fmt.Errorf("xmpp: decode presence stanza: %w", err)
	}
	if st.Type == "error" && st.Error != nil && st.Error.Conflict != nil {
		room, nick := splitJID(st.From)
		e.events.OnJoinConflict(room, nick)
	}
	return nil
}

func (e *Engine) saslAuth() string {
	raw := "\x00" + e.local + "\x00" + e.cfg.Password
	return "<auth xmlns='urn:ietf:params:xml:ns:xmpp-sasl' mechanism='PLAIN'>" +
		base64.StdEncoding.EncodeToString([]byte(raw)) + "</auth>"
}

func (e *Engine) awaitStreamOpen(dec *xml.Decoder) error {
	for {
		se, err := nextStartElement(dec)
		if err != nil {
			return err
		}
		if se.Name.Local == "stream" {
			return nil
		}
		if err := dec.Skip(); err != nil {
			return fmt.Errorf("xmpp: awaiting stream open: %w", err)
		}
	}
}

func (e *Engine) awaitFeatures(dec *xml.Decoder) error {
	for {
		se, err := nextStartElement(dec)
		if err != nil {
			return err
		}
		if err := dec.Skip(); err != nil {
			return fmt.Errorf("xmpp: reading %s: %w", se.Name.Local, err)
		}
		if se.Name.Local == "features" {
			return nil
		}
	}
}

func (e *Engine) awaitAuthResult(dec *xml.Decoder) error {
	se, err := nextStartElement(dec)
	if err != nil {
		return err
	}
	switch se.Name.Local {
	case "success":
		return dec.Skip()
	case "failure":
		_ = dec.Skip()
		return errors.New("xmpp: authentication failed")
	default:
		return fmt.Errorf("xmpp: unexpected %s during authentication", se.Name.Local)
	}
}

func (e *Engine) awaitBindResult(dec *xml.Decoder) error {
	for {
		se, err := nextStartElement(dec)
		if err != nil {
			return err
		}
		if se.Name.Local != "iq" {
			if err := dec.Skip(); err != nil {
				return err
			}
			continue
		}
		var st iqStanza
		if err := dec.DecodeElement(&st, &se); err != nil {
			return fmt.Errorf("xmpp: decode bind result: %w", err)
		}
		if st.Type == "error" {
			return errors.New("xmpp: resource bind rejected")
		}
		return nil
	}
}

// nextStartElement returns the next start element, treating the end of the
// enclosing stream element as a server-side stream close.
func nextStartElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t, nil
		case xml.EndElement:
			if t.Name.Local == "stream" {
				return xml.StartElement{}, errors.New("xmpp: stream closed by server")
			}
		}
	}
}

type messageStanza struct {
	From string `xml:"from,attr"`
	Type string `xml:"type,attr"`
	Body string `xml:"body"`
}

type presenceStanza struct {
	From  string         `xml:"from,attr"`
	Type  string         `xml:"type,attr"`
	Error *presenceError `xml:"error"`
}

type presenceError struct {
	Conflict *struct{} `xml:"conflict"`
}

type iqStanza struct {
	Type string `xml:"type,attr"`
	JID  string `xml:"bind>jid"`
}

func splitJID(full string) (bare, resource string) {
	bare, resource, _ = strings.Cut(full, "/")
	return bare, resource
}

func xmlEscape(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}
