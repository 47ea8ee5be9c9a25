// Copyright 2024-2026 The avbot Authors

// Package config loads and validates the avbot YAML configuration.
package config

import (
	_ "embed"
	"fmt"
	"net"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/avplayer/avbot/pkg/proxychain"
	"github.com/avplayer/avbot/pkg/relay"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the top level avbot configuration. Protocol blocks are
// pointers so an absent block disables that backend entirely.
type Config struct {
	Proxies  []ProxyConfig   `yaml:"proxies"`
	XMPP     *XMPPConfig     `yaml:"xmpp"`
	IRC      *IRCConfig      `yaml:"irc"`
	QQ       *QQConfig       `yaml:"qq"`
	Upload   UploadConfig    `yaml:"upload"`
	Channels []ChannelConfig `yaml:"channels"`

	// PreambleTemplate is rendered in front of every relayed message.
	// Fields: Nick, Preamble, CardName, QQNumber, IsOp.
	PreambleTemplate string `yaml:"preamble_template"`

	preambleTemplate *template.Template `yaml:"-"`
}

// ProxyConfig describes one forward proxy in chain order.
type ProxyConfig struct {
	Scheme string `yaml:"scheme"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
}

// XMPPConfig configures the XMPP MUC backend. Server is "host" or
// "host:port"; an absent port uses the registered xmpp-client service.
type XMPPConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Server   string `yaml:"server"`
	Nick     string `yaml:"nick"`
}

// IRCConfig configures the IRC backend. Server is "host" or "host:port".
type IRCConfig struct {
	Nick     string `yaml:"nick"`
	User     string `yaml:"user"`
	RealName string `yaml:"real_name"`
	Server   string `yaml:"server"`
}

// QQConfig configures the QQ backend, which speaks OneBot over a
// websocket gateway.
type QQConfig struct {
	Gateway     string `yaml:"gateway"`
	AccessToken string `yaml:"access_token"`
}

// UploadConfig names the HTTP endpoint image attachments are posted to.
// An empty URL disables uploads.
type UploadConfig struct {
	URL string `yaml:"url"`
}

// ChannelConfig is one logical channel: a named, ordered list of rooms
// that relay to each other.
type ChannelConfig struct {
	Name  string       `yaml:"name"`
	Rooms []RoomConfig `yaml:"rooms"`
}

// RoomConfig binds one room to a protocol backend.
type RoomConfig struct {
	Protocol string `yaml:"protocol"`
	Room     string `yaml:"room"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// DefaultPreambleTemplate is used when preamble_template is left empty.
const DefaultPreambleTemplate = "{{.Nick}} 说: "

var knownProtocols = map[string]bool{"xmpp": true, "irc": true, "qq": true}

// PostProcess normalizes the configuration and compiles the preamble
// template. It must run once after unmarshalling, before any accessor.
func (c *Config) PostProcess() error {
	if c.PreambleTemplate == "" {
		c.PreambleTemplate = DefaultPreambleTemplate
	}
	tmpl, err := template.New("preamble").Parse(c.PreambleTemplate)
	if err != nil {
		return fmt.Errorf("parse preamble_template: %w", err)
	}
	c.preambleTemplate = tmpl

	for i := range c.Channels {
		ch := &c.Channels[i]
		ch.Name = strings.TrimSpace(ch.Name)
		for j := range ch.Rooms {
			r := &ch.Rooms[j]
			r.Protocol = strings.ToLower(strings.TrimSpace(r.Protocol))
			r.Room = strings.TrimSpace(r.Room)
		}
	}
	return nil
}

// Validate rejects configurations that cannot be acted on. It assumes
// PostProcess already ran.
func (c *Config) Validate() error {
	for i, p := range c.Proxies {
		if p.Scheme != "socks5" && p.Scheme != "http" {
			return fmt.Errorf("proxies[%d]: unsupported scheme %q", i, p.Scheme)
		}
		if p.Host == "" {
			return fmt.Errorf("proxies[%d]: host is required", i)
		}
		if p.Port < 1 || p.Port > 65535 {
			return fmt.Errorf("proxies[%d]: port %d out of range", i, p.Port)
		}
	}
	if c.XMPP != nil {
		if c.XMPP.User == "" || c.XMPP.Server == "" {
			return fmt.Errorf("xmpp: user and server are required")
		}
		if c.XMPP.Nick == "" {
			return fmt.Errorf("xmpp: nick is required")
		}
	}
	if c.IRC != nil {
		if c.IRC.Nick == "" || c.IRC.Server == "" {
			return fmt.Errorf("irc: nick and server are required")
		}
	}
	if c.QQ != nil && c.QQ.Gateway == "" {
		return fmt.Errorf("qq: gateway is required")
	}
	if c.XMPP == nil && c.IRC == nil && c.QQ == nil {
		return fmt.Errorf("at least one protocol block must be configured")
	}

	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channels[%d]: name is required", i)
		}
		if seen[ch.Name] {
			return fmt.Errorf("channels[%d]: duplicate channel name %q", i, ch.Name)
		}
		seen[ch.Name] = true
		if len(ch.Rooms) == 0 {
			return fmt.Errorf("channels[%d] (%s): at least one room is required", i, ch.Name)
		}
		for j, r := range ch.Rooms {
			if !knownProtocols[r.Protocol] {
				return fmt.Errorf("channels[%d].rooms[%d]: unknown protocol %q", i, j, r.Protocol)
			}
			if r.Room == "" {
				return fmt.Errorf("channels[%d].rooms[%d]: room is required", i, j)
			}
		}
	}
	return nil
}

// Load reads, unmarshals, normalizes and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Proxychain converts the configured proxies to connect candidates.
func (c *Config) Proxychain() []proxychain.Proxy {
	out := make([]proxychain.Proxy, len(c.Proxies))
	for i, p := range c.Proxies {
		out[i] = proxychain.Proxy{Scheme: p.Scheme, Host: p.Host, Port: p.Port}
	}
	return out
}

// FormatPreamble renders the preamble template for one sender. Render
// failures fall back to the sender's own preamble text.
func (c *Config) FormatPreamble(sender relay.MessageSender) string {
	if c.preambleTemplate == nil {
		return sender.Preamble
	}
	var buf []byte
	if err := c.preambleTemplate.Execute((*templateBuffer)(&buf), sender); err != nil {
		return sender.Preamble
	}
	return string(buf)
}

// templateBuffer is a simple io.Writer that appends to a byte slice.
type templateBuffer []byte

func (b *templateBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

// SplitServer splits a "host" or "host:port" server value, returning
// defService as the service when no port is given.
func SplitServer(server, defService string) (host, service string) {
	h, p, err := net.SplitHostPort(server)
	if err != nil {
		return server, defService
	}
	return h, p
}
