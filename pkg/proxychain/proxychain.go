// Copyright 2024-2026 The avbot Authors

// Package proxychain turns a target host/service pair into a connected,
// possibly proxy-tunneled net.Conn. A chain tries a direct connection
// first, then each configured proxy in order; the first candidate that
// yields an established tunnel wins and only the final candidate's failure
// surfaces as the operation's error.
package proxychain

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"
)

// Proxy describes one forward proxy. Supported schemes are "socks5" and
// "http" (CONNECT tunneling).
type Proxy struct {
	Scheme string
	Host   string
	Port   int
}

func (p Proxy) addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p Proxy) String() string {
	return p.Scheme + "://" + p.addr()
}

// Chain resolves connections through an ordered list of proxy strategies.
// An empty proxy list means direct connections only.
type Chain struct {
	proxies []Proxy
	dialer  *net.Dialer
	log     zerolog.Logger
}

func New(proxies []Proxy, log zerolog.Logger) *Chain {
	return &Chain{
		proxies: proxies,
		dialer:  &net.Dialer{Timeout: 30 * time.Second},
		log:     log.With().Str("component", "proxychain").Logger(),
	}
}

// Connect establishes a TCP connection to host:service, where service is a
// numeric port or a registered service name ("xmpp-client", "ircd"). Each
// candidate failure falls through to the next; exhausting all candidates
// returns the last failure.
func (c *Chain) Connect(ctx context.Context, host, service string) (net.Conn, error) {
	port, err := resolvePort(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("resolve service %q: %w", service, err)
	}
	target := net.JoinHostPort(host, strconv.Itoa(port))

	var lastErr error
	for _, cand := range c.candidates() {
		conn, err := cand.dial(ctx, target)
		if err == nil {
			c.log.Debug().Str("target", target).Str("via", cand.name).Msg("Connected")
			return conn, nil
		}
		c.log.Warn().Err(err).Str("target", target).Str("via", cand.name).Msg("Connect candidate failed")
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("all connect candidates failed for %s: %w", target, lastErr)
}

type candidate struct {
	name string
	dial func(ctx context.Context, target string) (net.Conn, error)
}

func (c *Chain) candidates() []candidate {
	cands := []candidate{{
		name: "direct",
		dial: func(ctx context.Context, target string) (net.Conn, error) {
			return c.dialer.DialContext(ctx, "tcp", target)
		},
	}}
	for _, p := range c.proxies {
		cands = append(cands, c.proxyCandidate(p))
	}
	return cands
}

func (c *Chain) proxyCandidate(p Proxy) candidate {
	switch p.Scheme {
	case "socks5":
		return candidate{
			name: p.String(),
			dial: func(ctx context.Context, target string) (net.Conn, error) {
				d, err := proxy.SOCKS5("tcp", p.addr(), nil, c.dialer)
				if err != nil {
					return nil, fmt.Errorf("socks5 %s: %w", p.addr(), err)
				}
				// proxy.SOCKS5 always returns a ContextDialer.
				return d.(proxy.ContextDialer).DialContext(ctx, "tcp", target)
			},
		}
	case "http":
		return candidate{
			name: p.String(),
			dial: func(ctx context.Context, target string) (net.Conn, error) {
				return c.httpConnect(ctx, p.addr(), target)
			},
		}
	default:
		return candidate{
			name: p.String(),
			dial: func(context.Context, string) (net.Conn, error) {
				return nil, fmt.Errorf("unsupported proxy scheme %q", p.Scheme)
			},
		}
	}
}

func resolvePort(ctx context.Context, service string) (int, error) {
	if port, err := strconv.Atoi(service); err == nil {
		if port < 1 || port > 65535 {
			return 0, fmt.Errorf("port %d out of range", port)
		}
		return port, nil
	}
	return net.DefaultResolver.LookupPort(ctx, "tcp", service)
}
