// Copyright 2024-2026 The avbot Authors

package proxychain

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testChain(t *testing.T, proxies []Proxy) *Chain {
	t.Helper()
	c := New(proxies, zerolog.Nop())
	c.dialer.Timeout = 2 * time.Second
	return c
}

// echoListener accepts connections and echoes one line back.
func echoListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}(conn)
		}
	}()
	return ln
}

func TestConnectDirect(t *testing.T) {
	t.Parallel()
	ln := echoListener(t)
	host, port, _ := net.SplitHostPort(ln.Addr().String())

	c := testChain(t, nil)
	conn, err := c.Connect(context.Background(), host, port)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil || line != "ping\n" {
		t.Errorf("echo: got %q, %v", line, err)
	}
}

func TestConnectAllCandidatesFail(t *testing.T) {
	t.Parallel()
	// Grab a port and close it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, port, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()

	c := testChain(t, []Proxy{{Scheme: "socks5", Host: host, Port: mustAtoi(t, port)}})
	_, err = c.Connect(context.Background(), host, port)
	if err == nil {
		t.Fatal("Connect should fail when every candidate fails")
	}
	if !strings.Contains(err.Error(), "all connect candidates failed") {
		t.Errorf("error should name candidate exhaustion, got: %v", err)
	}
}

func TestConnectFallsThroughToProxy(t *testing.T) {
	t.Parallel()
	target := echoListener(t)
	proxyLn := httpConnectProxy(t)

	// Unroutable direct target forces fall-through to the HTTP proxy, which
	// tunnels to the real listener instead.
	_, targetPort, _ := net.SplitHostPort(target.Addr().String())
	proxyHost, proxyPort, _ := net.SplitHostPort(proxyLn.Addr().String())

	c := testChain(t, []Proxy{{Scheme: "http", Host: proxyHost, Port: mustAtoi(t, proxyPort)}})
	conn, err := c.Connect(context.Background(), "direct-unreachable.invalid", targetPort)
	if err != nil {
		t.Fatalf("Connect via proxy: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("tunnel\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil || line != "tunnel\n" {
		t.Errorf("tunnel echo: got %q, %v", line, err)
	}
}

// httpConnectProxy is a minimal CONNECT proxy that tunnels any request to a
// local listener with the requested port, ignoring the unroutable hostname.
func httpConnectProxy(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				br := bufio.NewReader(c)
				req, err := http.ReadRequest(br)
				if err != nil || req.Method != http.MethodConnect {
					return
				}
				_, port, err := net.SplitHostPort(req.Host)
				if err != nil {
					return
				}
				upstream, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", port))
				if err != nil {
					_, _ = io.WriteString(c, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
					return
				}
				defer upstream.Close()
				_, _ = io.WriteString(c, "HTTP/1.1 200 Connection established\r\n\r\n")
				go func() { _, _ = io.Copy(upstream, br) }()
				_, _ = io.Copy(c, upstream)
			}(conn)
		}
	}()
	return ln
}

func TestResolvePort(t *testing.T) {
	t.Parallel()
	tests := []struct {
		service string
		want    int
		wantErr bool
	}{
		{service: "5222", want: 5222},
		{service: "http", want: 80},
		{service: "0", wantErr: true},
		{service: "70000", wantErr: true},
		{service: "no-such-service-name", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			t.Parallel()
			got, err := resolvePort(context.Background(), tt.service)
			if tt.wantErr {
				if err == nil {
					t.Errorf("resolvePort(%q): expected error, got %d", tt.service, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolvePort(%q): %v", tt.service, err)
			}
			if got != tt.want {
				t.Errorf("resolvePort(%q) = %d, want %d", tt.service, got, tt.want)
			}
		})
	}
}

func TestUnsupportedProxyScheme(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, port, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()

	c := testChain(t, []Proxy{{Scheme: "gopher", Host: host, Port: mustAtoi(t, port)}})
	_, err = c.Connect(context.Background(), host, port)
	if err == nil || !strings.Contains(err.Error(), "unsupported proxy scheme") {
		t.Errorf("expected unsupported scheme error, got: %v", err)
	}
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	if err != nil {
		t.Fatalf("atoi %q: %v", s, err)
	}
	return n
}
