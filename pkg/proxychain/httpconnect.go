// Copyright 2024-2026 The avbot Authors

package proxychain

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// httpConnect tunnels to target through an HTTP proxy with a CONNECT
// request. The returned conn is the established tunnel.
func (c *Chain) httpConnect(ctx context.Context, proxyAddr, target string) (net.Conn, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("dial http proxy %s: %w", proxyAddr, err)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: target},
		Host:   target,
		Header: make(http.Header),
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write CONNECT to %s: %w", proxyAddr, err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read CONNECT response from %s: %w", proxyAddr, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("http proxy %s refused tunnel: %s", proxyAddr, resp.Status)
	}
	_ = conn.SetDeadline(time.Time{})

	// The proxy must not send data before we do; anything already buffered
	// would be lost, so fail loudly instead.
	if br.Buffered() > 0 {
		conn.Close()
		return nil, fmt.Errorf("http proxy %s sent unexpected data after tunnel setup", proxyAddr)
	}
	return conn, nil
}
