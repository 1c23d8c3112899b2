// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// SSETransport dials server-sent event streams. It is receive only; callers
// needing to send use the HTTP API alongside it.
type SSETransport struct {
	// URL is the http:// or https:// stream endpoint.
	URL string

	// Header carries auth cookies or tokens for the request.
	Header http.Header

	// Client overrides http.DefaultClient when set. It must not impose a
	// request timeout; the stream is long-lived.
	Client *http.Client
}

// Open implements Transport.
func (t *SSETransport) Open(ctx context.Context) (Conn, error) {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build sse request: %w", err)
	}
	for k, vs := range t.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The dial itself honors the caller's ctx; the stream then lives on
	// until Close.
	dialDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-dialDone:
		}
	}()

	resp, err := client.Do(req)
	close(dialDone)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open sse stream %s: %w", t.URL, err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open sse stream %s: %w (status %d)", t.URL, ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open sse stream %s: unexpected status %d", t.URL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open sse stream %s: unexpected content type %q", t.URL, ct)
	}

	c := &sseConn{
		body:   resp.Body,
		cancel: cancel,
		recv:   make(chan []byte, 64),
	}
	go c.readLoop()
	return c, nil
}

// sseConn is an open client-side SSE stream.
type sseConn struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	recv   chan []byte

	mu     sync.Mutex
	err    error
	closed bool
}

func (c *sseConn) Receive() <-chan []byte { return c.recv }

func (c *sseConn) Send(context.Context, []byte) error { return ErrSendUnsupported }

func (c *sseConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	return c.body.Close()
}

func (c *sseConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.err
}

// readLoop parses the SSE wire format: data lines accumulate until a blank
// line dispatches the joined payload. Comment lines (heartbeats) are
// skipped.
func (c *sseConn) readLoop() {
	defer close(c.recv)

	scanner := bufio.NewScanner(c.body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	var data [][]byte
	for scanner.Scan() {
		line := scanner.Bytes()

		switch {
		case len(line) == 0:
			if len(data) > 0 {
				c.recv <- bytes.Join(data, []byte("\n"))
				data = nil
			}
		case line[0] == ':':
			// Heartbeat comment.
		case bytes.HasPrefix(line, []byte("data:")):
			payload := bytes.TrimPrefix(line, []byte("data:"))
			payload = bytes.TrimPrefix(payload, []byte(" "))
			data = append(data, append([]byte(nil), payload...))
		default:
			// Field we do not use (event:, id:, retry:). Ignore.
		}
	}

	c.mu.Lock()
	if !c.closed {
		if err := scanner.Err(); err != nil {
			c.err = err
		} else {
			c.err = io.EOF
		}
	}
	c.mu.Unlock()
}
