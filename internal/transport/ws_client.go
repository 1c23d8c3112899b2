// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSTransport dials WebSocket event stream connections.
type WSTransport struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Header carries auth cookies or tokens for the handshake.
	Header http.Header

	// Dialer overrides websocket.DefaultDialer when set.
	Dialer *websocket.Dialer
}

// Open implements Transport.
func (t *WSTransport) Open(ctx context.Context) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("dial %s: %w (status %d)", t.URL, ErrUnauthorized, resp.StatusCode)
			}
			return nil, fmt.Errorf("dial %s: %w (status %d)", t.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}

	c := &wsConn{
		conn: conn,
		recv: make(chan []byte, 64),
	}
	go c.readLoop()
	return c, nil
}

// wsConn is an open client-side WebSocket connection.
type wsConn struct {
	conn *websocket.Conn
	recv chan []byte

	writeMu sync.Mutex

	mu     sync.Mutex
	err    error
	closed bool
}

func (c *wsConn) Receive() <-chan []byte { return c.recv }

func (c *wsConn) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.err
}

// readLoop feeds the receive channel until the connection dies. The server
// pings; gorilla's default ping handler answers with a pong control frame,
// which is safe concurrently with Send.
func (c *wsConn) readLoop() {
	defer close(c.recv)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.err = err
			}
			c.mu.Unlock()
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.recv <- raw
	}
}
