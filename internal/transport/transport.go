// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

// Package transport carries event frames between server and client over
// WebSocket or SSE.
//
// The two transports are interchangeable for receiving: both deliver the
// same JSON frames in the same per-connection order. Only WebSocket carries
// client-to-server frames; SSE clients send through the HTTP API instead.
package transport

import (
	"context"
	"errors"
	"time"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB

	// sseHeartbeat keeps proxies from idling out quiet SSE streams.
	sseHeartbeat = 25 * time.Second
)

// ErrSendUnsupported is returned by Send on receive-only transports.
var ErrSendUnsupported = errors.New("transport: send not supported")

// ErrUnauthorized is wrapped into Open errors when the server rejects the
// handshake credentials. Redialing with the same credentials cannot succeed;
// callers should stop until they hold new ones.
var ErrUnauthorized = errors.New("transport: unauthorized")

// Conn is one open client-side connection to the event stream.
type Conn interface {
	// Receive returns the inbound frame stream. The channel closes when the
	// connection is lost or closed; Err then reports why.
	Receive() <-chan []byte

	// Send writes one frame to the server. SSE connections return
	// ErrSendUnsupported.
	Send(ctx context.Context, frame []byte) error

	// Close tears the connection down. Safe to call more than once.
	Close() error

	// Err reports the terminal error after Receive closes. Nil for a clean
	// local Close.
	Err() error
}

// Transport dials event stream connections. Implementations are safe for
// reuse across reconnect attempts.
type Transport interface {
	Open(ctx context.Context) (Conn, error)
}
