// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package transport

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/driftline/driftline/internal/event"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/internal/metrics"
	"github.com/driftline/driftline/internal/registry"
)

// InboundHandler processes a client-to-server frame from a WebSocket
// session. A malformed frame never reaches the handler.
type InboundHandler func(ctx context.Context, userID int64, frame event.Frame)

// WSSession bridges one upgraded WebSocket connection to a registered
// subscriber. The read pump consumes client frames; the write pump drains
// the subscriber's send channel until the registry closes it.
type WSSession struct {
	reg     *registry.Registry
	sub     *registry.Subscriber
	conn    *websocket.Conn
	handler InboundHandler

	// control carries session-generated frames (pong replies) so the write
	// pump stays the only writer on the connection.
	control chan []byte
}

// NewWSSession wraps an upgraded connection. The subscriber must already be
// registered; the session unregisters it when the connection ends.
func NewWSSession(reg *registry.Registry, sub *registry.Subscriber, conn *websocket.Conn, handler InboundHandler) *WSSession {
	return &WSSession{
		reg:     reg,
		sub:     sub,
		conn:    conn,
		handler: handler,
		control: make(chan []byte, 8),
	}
}

// Start launches the read and write pumps and returns immediately.
func (s *WSSession) Start(ctx context.Context) {
	go s.writePump()
	go s.readPump(ctx)
}

func (s *WSSession) readPump(ctx context.Context) {
	defer func() {
		s.reg.Unregister(s.sub)
		_ = s.conn.Close()
		logging.Info().
			Uint64("connection_id", s.sub.ID()).
			Int64("user_id", s.sub.UserID()).
			Dur("session_age", time.Since(s.sub.OpenSince())).
			Time("last_activity", s.sub.LastActivity()).
			Msg("websocket session closed")
	}()

	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	s.conn.SetPongHandler(func(string) error {
		s.sub.Touch()
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				metrics.TransportErrors.WithLabelValues("websocket", "read").Inc()
				logging.Warn().Err(err).
					Uint64("connection_id", s.sub.ID()).
					Msg("unexpected websocket close")
			}
			return
		}
		s.sub.Touch()
		metrics.FramesReceived.WithLabelValues("websocket").Inc()

		var frame event.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			// One bad frame is dropped; the connection stays up.
			metrics.TransportErrors.WithLabelValues("websocket", "malformed").Inc()
			logging.Warn().Err(err).
				Uint64("connection_id", s.sub.ID()).
				Msg("dropping malformed inbound frame")
			continue
		}

		switch frame.Type {
		case event.FrameTypePing:
			pong, _ := json.Marshal(event.Frame{Type: event.FrameTypePong})
			select {
			case s.control <- pong:
			default:
			}
		case event.FrameTypePong:
			// Liveness only, already touched above.
		default:
			if s.handler != nil {
				s.handler(ctx, s.sub.UserID(), frame)
			}
		}
	}
}

func (s *WSSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.sub.Send():
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// Registry closed the subscriber.
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server closing"))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				metrics.TransportErrors.WithLabelValues("websocket", "write").Inc()
				return
			}
			metrics.FramesSent.WithLabelValues("websocket").Inc()

		case frame := <-s.control:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				metrics.TransportErrors.WithLabelValues("websocket", "write").Inc()
				return
			}
			metrics.FramesSent.WithLabelValues("websocket").Inc()

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
