// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package transport

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/internal/metrics"
	"github.com/driftline/driftline/internal/registry"
)

// ServeSSE streams a subscriber's frames to w as server-sent events until
// the client goes away or the registry closes the subscriber. It blocks for
// the lifetime of the stream and leaves unregistration to the caller's
// defer, so HTTP handler and session teardown stay in one place.
func ServeSSE(ctx context.Context, w http.ResponseWriter, sub *registry.Subscriber) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("sse: response writer is not flushable")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	logging.Debug().
		Uint64("connection_id", sub.ID()).
		Int64("user_id", sub.UserID()).
		Msg("sse stream opened")

	for {
		select {
		case <-ctx.Done():
			return nil

		case frame, ok := <-sub.Send():
			if !ok {
				return nil
			}
			var buf bytes.Buffer
			if name := eventName(frame); name != "" {
				fmt.Fprintf(&buf, "event: %s\n", name)
			}
			fmt.Fprintf(&buf, "data: %s\n\n", frame)
			if _, err := w.Write(buf.Bytes()); err != nil {
				metrics.TransportErrors.WithLabelValues("sse", "write").Inc()
				return fmt.Errorf("sse: write frame: %w", err)
			}
			flusher.Flush()
			sub.Touch()
			metrics.FramesSent.WithLabelValues("sse").Inc()

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				metrics.TransportErrors.WithLabelValues("sse", "write").Inc()
				return fmt.Errorf("sse: write heartbeat: %w", err)
			}
			flusher.Flush()
		}
	}
}

// eventName pulls the frame's kind for the SSE event field. A frame that
// does not parse still ships as a plain data-only event.
func eventName(frame []byte) string {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return ""
	}
	return env.Type
}
