// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/driftline/driftline/internal/auth"
	"github.com/driftline/driftline/internal/event"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/internal/store"
	"github.com/driftline/driftline/internal/transport"
)

// Login authenticates a user and sets the session cookie. The token is also
// returned in the body for non-browser clients.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username" validate:"required,max=64"`
		Password string `json:"password" validate:"required,max=128"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}

	token, user, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "LOGIN_FAILED", "login failed", err)
		return
	}

	http.SetCookie(w, h.auth.Cookie(token))
	respondJSON(w, http.StatusOK, &apiResponse{
		Status: "ok",
		Data: map[string]any{
			"token": token,
			"user":  user,
		},
	})
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &apiResponse{Status: "ok"})
}

// HealthReady reports readiness plus a few cheap gauges.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &apiResponse{
		Status: "ok",
		Data: map[string]any{
			"uptime_seconds": int64(time.Since(h.started).Seconds()),
			"subscribers":    h.reg.Len(),
			"users_online":   len(h.reg.OnlineUsers()),
			"queue_depth":    h.events.QueueDepth(),
		},
	})
}

// WebSocket upgrades the connection and attaches it to the registry. The
// session outlives the request handler, so it runs on a background context.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	sub, err := h.reg.Register(id.UserID)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", err)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its error response.
		h.reg.Unregister(sub)
		logging.Warn().Err(err).Int64("user_id", id.UserID).Msg("websocket upgrade failed")
		return
	}

	logging.Info().
		Int64("user_id", id.UserID).
		Uint64("connection_id", sub.ID()).
		Msg("websocket connected")

	session := transport.NewWSSession(h.reg, sub, conn, h.inbound)
	session.Start(context.Background())
}

// checkOrigin mirrors the CORS allow-list for WebSocket upgrades. Requests
// without an Origin header (non-browser clients) are allowed.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Events serves the SSE event stream. It blocks until the client hangs up
// or the registry closes the subscriber.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	sub, err := h.reg.Register(id.UserID)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", err)
		return
	}
	defer func() {
		h.reg.Unregister(sub)
		logging.Info().
			Int64("user_id", id.UserID).
			Uint64("connection_id", sub.ID()).
			Dur("session_age", time.Since(sub.OpenSince())).
			Time("last_activity", sub.LastActivity()).
			Msg("sse stream closed")
	}()

	logging.Info().
		Int64("user_id", id.UserID).
		Uint64("connection_id", sub.ID()).
		Msg("sse stream opened")

	if err := transport.ServeSSE(r.Context(), w, sub); err != nil {
		logging.Warn().Err(err).Uint64("connection_id", sub.ID()).Msg("sse stream failed")
	}
}

// PostMessage publishes a message event. Driftline is not the system of
// record for messages; this endpoint only feeds the live stream.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req struct {
		ConversationID int64  `json:"conversationId" validate:"required,min=1"`
		PeerID         int64  `json:"peerId" validate:"omitempty,min=1"`
		Body           string `json:"body" validate:"required,max=4096"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}

	payload := event.MessagePayload{
		MessageID:      h.messageSeq.Add(1),
		ConversationID: req.ConversationID,
		Author:         h.lookupUser(r.Context(), id.UserID),
		Body:           req.Body,
		CreatedAt:      time.Now().UTC(),
	}
	scope := conversationScope(id.UserID, req.ConversationID, req.PeerID)
	e, err := event.New(event.KindMessage, scope, payload)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "PUBLISH_FAILED", "failed to publish message", err)
		return
	}
	if err := h.bus.Publish(e); err != nil {
		respondError(w, http.StatusInternalServerError, "PUBLISH_FAILED", "failed to publish message", err)
		return
	}

	respondJSON(w, http.StatusAccepted, &apiResponse{
		Status: "accepted",
		Data:   map[string]any{"message_id": payload.MessageID},
	})
}

// ToggleReaction toggles one emoji on one message. The response carries no
// reaction state; clients observe the change through the event stream.
func (h *Handler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	messageID, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil || messageID <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_MESSAGE_ID", "message ID must be a positive integer", nil)
		return
	}

	var req struct {
		Emoji          string `json:"emoji" validate:"required,max=64"`
		ConversationID int64  `json:"conversationId" validate:"required,min=1"`
		PeerID         int64  `json:"peerId" validate:"omitempty,min=1"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}

	scope := conversationScope(id.UserID, req.ConversationID, req.PeerID)
	if err := h.toggleReaction(r.Context(), id.UserID, messageID, req.Emoji, scope); err != nil {
		if errors.Is(err, store.ErrInvalidToggle) {
			respondError(w, http.StatusBadRequest, "INVALID_TOGGLE", err.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "TOGGLE_FAILED", "failed to toggle reaction", err)
		return
	}

	respondJSON(w, http.StatusAccepted, &apiResponse{Status: "accepted"})
}

// toggleReaction is the shared path behind the HTTP endpoint and the
// WebSocket request frame: persist the toggle, then push the fresh snapshot
// through the bus.
func (h *Handler) toggleReaction(ctx context.Context, userID, messageID int64, emoji string, scope event.Scope) error {
	snap, err := h.reactions.Toggle(ctx, messageID, emoji, userID)
	if err != nil {
		return err
	}
	e, err := event.New(event.KindReactionUpdate, scope, snap)
	if err != nil {
		return err
	}
	if err := h.bus.Publish(e); err != nil {
		return err
	}
	return nil
}

// Typing publishes a typing notice for the authenticated user.
func (h *Handler) Typing(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req struct {
		ConversationID int64 `json:"conversationId" validate:"required,min=1"`
		PeerID         int64 `json:"peerId" validate:"omitempty,min=1"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}

	user := h.lookupUser(r.Context(), id.UserID)
	scope := conversationScope(id.UserID, req.ConversationID, req.PeerID)
	if err := h.tracker.Typing(r.Context(), user, req.ConversationID, scope); err != nil {
		respondError(w, http.StatusInternalServerError, "TYPING_FAILED", "failed to publish typing notice", err)
		return
	}

	respondJSON(w, http.StatusAccepted, &apiResponse{Status: "accepted"})
}

// PresenceStatus sets the user's chosen status. Offline cannot be chosen;
// it is derived from connection state.
func (h *Handler) PresenceStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status" validate:"required,oneof=online busy"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.tracker.SetStatus(r.Context(), id.UserID, event.PresenceStatus(req.Status)); err != nil {
		respondError(w, http.StatusConflict, "PRESENCE_REJECTED", err.Error(), nil)
		return
	}

	respondJSON(w, http.StatusOK, &apiResponse{
		Status: "ok",
		Data:   map[string]any{"status": req.Status},
	})
}

// inbound handles client-to-server WebSocket frames. Bad frames are logged
// and dropped without touching the connection.
func (h *Handler) inbound(ctx context.Context, userID int64, frame event.Frame) {
	switch frame.Type {
	case event.FrameTypeReactionToggle:
		var req event.ReactionToggleRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			logging.Warn().Err(err).Int64("user_id", userID).Msg("dropping malformed reaction toggle frame")
			return
		}
		scope := conversationScope(userID, req.ConversationID, req.PeerID)
		if err := h.toggleReaction(ctx, userID, req.MessageID, req.Emoji, scope); err != nil {
			logging.Warn().Err(err).Int64("user_id", userID).Int64("message_id", req.MessageID).Msg("reaction toggle failed")
		}

	case event.FrameTypeTyping:
		var req event.TypingRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			logging.Warn().Err(err).Int64("user_id", userID).Msg("dropping malformed typing frame")
			return
		}
		user := h.lookupUser(ctx, userID)
		scope := conversationScope(userID, req.ConversationID, req.PeerID)
		if err := h.tracker.Typing(ctx, user, req.ConversationID, scope); err != nil {
			logging.Warn().Err(err).Int64("user_id", userID).Msg("typing notice failed")
		}

	default:
		logging.Debug().Str("type", frame.Type).Int64("user_id", userID).Msg("ignoring unknown inbound frame type")
	}
}
