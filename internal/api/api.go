// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

// Package api exposes the HTTP surface: login, the WebSocket and SSE event
// streams, and the mutation endpoints that feed the event bus.
package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/driftline/driftline/internal/auth"
	"github.com/driftline/driftline/internal/event"
	"github.com/driftline/driftline/internal/hub"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/internal/presence"
	"github.com/driftline/driftline/internal/registry"
	"github.com/driftline/driftline/internal/store"
)

var validate = validator.New()

// Handler owns the HTTP handlers and their collaborators.
type Handler struct {
	auth      *auth.Service
	reg       *registry.Registry
	events    *hub.Hub
	bus       *hub.Bus
	reactions *store.ReactionStore
	tracker   *presence.Tracker
	dir       registry.Directory

	origins []string
	started time.Time

	// messageSeq hands out message IDs for the publish-only message
	// endpoint. Seeded with wall-clock nanos so IDs survive restarts
	// without a counter store.
	messageSeq atomic.Int64
}

// NewHandler wires the handler set. origins is the allow-list checked on
// WebSocket upgrades; it mirrors the CORS configuration.
func NewHandler(authSvc *auth.Service, reg *registry.Registry, events *hub.Hub, bus *hub.Bus, reactions *store.ReactionStore, tracker *presence.Tracker, dir registry.Directory, origins []string) *Handler {
	h := &Handler{
		auth:      authSvc,
		reg:       reg,
		events:    events,
		bus:       bus,
		reactions: reactions,
		tracker:   tracker,
		dir:       dir,
		origins:   origins,
		started:   time.Now(),
	}
	h.messageSeq.Store(time.Now().UnixNano())
	return h
}

// apiResponse is the envelope every JSON endpoint returns.
type apiResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondJSON sends a JSON response with proper headers.
func respondJSON(w http.ResponseWriter, status int, resp *apiResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(resp)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", code).Err(err).Msg("api error")
	}
	respondJSON(w, status, &apiResponse{
		Status: "error",
		Error:  &apiError{Code: code, Message: message},
	})
}

// decodeRequest parses and validates a JSON request body. It writes the 400
// response itself and reports whether the caller should continue.
func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body", err)
		return false
	}
	if err := validate.Struct(v); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return false
	}
	return true
}

// identity pulls the authenticated identity set by the auth middleware. A
// missing identity means the route was mounted without it; treat as 401.
func identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", nil)
	}
	return id, ok
}

// conversationScope maps a request's conversation reference onto an event
// scope: a peer means a direct conversation, otherwise a channel.
func conversationScope(self, conversationID, peerID int64) event.Scope {
	if peerID > 0 {
		return event.DirectScope(self, peerID)
	}
	return event.ChannelScope(conversationID)
}

// lookupUser resolves a user reference, degrading to a bare ID when the
// directory cannot answer.
func (h *Handler) lookupUser(ctx context.Context, userID int64) event.UserRef {
	user, err := h.dir.Lookup(ctx, userID)
	if err != nil {
		logging.Warn().Err(err).Int64("user_id", userID).Msg("directory lookup failed, using bare user ref")
		return event.UserRef{UserID: userID}
	}
	return user
}
