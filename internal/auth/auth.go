// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

// Package auth issues and verifies the JWTs that gate the event stream and
// the HTTP API.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/driftline/driftline/internal/event"
	"github.com/driftline/driftline/internal/logging"
)

// bcryptCost balances hashing strength against login latency.
const bcryptCost = 12

var (
	// ErrInvalidCredentials covers unknown users and wrong passwords alike,
	// so responses don't leak which usernames exist.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidToken covers expired, malformed, and forged tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// contextKey is private to prevent collisions with other packages.
type contextKey struct{}

var identityKey contextKey

// Identity is the authenticated principal attached to request contexts.
type Identity struct {
	UserID   int64
	Username string
}

// UserStore verifies credentials and yields user identity.
type UserStore interface {
	Authenticate(ctx context.Context, username, password string) (event.UserRef, error)
}

// StaticUsers is an in-memory UserStore with bcrypt-hashed passwords.
type StaticUsers struct {
	mu     sync.RWMutex
	byName map[string]staticUser
	nextID int64
}

type staticUser struct {
	ref  event.UserRef
	hash []byte
}

// NewStaticUsers returns an empty user store.
func NewStaticUsers() *StaticUsers {
	return &StaticUsers{byName: make(map[string]staticUser)}
}

// Add hashes the password and stores the user. Returns the assigned ID.
func (s *StaticUsers) Add(username, displayName, password string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[username]; exists {
		return 0, fmt.Errorf("user %q already exists", username)
	}
	s.nextID++
	s.byName[username] = staticUser{
		ref:  event.UserRef{UserID: s.nextID, Username: username, DisplayName: displayName},
		hash: hash,
	}
	return s.nextID, nil
}

// Authenticate implements UserStore. Timing-safe by way of bcrypt.
func (s *StaticUsers) Authenticate(_ context.Context, username, password string) (event.UserRef, error) {
	s.mu.RLock()
	u, ok := s.byName[username]
	s.mu.RUnlock()
	if !ok {
		// Burn a comparison anyway so unknown users cost the same.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return event.UserRef{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(u.hash, []byte(password)) != nil {
		return event.UserRef{}, ErrInvalidCredentials
	}
	return u.ref, nil
}

// dummyHash equalizes Authenticate timing for unknown usernames.
var dummyHash = func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("driftline-dummy"), bcryptCost)
	return h
}()

// claims is the JWT payload.
type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service signs, verifies, and transports tokens.
type Service struct {
	secret     []byte
	ttl        time.Duration
	cookieName string
	secure     bool
	users      UserStore
}

// NewService creates the auth service. An empty secret gets replaced by a
// random ephemeral one, which invalidates all tokens on restart.
func NewService(secret string, ttl time.Duration, cookieName string, secure bool, users UserStore) *Service {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("auth: generate ephemeral secret: %v", err))
		}
		logging.Warn().Msg("no JWT secret configured, using an ephemeral one; sessions will not survive restart")
	}
	return &Service{
		secret:     key,
		ttl:        ttl,
		cookieName: cookieName,
		secure:     secure,
		users:      users,
	}
}

// Login verifies credentials and returns a signed token plus the user.
func (s *Service) Login(ctx context.Context, username, password string) (string, event.UserRef, error) {
	user, err := s.users.Authenticate(ctx, username, password)
	if err != nil {
		return "", event.UserRef{}, err
	}
	token, err := s.issue(user)
	if err != nil {
		return "", event.UserRef{}, err
	}
	return token, user, nil
}

// issue signs a token for the user.
func (s *Service) issue(user event.UserRef) (string, error) {
	now := time.Now()
	c := claims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", user.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    "driftline",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning the identity it carries.
func (s *Service) Verify(tokenString string) (Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer("driftline"), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	var userID int64
	if _, err := fmt.Sscanf(c.Subject, "%d", &userID); err != nil || userID <= 0 {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: userID, Username: c.Username}, nil
}

// Cookie wraps a token for the browser.
func (s *Service) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Middleware authenticates requests from the auth cookie or a bearer
// token and rejects them with 401 when neither verifies.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.tokenFromRequest(r)
		if token == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		id, err := s.Verify(token)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (s *Service) tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(s.cookieName); err == nil {
		return c.Value
	}
	return ""
}

// WithIdentity attaches an identity to a context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the authenticated identity, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
