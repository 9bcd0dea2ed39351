package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/openhearth/smarthome-core/internal/auth"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login and /auth/refresh.
type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// refreshRequest is the request body for POST /auth/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ticketEntry carries the identity a WebSocket connection will assume.
// Household ids are resolved when the ticket is issued; the connection's
// group set is fixed from this snapshot.
type ticketEntry struct {
	userID       string
	householdIDs []string
	expiresAt    time.Time
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// issue stores a new single-use ticket and returns its token.
func (ts *ticketStore) issue(entry ticketEntry) string {
	ticket := generateTicket()
	entry.expiresAt = time.Now().Add(ticketTTL)

	ts.mu.Lock()
	ts.tickets[ticket] = entry
	ts.mu.Unlock()

	return ticket
}

// consume validates a ticket and removes it (single-use).
func (ts *ticketStore) consume(ticket string) (ticketEntry, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}

	delete(ts.tickets, ticket)

	if time.Now().After(entry.expiresAt) {
		return ticketEntry{}, false
	}
	return entry, true
}

// clean removes expired tickets from the store.
func (ts *ticketStore) clean() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	for ticket, entry := range ts.tickets {
		if now.After(entry.expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

// cleanLoop runs clean periodically until the context is cancelled.
func (ts *ticketStore) cleanLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ts.clean()
		}
	}
}

// handleLogin authenticates a user by email and password and returns a JWT.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	user, err := s.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			// Same response as a bad password: don't leak which emails exist.
			writeUnauthorized(w, "invalid credentials")
			return
		}
		writeInternalError(w, "failed to load user")
		return
	}

	ok, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		writeUnauthorized(w, "invalid credentials")
		return
	}

	resp, err := s.issueTokenPair(r.Context(), user)
	if err != nil {
		writeInternalError(w, "failed to generate tokens")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// issueTokenPair mints an access token and a stored refresh token for a user.
func (s *Server) issueTokenPair(ctx context.Context, user *auth.User) (*loginResponse, error) {
	ttl := s.secCfg.JWT.AccessTokenTTL
	if ttl == 0 {
		ttl = 15 // default 15 minutes
	}

	token, err := auth.GenerateAccessToken(user, s.secCfg.JWT.Secret, ttl)
	if err != nil {
		return nil, fmt.Errorf("generating access token: %w", err)
	}

	refreshDays := s.secCfg.JWT.RefreshTokenTTL
	if refreshDays == 0 {
		refreshDays = 7 // default 7 days
	}
	refresh, err := s.refresh.Issue(ctx, user.ID, time.Duration(refreshDays)*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("issuing refresh token: %w", err)
	}

	return &loginResponse{
		AccessToken:  token,
		RefreshToken: refresh.Token,
		TokenType:    "Bearer",
		ExpiresIn:    ttl * 60, // seconds
	}, nil
}

// handleRefresh rotates a refresh token: the presented token is consumed
// and a fresh access/refresh pair is issued. A stolen-then-replayed token
// therefore dies on its second use.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	rt, err := s.refresh.Consume(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenInvalid) || errors.Is(err, auth.ErrTokenExpired) {
			writeUnauthorized(w, "invalid or expired refresh token")
			return
		}
		writeInternalError(w, "failed to validate refresh token")
		return
	}

	user, err := s.users.GetByID(r.Context(), rt.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeUnauthorized(w, "invalid or expired refresh token")
			return
		}
		writeInternalError(w, "failed to load user")
		return
	}

	resp, err := s.issueTokenPair(r.Context(), user)
	if err != nil {
		writeInternalError(w, "failed to generate tokens")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleLogout revokes all of the caller's refresh tokens. The current
// access token stays valid until it expires; only re-authentication via
// refresh is cut off.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(r)
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	if err := s.refresh.RevokeUser(r.Context(), claims.Subject); err != nil {
		writeInternalError(w, "failed to revoke refresh tokens")
		return
	}

	writeJSON(w, http.StatusNoContent, nil)
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the JWT in the URL. The caller's household memberships
// are resolved here and frozen into the ticket.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(r)
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	households, err := s.households.ListByMember(r.Context(), claims.Subject)
	if err != nil {
		writeInternalError(w, "failed to resolve household memberships")
		return
	}

	ids := make([]string, 0, len(households))
	for _, h := range households {
		ids = append(ids, h.ID)
	}

	ticket := s.tickets.issue(ticketEntry{
		userID:       claims.Subject,
		householdIDs: ids,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}
