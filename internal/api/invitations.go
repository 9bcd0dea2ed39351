package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openhearth/smarthome-core/internal/audit"
	"github.com/openhearth/smarthome-core/internal/auth"
	"github.com/openhearth/smarthome-core/internal/household"
)

// createInvitationRequest is the request body for POST /households/{id}/invitations.
type createInvitationRequest struct {
	Email string `json:"email"`
}

// acceptInvitationRequest is the request body for POST /invitations/accept.
type acceptInvitationRequest struct {
	Token string `json:"token"`
}

// handleCreateInvitation invites an email address into a household.
// Only the household owner (or an admin) may invite. The invitee does not
// need an account yet; the returned token is their credential to join.
func (s *Server) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(r)
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	householdID := chi.URLParam(r, "id")

	var req createInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !auth.IsValidEmail(email) {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "invalid email address")
		return
	}

	h, err := s.households.GetByID(r.Context(), householdID)
	if err != nil {
		if errors.Is(err, household.ErrNotFound) {
			writeNotFound(w, "household not found")
			return
		}
		writeInternalError(w, "failed to load household")
		return
	}
	if h.OwnerID != claims.Subject && claims.Role != auth.RoleAdmin {
		writeForbidden(w, "only the household owner can invite members")
		return
	}

	// If the invitee already has an account and is already a member,
	// there is nothing to invite them to.
	if existing, err := s.users.GetByEmail(r.Context(), email); err == nil {
		member, err := s.households.IsMember(r.Context(), householdID, existing.ID)
		if err != nil {
			writeInternalError(w, "failed to check membership")
			return
		}
		if member {
			writeConflict(w, "user is already a member of this household")
			return
		}
	} else if !errors.Is(err, auth.ErrUserNotFound) {
		writeInternalError(w, "failed to look up invitee")
		return
	}

	inv := &household.Invitation{
		HouseholdID:  householdID,
		InviterID:    claims.Subject,
		InviteeEmail: email,
	}
	if err := s.invites.Create(r.Context(), inv); err != nil {
		if errors.Is(err, household.ErrInviteExists) {
			writeConflict(w, "a pending invitation already exists for this email")
			return
		}
		writeInternalError(w, "failed to create invitation")
		return
	}

	s.recordAudit(r.Context(), &audit.Entry{
		HouseholdID: householdID,
		Action:      audit.ActionInvite,
		EntityType:  audit.EntityInvitation,
		EntityID:    inv.ID,
		UserID:      claims.Subject,
		Details:     map[string]any{"invitee_email": email},
	})

	// The token is returned to the inviter, who passes it to the invitee
	// out of band. There is no mailer in the loop.
	writeJSON(w, http.StatusCreated, inv)
}

// handleListInvitations returns pending invitations for a household.
// Tokens are never included in listings.
func (s *Server) handleListInvitations(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(r)
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	householdID := chi.URLParam(r, "id")

	member, err := s.canAccessHousehold(r.Context(), claims, householdID)
	if err != nil {
		writeInternalError(w, "failed to check membership")
		return
	}
	if !member {
		writeForbidden(w, "not a member of this household")
		return
	}

	invitations, err := s.invites.ListByHousehold(r.Context(), householdID)
	if err != nil {
		writeInternalError(w, "failed to list invitations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"invitations": invitations, "count": len(invitations)})
}

// handleAcceptInvitation redeems an invitation token and joins the caller
// to the household. The token is single-use: it is consumed even when the
// accept fails afterwards. The caller's account email must match the
// invitee email.
func (s *Server) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(r)
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	var req acceptInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Token == "" {
		writeBadRequest(w, "token is required")
		return
	}

	inv, err := s.invites.Consume(r.Context(), req.Token)
	if err != nil {
		switch {
		case errors.Is(err, household.ErrInviteNotFound):
			writeNotFound(w, "invitation not found")
		case errors.Is(err, household.ErrInviteExpired):
			writeGone(w, "invitation has expired")
		default:
			writeInternalError(w, "failed to redeem invitation")
		}
		return
	}

	user, err := s.users.GetByID(r.Context(), claims.Subject)
	if err != nil {
		writeInternalError(w, "failed to load user")
		return
	}
	if !strings.EqualFold(user.Email, inv.InviteeEmail) {
		writeForbidden(w, "invitation was issued to a different email address")
		return
	}

	if err := s.households.AddMember(r.Context(), inv.HouseholdID, user.ID, household.MemberRoleMember); err != nil {
		if errors.Is(err, household.ErrMemberExists) {
			writeConflict(w, "already a member of this household")
			return
		}
		writeInternalError(w, "failed to add member")
		return
	}

	s.recordAudit(r.Context(), &audit.Entry{
		HouseholdID: inv.HouseholdID,
		Action:      audit.ActionJoin,
		EntityType:  audit.EntityHousehold,
		EntityID:    inv.HouseholdID,
		UserID:      user.ID,
		Details:     map[string]any{"invitation_id": inv.ID},
	})

	h, err := s.households.GetByID(r.Context(), inv.HouseholdID)
	if err != nil {
		writeInternalError(w, "failed to load household")
		return
	}

	writeJSON(w, http.StatusOK, h)
}

// handleListAudit returns the household's audit trail, newest first.
// Filters and pagination come from query parameters.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(r)
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	if s.auditor == nil {
		writeNotFound(w, "audit trail is not enabled")
		return
	}

	householdID := chi.URLParam(r, "id")

	member, err := s.canAccessHousehold(r.Context(), claims, householdID)
	if err != nil {
		writeInternalError(w, "failed to check membership")
		return
	}
	if !member {
		writeForbidden(w, "not a member of this household")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		HouseholdID: householdID,
		Action:      q.Get("action"),
		EntityType:  q.Get("entity_type"),
		EntityID:    q.Get("entity_id"),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))   //nolint:errcheck // zero means default
	filter.Offset, _ = strconv.Atoi(q.Get("offset")) //nolint:errcheck // zero means first page

	result, err := s.auditor.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
