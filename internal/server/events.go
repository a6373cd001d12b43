package server

import (
	"net/http"

	"github.com/wolfeidau/tenantd/internal/orgs"
)

// organizationEventRequest is a provider webhook payload about an
// organization profile.
type organizationEventRequest struct {
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name,omitempty"`
	Slug           string `json:"slug,omitempty"`
}

func (s *Server) handleOrganizationEvent(w http.ResponseWriter, r *http.Request) {
	var req organizationEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}
	if req.OrganizationID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "organization_id is required")
		return
	}

	org, err := s.sync.SyncOrganization(r.Context(), orgs.OrganizationEvent{
		ExternalOrgID: req.OrganizationID,
		Name:          req.Name,
		Slug:          req.Slug,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Events for organizations this system never created are acknowledged
	// and ignored so the provider does not redeliver them forever.
	if org == nil {
		writeJSON(w, http.StatusOK, map[string]any{"synced": false, "outcome": "organization_not_found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"synced": true, "outcome": "synced"})
}

// membershipEventRequest is a provider webhook payload about a membership.
type membershipEventRequest struct {
	OrganizationID string `json:"organization_id"`
	MembershipID   string `json:"membership_id"`
	UserID         string `json:"user_id"`
	Role           string `json:"role,omitempty"`
	Status         string `json:"status,omitempty"`
}

func (s *Server) handleMembershipEvent(w http.ResponseWriter, r *http.Request) {
	var req membershipEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}

	result, err := s.sync.SyncMembership(r.Context(), orgs.MembershipEvent{
		ExternalOrgID:        req.OrganizationID,
		ExternalMembershipID: req.MembershipID,
		ExternalUserID:       req.UserID,
		Role:                 req.Role,
		Status:               req.Status,
	})
	if err != nil {
		if result != nil && result.Outcome == orgs.SyncOutcomeRetriesExhausted {
			// 5xx so the provider redelivers once contention clears.
			writeError(w, http.StatusServiceUnavailable, string(result.Outcome), err.Error())
			return
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"synced":  result.Synced,
		"outcome": string(result.Outcome),
	})
}
