package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/tenantd/internal/models"
	"github.com/wolfeidau/tenantd/internal/orgs"
	"github.com/wolfeidau/tenantd/internal/store"
)

// contractPayload mirrors store.ContractPatch for the wire.
type contractPayload struct {
	BasePlan              *string  `json:"base_plan,omitempty"`
	PlanLabel             *string  `json:"plan_label,omitempty"`
	ModelTier             *string  `json:"model_tier,omitempty"`
	SeatLimit             *int64   `json:"seat_limit,omitempty"`
	MaxRequestsPerDay     *int64   `json:"max_requests_per_day,omitempty"`
	MaxInputTokensPerDay  *int64   `json:"max_input_tokens_per_day,omitempty"`
	MaxOutputTokensPerDay *int64   `json:"max_output_tokens_per_day,omitempty"`
	MaxCostPerDay         *float64 `json:"max_cost_per_day,omitempty"`
	MaxContextMessages    *int64   `json:"max_context_messages,omitempty"`
}

func (c contractPayload) toPatch() store.ContractPatch {
	return store.ContractPatch{
		BasePlan:              c.BasePlan,
		PlanLabel:             c.PlanLabel,
		ModelTier:             c.ModelTier,
		SeatLimit:             c.SeatLimit,
		MaxRequestsPerDay:     c.MaxRequestsPerDay,
		MaxInputTokensPerDay:  c.MaxInputTokensPerDay,
		MaxOutputTokensPerDay: c.MaxOutputTokensPerDay,
		MaxCostPerDay:         c.MaxCostPerDay,
		MaxContextMessages:    c.MaxContextMessages,
	}
}

type organizationResponse struct {
	ID                string     `json:"id"`
	ExternalOrgID     string     `json:"external_org_id"`
	Name              string     `json:"name"`
	Slug              string     `json:"slug"`
	Status            string     `json:"status"`
	OwnerUserID       *uuid.UUID `json:"owner_user_id,omitempty"`
	PendingOwnerEmail *string    `json:"pending_owner_email,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toOrganizationResponse(org *models.Organization) organizationResponse {
	return organizationResponse{
		ID:                org.ID.String(),
		ExternalOrgID:     org.ExternalOrgID,
		Name:              org.Name,
		Slug:              org.Slug,
		Status:            string(org.Status),
		OwnerUserID:       org.OwnerUserID,
		PendingOwnerEmail: org.PendingOwnerEmail,
		CreatedAt:         org.CreatedAt,
		UpdatedAt:         org.UpdatedAt,
	}
}

type createOrganizationRequest struct {
	Name        string          `json:"name"`
	Slug        string          `json:"slug,omitempty"`
	OwnerEmail  string          `json:"owner_email"`
	Contract    contractPayload `json:"contract"`
	ActorUserID string          `json:"actor_user_id"`
}

func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}

	actorID, err := uuid.Parse(req.ActorUserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid actor_user_id")
		return
	}

	org, err := s.lifecycle.Create(r.Context(), orgs.CreateOrganizationRequest{
		Name:            req.Name,
		Slug:            req.Slug,
		OwnerEmail:      req.OwnerEmail,
		Contract:        req.Contract.toPatch(),
		CreatedByUserID: actorID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrganizationResponse(org))
}

func (s *Server) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	org, err := s.orgs.GetOrganization(r.Context(), orgID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := struct {
		organizationResponse
		Contract *contractResponse `json:"contract,omitempty"`
	}{organizationResponse: toOrganizationResponse(org)}

	contract, err := s.orgs.GetContract(r.Context(), orgID)
	if err == nil {
		resp.Contract = toContractResponse(contract)
	}

	writeJSON(w, http.StatusOK, resp)
}

type contractResponse struct {
	BasePlan              string   `json:"base_plan"`
	PlanLabel             *string  `json:"plan_label,omitempty"`
	ModelTier             *string  `json:"model_tier,omitempty"`
	SeatLimit             *int64   `json:"seat_limit,omitempty"`
	MaxRequestsPerDay     *int64   `json:"max_requests_per_day,omitempty"`
	MaxInputTokensPerDay  *int64   `json:"max_input_tokens_per_day,omitempty"`
	MaxOutputTokensPerDay *int64   `json:"max_output_tokens_per_day,omitempty"`
	MaxCostPerDay         *float64 `json:"max_cost_per_day,omitempty"`
	MaxContextMessages    *int64   `json:"max_context_messages,omitempty"`
	Version               int64    `json:"version"`
}

func toContractResponse(c *models.OrganizationContract) *contractResponse {
	return &contractResponse{
		BasePlan:              c.BasePlan,
		PlanLabel:             c.PlanLabel,
		ModelTier:             c.ModelTier,
		SeatLimit:             c.SeatLimit,
		MaxRequestsPerDay:     c.MaxRequestsPerDay,
		MaxInputTokensPerDay:  c.MaxInputTokensPerDay,
		MaxOutputTokensPerDay: c.MaxOutputTokensPerDay,
		MaxCostPerDay:         c.MaxCostPerDay,
		MaxContextMessages:    c.MaxContextMessages,
		Version:               c.Version,
	}
}

type updateOrganizationRequest struct {
	Name        *string          `json:"name,omitempty"`
	Slug        *string          `json:"slug,omitempty"`
	Status      *string          `json:"status,omitempty"`
	OwnerEmail  *string          `json:"owner_email,omitempty"`
	Contract    *contractPayload `json:"contract,omitempty"`
	ActorUserID string           `json:"actor_user_id"`
}

func (s *Server) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateOrganizationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}

	update := orgs.UpdateOrganizationRequest{
		Name:       req.Name,
		Slug:       req.Slug,
		OwnerEmail: req.OwnerEmail,
	}
	if req.Status != nil {
		status, ok := parseOrganizationStatus(*req.Status)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid status")
			return
		}
		update.Status = &status
	}
	if req.Contract != nil {
		patch := req.Contract.toPatch()
		update.Contract = &patch
	}
	if req.ActorUserID != "" {
		actorID, err := uuid.Parse(req.ActorUserID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid actor_user_id")
			return
		}
		update.ActorUserID = &actorID
	}

	org, err := s.lifecycle.Update(r.Context(), orgID, update)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrganizationResponse(org))
}

func (s *Server) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var actor *uuid.UUID
	if v := r.URL.Query().Get("actor_user_id"); v != "" {
		actorID, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid actor_user_id")
			return
		}
		actor = &actorID
	}

	if err := s.lifecycle.Delete(r.Context(), orgID, actor); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type auditEntryResponse struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	ActorUserID    *uuid.UUID      `json:"actor_user_id,omitempty"`
	ActorType      string          `json:"actor_type"`
	Action         string          `json:"action"`
	Before         json.RawMessage `json:"before,omitempty"`
	After          json.RawMessage `json:"after,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}

	entries, err := s.audit.ListAuditEntries(r.Context(), orgID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, auditEntryResponse{
			ID:             e.ID.String(),
			OrganizationID: e.OrganizationID.String(),
			ActorUserID:    e.ActorUserID,
			ActorType:      string(e.ActorType),
			Action:         string(e.Action),
			Before:         e.Before,
			After:          e.After,
			Metadata:       e.Metadata,
			CreatedAt:      e.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": resp})
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func parseOrganizationStatus(s string) (models.OrganizationStatus, bool) {
	switch models.OrganizationStatus(s) {
	case models.OrganizationStatusActive, models.OrganizationStatusSuspended, models.OrganizationStatusArchived:
		return models.OrganizationStatus(s), true
	default:
		return "", false
	}
}
