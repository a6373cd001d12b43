package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/tenantd/internal/entitlements"
	"github.com/wolfeidau/tenantd/internal/telemetry"
)

type resolveRequest struct {
	UserID             string `json:"user_id"`
	Role               string `json:"role,omitempty"`
	IsGuest            bool   `json:"is_guest,omitempty"`
	SubscriptionStatus string `json:"subscription_status,omitempty"`
	PlanID             string `json:"plan_id,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil && !req.IsGuest {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid user_id")
		return
	}

	started := time.Now()

	result, err := s.resolver.Resolve(r.Context(), entitlements.ResolveRequest{
		UserID:             userID,
		Role:               req.Role,
		IsGuest:            req.IsGuest,
		SubscriptionStatus: req.SubscriptionStatus,
		PlanID:             req.PlanID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	metrics := telemetry.GetMetrics()
	metrics.ResolveTotal.Add(r.Context(), 1, telemetry.WithSource(string(result.Sources[0].Type)))
	metrics.ResolveDuration.Record(r.Context(), float64(time.Since(started).Milliseconds()))

	writeJSON(w, http.StatusOK, result)
}
