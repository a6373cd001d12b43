package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantd/internal/orgs"
	"github.com/wolfeidau/tenantd/internal/store"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// writeServiceError maps service and store errors to HTTP responses.
// Lifecycle failures keep their named code so operators can tell a cleanly
// compensated failure from one needing reconciliation.
func writeServiceError(w http.ResponseWriter, err error) {
	var validation *orgs.ValidationError
	if errors.As(err, &validation) {
		writeError(w, http.StatusBadRequest, "invalid_request", validation.Error())
		return
	}

	var lifecycle *orgs.LifecycleError
	if errors.As(err, &lifecycle) {
		writeError(w, http.StatusInternalServerError, lifecycle.Code, lifecycle.Error())
		return
	}

	switch {
	case errors.Is(err, store.ErrOrganizationNotFound):
		writeError(w, http.StatusNotFound, "organization_not_found", "organization not found")
	case errors.Is(err, store.ErrOrganizationAlreadyExists):
		writeError(w, http.StatusConflict, "organization_already_exists", "organization already exists")
	case errors.Is(err, store.ErrContractNotFound):
		writeError(w, http.StatusNotFound, "contract_not_found", "organization contract not found")
	case errors.Is(err, store.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", "user not found")
	default:
		log.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
