// Package server exposes the JSON HTTP API: entitlement resolution, the
// admin organization endpoints and the provider webhook endpoints.
package server

import (
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/tenantd/internal/entitlements"
	httpmiddleware "github.com/wolfeidau/tenantd/internal/http"
	"github.com/wolfeidau/tenantd/internal/logger"
	"github.com/wolfeidau/tenantd/internal/orgs"
	"github.com/wolfeidau/tenantd/internal/store"
)

// Server holds the services behind the HTTP API.
type Server struct {
	resolver  *entitlements.Resolver
	lifecycle *orgs.LifecycleService
	sync      *orgs.MembershipSyncService
	orgs      store.OrganizationStore
	audit     store.AuditStore
}

// New creates a server over the given services and stores.
func New(resolver *entitlements.Resolver, lifecycle *orgs.LifecycleService, sync *orgs.MembershipSyncService, orgStore store.OrganizationStore, auditStore store.AuditStore) *Server {
	return &Server{
		resolver:  resolver,
		lifecycle: lifecycle,
		sync:      sync,
		orgs:      orgStore,
		audit:     auditStore,
	}
}

// Handler returns the routed HTTP handler with request logging and CORS.
func (s *Server) Handler(log zerolog.Logger, corsOrigins []string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /v1/entitlements/resolve", s.handleResolve)

	mux.HandleFunc("POST /v1/admin/organizations", s.handleCreateOrganization)
	mux.HandleFunc("GET /v1/admin/organizations/{id}", s.handleGetOrganization)
	mux.HandleFunc("PATCH /v1/admin/organizations/{id}", s.handleUpdateOrganization)
	mux.HandleFunc("DELETE /v1/admin/organizations/{id}", s.handleDeleteOrganization)
	mux.HandleFunc("GET /v1/admin/organizations/{id}/audit", s.handleListAudit)

	mux.HandleFunc("POST /v1/provider/events/organization", s.handleOrganizationEvent)
	mux.HandleFunc("POST /v1/provider/events/membership", s.handleMembershipEvent)

	handler := withCORS(corsOrigins, mux)
	// Client IP first so the request logger can pick it up from context.
	return httpmiddleware.ClientIPMiddleware()(logger.Requests(log, handler))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withCORS adds CORS support for browser-based admin tooling.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return middleware.Handler(h)
}
