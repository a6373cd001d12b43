package entitlements

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wolfeidau/tenantd/internal/models"
	"github.com/wolfeidau/tenantd/internal/store"
)

// SourceType distinguishes where an entitlement came from.
type SourceType string

const (
	SourcePersonal     SourceType = "personal"
	SourceOrganization SourceType = "organization"
)

// Source identifies the origin of an entitlement vector. The rate-limiter
// shows SourceLabel on limit-exceeded responses.
type Source struct {
	Type        SourceType `json:"type"`
	SourceID    string     `json:"source_id"`
	SourceLabel string     `json:"source_label"`
	Limits      Vector     `json:"limits"`
}

// EffectiveEntitlements is the resolved entitlement for one request. Sources
// contains exactly the winning source. Computed fresh on every call, never
// cached.
type EffectiveEntitlements struct {
	Vector  Vector   `json:"limits"`
	Sources []Source `json:"sources"`
}

// ResolveRequest carries the caller-supplied user state. Subscription status
// and plan ID describe the personal subscription; organization entitlements
// are read from the local store.
type ResolveRequest struct {
	UserID             uuid.UUID
	Role               string
	IsGuest            bool
	SubscriptionStatus string
	PlanID             string
}

const subscriptionStatusActive = "ACTIVE"

// Resolver computes effective entitlements from the local store only; it
// never calls the external provider and is safe for concurrent use.
type Resolver struct {
	memberships store.MembershipStore
	catalog     *Catalog
}

// NewResolver creates a resolver over the given membership store and catalog.
func NewResolver(memberships store.MembershipStore, catalog *Catalog) *Resolver {
	if catalog == nil {
		catalog = DefaultCatalog
	}
	return &Resolver{
		memberships: memberships,
		catalog:     catalog,
	}
}

// Resolve returns the single strongest entitlement applicable to the user
// with its provenance.
//
// Administrative roles and guests short-circuit to fixed personal vectors
// without touching organization memberships. Everyone else competes their
// personal subscription vector against one vector per contract-bearing
// active organization membership; the winner is chosen by Compare with ties
// broken by ascending source ID so resolution is reproducible.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (*EffectiveEntitlements, error) {
	if req.Role == models.UserRoleAdmin || req.Role == models.UserRoleStaff {
		admin := r.catalog.Admin()
		return single(Source{
			Type:        SourcePersonal,
			SourceID:    "personal-admin",
			SourceLabel: admin.Label,
			Limits:      admin.Vector,
		}), nil
	}

	if req.IsGuest {
		guest := r.catalog.Guest()
		return single(Source{
			Type:        SourcePersonal,
			SourceID:    "personal-subscription",
			SourceLabel: guest.Label,
			Limits:      guest.Vector,
		}), nil
	}

	personal := r.personalPlan(req)

	rows, err := r.memberships.ListEntitlementRows(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships for user %s: %w", req.UserID, err)
	}

	candidates := make([]Source, 0, len(rows)+1)
	for _, row := range rows {
		if row.Contract == nil {
			continue
		}
		resolved := r.catalog.ResolveContract(row.Contract)
		candidates = append(candidates, Source{
			Type:        SourceOrganization,
			SourceID:    row.OrganizationID.String(),
			SourceLabel: fmt.Sprintf("organization:%s:%s", row.OrganizationName, resolved.Effective.Vector.ModelTier),
			Limits:      resolved.Effective.Vector,
		})
	}

	if len(candidates) == 0 {
		src := Source{
			Type:        SourcePersonal,
			SourceID:    "personal-subscription",
			SourceLabel: personal.Label,
			Limits:      personal.Vector,
		}
		// Memberships exist but none carries a contract: same value as the
		// plain personal vector, distinct label for operability.
		if len(rows) > 0 {
			src.SourceID = "personal-fallback"
			src.SourceLabel = personal.Label + " (no organization contract)"
		}
		return single(src), nil
	}

	candidates = append(candidates, Source{
		Type:        SourcePersonal,
		SourceID:    "personal-subscription",
		SourceLabel: personal.Label,
		Limits:      personal.Vector,
	})

	winner := candidates[0]
	for _, c := range candidates[1:] {
		switch Compare(c.Limits, winner.Limits) {
		case 1:
			winner = c
		case 0:
			if c.SourceID < winner.SourceID {
				winner = c
			}
		}
	}

	return single(winner), nil
}

func (r *Resolver) personalPlan(req ResolveRequest) PlanDefaults {
	if req.SubscriptionStatus != subscriptionStatusActive {
		return r.catalog.InactiveFallback()
	}
	if plan, ok := r.catalog.PersonalPlan(req.PlanID); ok {
		return plan
	}
	return r.catalog.ActiveFallback()
}

func single(src Source) *EffectiveEntitlements {
	return &EffectiveEntitlements{
		Vector:  src.Limits,
		Sources: []Source{src},
	}
}
