package models

import (
	"time"

	"github.com/google/uuid"
)

// OrganizationStatus represents the lifecycle state of an organization.
type OrganizationStatus string

const (
	OrganizationStatusActive    OrganizationStatus = "ACTIVE"
	OrganizationStatusSuspended OrganizationStatus = "SUSPENDED"
	OrganizationStatusArchived  OrganizationStatus = "ARCHIVED"
)

// BasePlan identifies one of the negotiable contract base plans.
type BasePlan string

const (
	BasePlanBasic     BasePlan = "BASIC"
	BasePlanBasicPlus BasePlan = "BASIC_PLUS"
	BasePlanPro       BasePlan = "PRO"
)

// Organization is the local record for a tenant. ExternalOrgID is the
// identity of the same record in the external identity/billing provider.
//
// Invariant: OwnerUserID and PendingOwnerEmail are never both set. A pending
// owner email means the intended owner has no local account yet.
type Organization struct {
	ID                uuid.UUID // UUIDv7
	ExternalOrgID     string    // unique
	Name              string
	Slug              string // unique
	Status            OrganizationStatus
	OwnerUserID       *uuid.UUID
	PendingOwnerEmail *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrganizationContract holds the negotiated overrides for an organization,
// 1:1 with Organization. Nil override fields fall back to the base plan
// defaults from the catalog, field by field.
//
// Version increments on every contract update. It exists for audit
// traceability, not concurrency control.
type OrganizationContract struct {
	OrganizationID        uuid.UUID
	BasePlan              string // normalized on read, unknown values read as BASIC
	PlanLabel             *string
	ModelTier             *string
	SeatLimit             *int64
	MaxRequestsPerDay     *int64
	MaxInputTokensPerDay  *int64
	MaxOutputTokensPerDay *int64
	MaxCostPerDay         *float64
	MaxContextMessages    *int64
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
