package models

import (
	"time"

	"github.com/google/uuid"
)

// MembershipRole represents a member's role within an organization.
type MembershipRole string

const (
	MembershipRoleOwner  MembershipRole = "OWNER"
	MembershipRoleMember MembershipRole = "MEMBER"
)

// MembershipStatus represents the state of a membership row.
type MembershipStatus string

const (
	MembershipStatusActive  MembershipStatus = "ACTIVE"
	MembershipStatusRemoved MembershipStatus = "REMOVED"
	MembershipStatusBlocked MembershipStatus = "BLOCKED"
)

// OrganizationMembership links a local user to an organization.
// ExternalMembershipID is the provider's identifier for the same membership
// and is the idempotency key for provider-originated sync events.
//
// Invariants: at most one row per (OrganizationID, UserID); at most one
// ACTIVE row with role OWNER per organization at any instant.
type OrganizationMembership struct {
	ID                   uuid.UUID // UUIDv7
	OrganizationID       uuid.UUID
	UserID               uuid.UUID
	ExternalMembershipID string // unique
	Role                 MembershipRole
	Status               MembershipStatus
	JoinedAt             *time.Time
	LeftAt               *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
