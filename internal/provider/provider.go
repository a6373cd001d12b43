// Package provider defines the interface to the external identity/billing
// provider. The provider owns organization, user and membership records on
// its side and cannot participate in local transactions; lifecycle sagas and
// membership sync order their calls around that constraint.
package provider

import (
	"context"
	"errors"
)

// Sentinel errors returned by provider implementations.
var (
	ErrNotFound = errors.New("provider: record not found")
)

// Role is a membership role as understood by the provider.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleMember Role = "MEMBER"
)

// Organization is a provider-side organization record.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// User is a provider-side user record.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// OrganizationPatch carries partial organization profile updates.
// Nil fields are left untouched.
type OrganizationPatch struct {
	Name   *string `json:"name,omitempty"`
	Slug   *string `json:"slug,omitempty"`
	Status *string `json:"status,omitempty"`
}

// OrganizationPage is one page from ListOrganizations.
type OrganizationPage struct {
	Organizations []Organization `json:"organizations"`
	NextOffset    int            `json:"next_offset"`
	HasMore       bool           `json:"has_more"`
}

// Provider is the remote identity/billing service. Every call can fail
// independently of the local store.
type Provider interface {
	// CreateOrganization creates the organization on the provider side and
	// returns its record, including the external ID.
	CreateOrganization(ctx context.Context, name, slug string) (*Organization, error)

	// UpdateOrganization patches the provider-side organization profile.
	UpdateOrganization(ctx context.Context, orgID string, patch OrganizationPatch) error

	// DeleteOrganization deletes the provider-side organization.
	DeleteOrganization(ctx context.Context, orgID string) error

	// AddMembership creates a membership and returns the provider's
	// membership identifier.
	AddMembership(ctx context.Context, orgID, userID string, role Role) (string, error)

	// RemoveMembership removes a membership.
	RemoveMembership(ctx context.Context, orgID, userID, membershipID string) error

	// UpdateMembershipRole changes a membership's role.
	UpdateMembershipRole(ctx context.Context, orgID, userID, membershipID string, role Role) error

	// InviteOwner sends an owner invitation to an email address that has no
	// provider identity yet.
	InviteOwner(ctx context.Context, orgID, email string) error

	// GetUser fetches a provider user, primarily for its email address.
	GetUser(ctx context.Context, userID string) (*User, error)

	// ListOrganizations pages through all provider organizations. Used by the
	// backfill utility, not by the request path.
	ListOrganizations(ctx context.Context, limit, offset int) (*OrganizationPage, error)
}
