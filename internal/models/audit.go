package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditActorType identifies who caused an audited state transition.
type AuditActorType string

const (
	AuditActorAdmin   AuditActorType = "ADMIN"
	AuditActorWebhook AuditActorType = "WEBHOOK"
)

// AuditAction enumerates the lifecycle, ownership and seat events recorded
// in the organization audit log.
type AuditAction string

const (
	AuditActionOrganizationCreated   AuditAction = "ORGANIZATION_CREATED"
	AuditActionOrganizationUpdated   AuditAction = "ORGANIZATION_UPDATED"
	AuditActionOrganizationDeleted   AuditAction = "ORGANIZATION_DELETED"
	AuditActionContractUpdated       AuditAction = "CONTRACT_UPDATED"
	AuditActionOwnerAssigned         AuditAction = "OWNER_ASSIGNED"
	AuditActionOwnerTransferred      AuditAction = "OWNER_TRANSFERRED"
	AuditActionMembershipSynced      AuditAction = "MEMBERSHIP_SYNCED"
	AuditActionMembershipSeatBlocked AuditAction = "MEMBERSHIP_BLOCKED_SEAT_LIMIT"
)

// AuditEntry is an append-only record of one processed state transition.
// Entries are written in the same transaction as the mutation they describe
// and are never updated or deleted. Webhook redelivery of an already-applied
// event still appends a row; that duplication is accepted for observability.
type AuditEntry struct {
	ID             uuid.UUID // UUIDv7
	OrganizationID uuid.UUID
	ActorUserID    *uuid.UUID // nil for provider-originated events
	ActorType      AuditActorType
	Action         AuditAction
	Before         json.RawMessage
	After          json.RawMessage
	Metadata       json.RawMessage
	CreatedAt      time.Time
}
