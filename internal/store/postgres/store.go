// Package postgres implements the store interfaces on PostgreSQL using pgx.
// The coarse operations on the organization and membership stores each run
// as one transaction; membership sync additionally runs at serializable
// isolation so the seat-cap and single-owner invariants hold under
// concurrency.
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/wolfeidau/tenantd/internal/models"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// row helpers work inside and outside transactions.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const organizationColumns = `
	id, external_org_id, name, slug, status, owner_user_id,
	pending_owner_email, created_at, updated_at`

func scanOrganization(row pgx.Row) (*models.Organization, error) {
	var org models.Organization
	err := row.Scan(
		&org.ID,
		&org.ExternalOrgID,
		&org.Name,
		&org.Slug,
		&org.Status,
		&org.OwnerUserID,
		&org.PendingOwnerEmail,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

const contractColumns = `
	organization_id, base_plan, plan_label, model_tier, seat_limit,
	max_requests_per_day, max_input_tokens_per_day, max_output_tokens_per_day,
	max_cost_per_day, max_context_messages, version, created_at, updated_at`

func scanContract(row pgx.Row) (*models.OrganizationContract, error) {
	var c models.OrganizationContract
	err := row.Scan(
		&c.OrganizationID,
		&c.BasePlan,
		&c.PlanLabel,
		&c.ModelTier,
		&c.SeatLimit,
		&c.MaxRequestsPerDay,
		&c.MaxInputTokensPerDay,
		&c.MaxOutputTokensPerDay,
		&c.MaxCostPerDay,
		&c.MaxContextMessages,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const membershipColumns = `
	id, organization_id, user_id, external_membership_id, role, status,
	joined_at, left_at, created_at, updated_at`

func scanMembership(row pgx.Row) (*models.OrganizationMembership, error) {
	var m models.OrganizationMembership
	err := row.Scan(
		&m.ID,
		&m.OrganizationID,
		&m.UserID,
		&m.ExternalMembershipID,
		&m.Role,
		&m.Status,
		&m.JoinedAt,
		&m.LeftAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// insertAuditTx appends one audit row inside the caller's transaction, so it
// commits or rolls back together with the mutation it describes.
func insertAuditTx(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, actor *uuid.UUID, actorType models.AuditActorType, action models.AuditAction, before, after, metadata any) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO organization_audit_log (
			id, organization_id, actor_user_id, actor_type, action,
			before, after, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`,
		uuid.Must(uuid.NewV7()),
		orgID,
		actor,
		actorType,
		action,
		marshalJSON(before),
		marshalJSON(after),
		marshalJSON(metadata),
		time.Now().UTC(),
	)
	return err
}

func marshalJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
