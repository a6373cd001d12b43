package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/tenantd/internal/models"
	"github.com/wolfeidau/tenantd/internal/store"
)

var _ store.MembershipStore = (*MembershipStore)(nil)

// MembershipStore implements store.MembershipStore using PostgreSQL.
type MembershipStore struct {
	pool *pgxpool.Pool
}

// NewMembershipStore creates a new PostgreSQL-backed membership store.
func NewMembershipStore(pool *pgxpool.Pool) *MembershipStore {
	return &MembershipStore{
		pool: pool,
	}
}

// ApplySync runs one serializable transaction applying a provider membership
// event: upsert by external membership ID, unconditional audit row, seat-cap
// enforcement with in-transaction revert, and owner bookkeeping. A
// serialization conflict surfaces as an error wrapping store.ErrTxConflict;
// the caller owns the retry loop.
func (s *MembershipStore) ApplySync(ctx context.Context, params store.SyncApplyParams) (*store.SyncApplyResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, mapPostgresError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	now := time.Now().UTC()

	org, err := getOrganization(ctx, tx, params.Organization.ID)
	if err != nil {
		return nil, err
	}

	before, err := findMembershipTx(ctx, tx, org.ID, params.UserID, params.MembershipExternalID)
	if err != nil {
		return nil, mapPostgresError(err)
	}

	// Upsert an activating OWNER downgraded to MEMBER; promotion happens
	// after the seat check, once the previous owner is demoted, so no
	// statement ever sees two ACTIVE OWNER rows. Deactivating rows keep the
	// event role since the owner uniqueness index only covers ACTIVE rows.
	upsertRole := params.Role
	if upsertRole == models.MembershipRoleOwner && params.Status == models.MembershipStatusActive {
		upsertRole = models.MembershipRoleMember
	}
	m, err := upsertMembershipTx(ctx, tx, org.ID, params.UserID, params.MembershipExternalID, upsertRole, params.Status)
	if err != nil {
		return nil, mapPostgresError(err)
	}

	synced := *m
	synced.Role = params.Role
	err = insertAuditTx(ctx, tx, org.ID, nil, models.AuditActorWebhook,
		models.AuditActionMembershipSynced, before, &synced,
		map[string]string{"external_membership_id": params.MembershipExternalID})
	if err != nil {
		return nil, mapPostgresError(err)
	}

	result := &store.SyncApplyResult{}

	if m.Status == models.MembershipStatusActive {
		var active int64
		err = tx.QueryRow(ctx, `
			SELECT COUNT(*)
			FROM organization_memberships
			WHERE organization_id = $1 AND status = $2
		`, org.ID, models.MembershipStatusActive).Scan(&active)
		if err != nil {
			return nil, mapPostgresError(err)
		}

		if active > params.SeatLimit {
			// Undo this event's own effect inside the same transaction,
			// restoring the event role now that the row is leaving ACTIVE.
			m.Status = models.MembershipStatusBlocked
			m.Role = params.Role
			m.LeftAt = &now
			m.UpdatedAt = now

			_, err = tx.Exec(ctx, `
				UPDATE organization_memberships SET
					status = $2,
					role = $3,
					left_at = $4,
					updated_at = $4
				WHERE id = $1
			`, m.ID, m.Status, m.Role, now)
			if err != nil {
				return nil, mapPostgresError(err)
			}

			err = insertAuditTx(ctx, tx, org.ID, nil, models.AuditActorWebhook,
				models.AuditActionMembershipSeatBlocked, nil, m,
				map[string]any{"seat_limit": params.SeatLimit, "active_count": active})
			if err != nil {
				return nil, mapPostgresError(err)
			}
			result.SeatBlocked = true
		}
	}

	if !result.SeatBlocked && params.Role == models.MembershipRoleOwner && m.Status == models.MembershipStatusActive {
		previousOwnerID := org.OwnerUserID

		if _, err := demoteOtherOwnersTx(ctx, tx, org.ID, params.UserID, now); err != nil {
			return nil, mapPostgresError(err)
		}

		m.Role = models.MembershipRoleOwner
		m.UpdatedAt = now
		_, err = tx.Exec(ctx, `
			UPDATE organization_memberships SET
				role = $2,
				updated_at = $3
			WHERE id = $1
		`, m.ID, m.Role, now)
		if err != nil {
			return nil, mapPostgresError(err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE organizations SET
				owner_user_id = $2,
				pending_owner_email = NULL,
				updated_at = $3
			WHERE id = $1
		`, org.ID, params.UserID, now)
		if err != nil {
			return nil, mapPostgresError(err)
		}

		if previousOwnerID != nil && *previousOwnerID != params.UserID {
			result.OwnerTransferred = true
			result.PreviousOwnerUserID = previousOwnerID
			err = insertAuditTx(ctx, tx, org.ID, nil, models.AuditActorWebhook,
				models.AuditActionOwnerTransferred, nil, m,
				map[string]string{"previous_owner_user_id": previousOwnerID.String()})
		} else {
			result.OwnerAssigned = true
			err = insertAuditTx(ctx, tx, org.ID, nil, models.AuditActorWebhook,
				models.AuditActionOwnerAssigned, nil, m, nil)
		}
		if err != nil {
			return nil, mapPostgresError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPostgresError(err)
	}

	result.Membership = m
	return result, nil
}

// GetMembershipByExternalID retrieves a membership by provider ID.
func (s *MembershipStore) GetMembershipByExternalID(ctx context.Context, externalMembershipID string) (*models.OrganizationMembership, error) {
	m, err := scanMembership(s.pool.QueryRow(ctx, `
		SELECT `+membershipColumns+`
		FROM organization_memberships
		WHERE external_membership_id = $1
	`, externalMembershipID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrMembershipNotFound
		}
		return nil, mapPostgresError(err)
	}
	return m, nil
}

// ListActiveMemberships returns all ACTIVE memberships for an organization.
func (s *MembershipStore) ListActiveMemberships(ctx context.Context, orgID uuid.UUID) ([]*models.OrganizationMembership, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+membershipColumns+`
		FROM organization_memberships
		WHERE organization_id = $1 AND status = $2
		ORDER BY id
	`, orgID, models.MembershipStatusActive)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	defer rows.Close()

	var result []*models.OrganizationMembership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, mapPostgresError(err)
		}
		result = append(result, m)
	}
	return result, mapPostgresError(rows.Err())
}

// ListEntitlementRows returns the user's ACTIVE memberships in ACTIVE
// organizations, each joined to the organization's contract.
func (s *MembershipStore) ListEntitlementRows(ctx context.Context, userID uuid.UUID) ([]store.EntitlementRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			o.id, o.name,
			c.organization_id, c.base_plan, c.plan_label, c.model_tier,
			c.seat_limit, c.max_requests_per_day, c.max_input_tokens_per_day,
			c.max_output_tokens_per_day, c.max_cost_per_day,
			c.max_context_messages, c.version, c.created_at, c.updated_at
		FROM organization_memberships m
		JOIN organizations o ON o.id = m.organization_id
		LEFT JOIN organization_contracts c ON c.organization_id = o.id
		WHERE m.user_id = $1 AND m.status = $2 AND o.status = $3
		ORDER BY o.id
	`, userID, models.MembershipStatusActive, models.OrganizationStatusActive)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	defer rows.Close()

	var result []store.EntitlementRow
	for rows.Next() {
		var row store.EntitlementRow
		var (
			contractOrgID *uuid.UUID
			basePlan      *string
			planLabel     *string
			modelTier     *string
			seatLimit     *int64
			maxRequests   *int64
			maxInput      *int64
			maxOutput     *int64
			maxCost       *float64
			maxContext    *int64
			version       *int64
			createdAt     *time.Time
			updatedAt     *time.Time
		)

		err := rows.Scan(
			&row.OrganizationID,
			&row.OrganizationName,
			&contractOrgID,
			&basePlan,
			&planLabel,
			&modelTier,
			&seatLimit,
			&maxRequests,
			&maxInput,
			&maxOutput,
			&maxCost,
			&maxContext,
			&version,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, mapPostgresError(err)
		}

		if contractOrgID != nil {
			row.Contract = &models.OrganizationContract{
				OrganizationID:        *contractOrgID,
				BasePlan:              *basePlan,
				PlanLabel:             planLabel,
				ModelTier:             modelTier,
				SeatLimit:             seatLimit,
				MaxRequestsPerDay:     maxRequests,
				MaxInputTokensPerDay:  maxInput,
				MaxOutputTokensPerDay: maxOutput,
				MaxCostPerDay:         maxCost,
				MaxContextMessages:    maxContext,
				Version:               *version,
				CreatedAt:             *createdAt,
				UpdatedAt:             *updatedAt,
			}
		}
		result = append(result, row)
	}
	return result, mapPostgresError(rows.Err())
}
