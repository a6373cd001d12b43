//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wolfeidau/tenantd/internal/models"
	"github.com/wolfeidau/tenantd/internal/store"
)

// setupPostgres starts a PostgreSQL container and returns a migrated pool.
func setupPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	pool, err := NewPool(ctx, &PoolConfig{
		ConnString:  connString,
		MaxConns:    5,
		MinConns:    1,
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func createTestOrg(t *testing.T, ctx context.Context, orgStore *OrganizationStore, extID, slug string, seatLimit int64) *models.Organization {
	t.Helper()
	org, err := orgStore.CreateOrganization(ctx, store.CreateOrganizationParams{
		Organization: models.Organization{
			ID:            uuid.Must(uuid.NewV7()),
			ExternalOrgID: extID,
			Name:          "Acme",
			Slug:          slug,
			Status:        models.OrganizationStatusActive,
		},
		Contract: store.ContractPatch{SeatLimit: &seatLimit},
	})
	require.NoError(t, err)
	return org
}

func TestPostgresOrganizationLifecycle(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	orgStore := NewOrganizationStore(pool)
	auditStore := NewAuditStore(pool)

	org := createTestOrg(t, ctx, orgStore, "ext-org-1", "acme", 5)

	// Duplicate external ID or slug is a conflict.
	_, err := orgStore.CreateOrganization(ctx, store.CreateOrganizationParams{
		Organization: models.Organization{
			ID:            uuid.Must(uuid.NewV7()),
			ExternalOrgID: "ext-org-1",
			Name:          "Other",
			Slug:          "other",
			Status:        models.OrganizationStatusActive,
		},
	})
	require.ErrorIs(t, err, store.ErrOrganizationAlreadyExists)

	fetched, err := orgStore.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	require.Equal(t, "acme", fetched.Slug)

	byExt, err := orgStore.GetOrganizationByExternalID(ctx, "ext-org-1")
	require.NoError(t, err)
	require.Equal(t, org.ID, byExt.ID)

	contract, err := orgStore.GetContract(ctx, org.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), contract.Version)
	require.Equal(t, int64(5), *contract.SeatLimit)

	// Contract patch bumps the version.
	plan := "PRO"
	_, err = orgStore.ApplyOrganizationUpdate(ctx, store.UpdateOrganizationParams{
		OrganizationID: org.ID,
		Contract:       &store.ContractPatch{BasePlan: &plan},
	})
	require.NoError(t, err)

	contract, err = orgStore.GetContract(ctx, org.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), contract.Version)
	require.Equal(t, "PRO", contract.BasePlan)

	// Delete cascades but keeps the audit log.
	require.NoError(t, orgStore.DeleteOrganization(ctx, org.ID, nil))
	_, err = orgStore.GetOrganization(ctx, org.ID)
	require.ErrorIs(t, err, store.ErrOrganizationNotFound)
	_, err = orgStore.GetContract(ctx, org.ID)
	require.ErrorIs(t, err, store.ErrContractNotFound)

	entries, err := auditStore.ListAuditEntries(ctx, org.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	require.Equal(t, models.AuditActionOrganizationDeleted, entries[0].Action)
}

func TestPostgresMembershipSync(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	orgStore := NewOrganizationStore(pool)
	membershipStore := NewMembershipStore(pool)
	userStore := NewUserStore(pool)

	org := createTestOrg(t, ctx, orgStore, "ext-org-1", "acme", 2)

	user1, err := userStore.UpsertUserByExternalID(ctx, "ext-user-1", "one@example.com")
	require.NoError(t, err)
	user2, err := userStore.UpsertUserByExternalID(ctx, "ext-user-2", "two@example.com")
	require.NoError(t, err)
	user3, err := userStore.UpsertUserByExternalID(ctx, "ext-user-3", "three@example.com")
	require.NoError(t, err)

	sync := func(userID uuid.UUID, extMemID string, role models.MembershipRole) (*store.SyncApplyResult, error) {
		return membershipStore.ApplySync(ctx, store.SyncApplyParams{
			Organization:         org,
			SeatLimit:            2,
			MembershipExternalID: extMemID,
			UserID:               userID,
			Role:                 role,
			Status:               models.MembershipStatusActive,
		})
	}

	result, err := sync(user1.ID, "ext-mem-1", models.MembershipRoleOwner)
	require.NoError(t, err)
	require.True(t, result.OwnerAssigned)
	require.False(t, result.SeatBlocked)

	result, err = sync(user2.ID, "ext-mem-2", models.MembershipRoleMember)
	require.NoError(t, err)
	require.False(t, result.SeatBlocked)

	// Third activation trips the seat limit inside the transaction.
	result, err = sync(user3.ID, "ext-mem-3", models.MembershipRoleMember)
	require.NoError(t, err)
	require.True(t, result.SeatBlocked)
	require.Equal(t, models.MembershipStatusBlocked, result.Membership.Status)

	active, err := membershipStore.ListActiveMemberships(ctx, org.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)

	// Redelivery is idempotent.
	again, err := sync(user2.ID, "ext-mem-2", models.MembershipRoleMember)
	require.NoError(t, err)
	active, err = membershipStore.ListActiveMemberships(ctx, org.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, models.MembershipStatusActive, again.Membership.Status)

	// Owner transfer via sync demotes the previous owner; the partial unique
	// index never sees two active OWNER rows.
	result, err = sync(user2.ID, "ext-mem-2", models.MembershipRoleOwner)
	require.NoError(t, err)
	require.True(t, result.OwnerTransferred)
	require.Equal(t, user1.ID, *result.PreviousOwnerUserID)

	demoted, err := membershipStore.GetMembershipByExternalID(ctx, "ext-mem-1")
	require.NoError(t, err)
	require.Equal(t, models.MembershipRoleMember, demoted.Role)

	current, err := orgStore.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	require.Equal(t, user2.ID, *current.OwnerUserID)
}

func TestPostgresApplySyncKeepsEventRoleOnInactiveRows(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	orgStore := NewOrganizationStore(pool)
	membershipStore := NewMembershipStore(pool)
	userStore := NewUserStore(pool)

	org := createTestOrg(t, ctx, orgStore, "ext-org-1", "acme", 1)

	user1, err := userStore.UpsertUserByExternalID(ctx, "ext-user-1", "one@example.com")
	require.NoError(t, err)
	user2, err := userStore.UpsertUserByExternalID(ctx, "ext-user-2", "two@example.com")
	require.NoError(t, err)

	sync := func(userID uuid.UUID, extMemID string, role models.MembershipRole, status models.MembershipStatus) *store.SyncApplyResult {
		result, err := membershipStore.ApplySync(ctx, store.SyncApplyParams{
			Organization:         org,
			SeatLimit:            1,
			MembershipExternalID: extMemID,
			UserID:               userID,
			Role:                 role,
			Status:               status,
		})
		require.NoError(t, err)
		return result
	}

	result := sync(user1.ID, "ext-mem-1", models.MembershipRoleOwner, models.MembershipStatusActive)
	require.True(t, result.OwnerAssigned)

	// An OWNER activation over the seat limit is reverted to BLOCKED but the
	// row keeps the event role; the owner uniqueness index only covers ACTIVE
	// rows, so a blocked OWNER row is legal.
	result = sync(user2.ID, "ext-mem-2", models.MembershipRoleOwner, models.MembershipStatusActive)
	require.True(t, result.SeatBlocked)

	row, err := membershipStore.GetMembershipByExternalID(ctx, "ext-mem-2")
	require.NoError(t, err)
	require.Equal(t, models.MembershipRoleOwner, row.Role)
	require.Equal(t, models.MembershipStatusBlocked, row.Status)

	// Redelivery against the existing blocked row lands in the same state.
	result = sync(user2.ID, "ext-mem-2", models.MembershipRoleOwner, models.MembershipStatusActive)
	require.True(t, result.SeatBlocked)

	row, err = membershipStore.GetMembershipByExternalID(ctx, "ext-mem-2")
	require.NoError(t, err)
	require.Equal(t, models.MembershipRoleOwner, row.Role)
	require.Equal(t, models.MembershipStatusBlocked, row.Status)

	// A removing OWNER event also persists the event role, and the sitting
	// owner's seat and role survive both events.
	result = sync(user2.ID, "ext-mem-2", models.MembershipRoleOwner, models.MembershipStatusRemoved)
	require.False(t, result.SeatBlocked)

	row, err = membershipStore.GetMembershipByExternalID(ctx, "ext-mem-2")
	require.NoError(t, err)
	require.Equal(t, models.MembershipRoleOwner, row.Role)
	require.Equal(t, models.MembershipStatusRemoved, row.Status)

	sitting, err := membershipStore.GetMembershipByExternalID(ctx, "ext-mem-1")
	require.NoError(t, err)
	require.Equal(t, models.MembershipRoleOwner, sitting.Role)
	require.Equal(t, models.MembershipStatusActive, sitting.Status)

	current, err := orgStore.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	require.Equal(t, user1.ID, *current.OwnerUserID)
}

func TestPostgresConcurrentActivationsRespectSeatLimit(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	orgStore := NewOrganizationStore(pool)
	membershipStore := NewMembershipStore(pool)
	userStore := NewUserStore(pool)

	const seatLimit = 3
	const contenders = 6

	org := createTestOrg(t, ctx, orgStore, "ext-org-1", "acme", seatLimit)

	users := make([]uuid.UUID, contenders)
	for i := range users {
		u, err := userStore.UpsertUserByExternalID(ctx,
			fmt.Sprintf("ext-user-%d", i+1), fmt.Sprintf("user%d@example.com", i+1))
		require.NoError(t, err)
		users[i] = u.ID
	}

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			params := store.SyncApplyParams{
				Organization:         org,
				SeatLimit:            seatLimit,
				MembershipExternalID: fmt.Sprintf("ext-mem-%d", i+1),
				UserID:               users[i],
				Role:                 models.MembershipRoleMember,
				Status:               models.MembershipStatusActive,
			}
			// Retry on serialization conflicts as the sync service does.
			for {
				_, err := membershipStore.ApplySync(ctx, params)
				if err == nil || !errors.Is(err, store.ErrTxConflict) {
					errs[i] = err
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "contender %d", i+1)
	}

	// Serializable isolation means the seat count never overshoots, no
	// matter how the activations interleave.
	active, err := membershipStore.ListActiveMemberships(ctx, org.ID)
	require.NoError(t, err)
	require.Len(t, active, seatLimit)
}

func TestPostgresEntitlementRows(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	orgStore := NewOrganizationStore(pool)
	membershipStore := NewMembershipStore(pool)
	userStore := NewUserStore(pool)

	activeOrg := createTestOrg(t, ctx, orgStore, "ext-active", "active", 5)
	suspendedOrg := createTestOrg(t, ctx, orgStore, "ext-suspended", "suspended", 5)
	status := models.OrganizationStatusSuspended
	_, err := orgStore.UpdateOrganizationFields(ctx, suspendedOrg.ID, store.OrganizationPatch{Status: &status})
	require.NoError(t, err)

	user, err := userStore.UpsertUserByExternalID(ctx, "ext-user-1", "one@example.com")
	require.NoError(t, err)

	for i, org := range []*models.Organization{activeOrg, suspendedOrg} {
		_, err := membershipStore.ApplySync(ctx, store.SyncApplyParams{
			Organization:         org,
			SeatLimit:            5,
			MembershipExternalID: fmt.Sprintf("ext-mem-%d", i+1),
			UserID:               user.ID,
			Role:                 models.MembershipRoleMember,
			Status:               models.MembershipStatusActive,
		})
		require.NoError(t, err)
	}

	rows, err := membershipStore.ListEntitlementRows(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, activeOrg.ID, rows[0].OrganizationID)
	require.NotNil(t, rows[0].Contract)
	require.Equal(t, int64(5), *rows[0].Contract.SeatLimit)
}

func TestPostgresUserUpsert(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	userStore := NewUserStore(pool)

	created, err := userStore.UpsertUserByExternalID(ctx, "ext-user-1", "a@example.com")
	require.NoError(t, err)
	require.Equal(t, "a@example.com", created.Email)

	// Refresh keeps the row, updates the email.
	refreshed, err := userStore.UpsertUserByExternalID(ctx, "ext-user-1", "new@example.com")
	require.NoError(t, err)
	require.Equal(t, created.ID, refreshed.ID)
	require.Equal(t, "new@example.com", refreshed.Email)

	// A pre-existing account with no provider identity is linked by email.
	plain := &models.User{Email: "plain@example.com", Name: "Plain"}
	require.NoError(t, userStore.CreateUser(ctx, plain))

	linked, err := userStore.UpsertUserByExternalID(ctx, "ext-user-2", "plain@example.com")
	require.NoError(t, err)
	require.Equal(t, plain.ID, linked.ID)
	require.Equal(t, "ext-user-2", *linked.ExternalUserID)

	byExt, err := userStore.GetUserByExternalID(ctx, "ext-user-2")
	require.NoError(t, err)
	require.Equal(t, plain.ID, byExt.ID)
}

func TestPostgresOrganizationUpdateOwnerTransfer(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	orgStore := NewOrganizationStore(pool)
	userStore := NewUserStore(pool)

	org := createTestOrg(t, ctx, orgStore, "ext-org-1", "acme", 5)

	alice, err := userStore.UpsertUserByExternalID(ctx, "ext-alice", "alice@example.com")
	require.NoError(t, err)
	bob, err := userStore.UpsertUserByExternalID(ctx, "ext-bob", "bob@example.com")
	require.NoError(t, err)

	result, err := orgStore.ApplyOrganizationUpdate(ctx, store.UpdateOrganizationParams{
		OrganizationID: org.ID,
		OwnerTransfer:  &store.OwnerTransferParams{NewOwnerUserID: alice.ID, ExternalMembershipID: "ext-mem-1"},
	})
	require.NoError(t, err)
	require.False(t, result.OwnerTransferred)
	require.Equal(t, alice.ID, *result.Organization.OwnerUserID)

	result, err = orgStore.ApplyOrganizationUpdate(ctx, store.UpdateOrganizationParams{
		OrganizationID: org.ID,
		OwnerTransfer:  &store.OwnerTransferParams{NewOwnerUserID: bob.ID, ExternalMembershipID: "ext-mem-2"},
	})
	require.NoError(t, err)
	require.True(t, result.OwnerTransferred)
	require.NotNil(t, result.PreviousOwner)
	require.Equal(t, alice.ID, result.PreviousOwner.UserID)
	require.Equal(t, bob.ID, *result.Organization.OwnerUserID)
}
