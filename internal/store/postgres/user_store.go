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

var _ store.UserStore = (*UserStore)(nil)

// UserStore implements store.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new PostgreSQL-backed user store.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{
		pool: pool,
	}
}

const userColumns = `
	id, external_user_id, email, name, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.ExternalUserID,
		&u.Email,
		&u.Name,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser retrieves a user by local ID.
func (s *UserStore) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, mapPostgresError(err)
	}
	return user, nil
}

// GetUserByExternalID retrieves a user by provider identity.
func (s *UserStore) GetUserByExternalID(ctx context.Context, externalUserID string) (*models.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE external_user_id = $1
	`, externalUserID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, mapPostgresError(err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email address.
func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, mapPostgresError(err)
	}
	return user, nil
}

// UpsertUserByExternalID creates or refreshes the local user for a provider
// identity. A pre-existing account matched by email with no provider
// identity is linked instead of duplicated. An existing email is never
// overwritten by an empty one.
func (s *UserStore) UpsertUserByExternalID(ctx context.Context, externalUserID, email string) (*models.User, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	now := time.Now().UTC()

	user, err := scanUser(tx.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE external_user_id = $1
		FOR UPDATE
	`, externalUserID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, mapPostgresError(err)
	}

	if user != nil {
		if email != "" && user.Email != email {
			user.Email = email
		}
		user.UpdatedAt = now
		_, err = tx.Exec(ctx, `
			UPDATE users SET email = $2, updated_at = $3 WHERE id = $1
		`, user.ID, user.Email, user.UpdatedAt)
		if err != nil {
			return nil, mapPostgresError(err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, mapPostgresError(err)
		}
		return user, nil
	}

	if email != "" {
		// Link a pre-existing account that has this email but no provider
		// identity yet.
		user, err = scanUser(tx.QueryRow(ctx, `
			UPDATE users SET external_user_id = $2, updated_at = $3
			WHERE email = $1 AND external_user_id IS NULL
			RETURNING `+userColumns,
			email, externalUserID, now,
		))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, mapPostgresError(err)
		}
		if user != nil {
			if err := tx.Commit(ctx); err != nil {
				return nil, mapPostgresError(err)
			}
			return user, nil
		}
	}

	user = &models.User{
		ID:             uuid.Must(uuid.NewV7()),
		ExternalUserID: &externalUserID,
		Email:          email,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, external_user_id, email, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		user.ID,
		user.ExternalUserID,
		user.Email,
		user.Name,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return nil, mapPostgresError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPostgresError(err)
	}
	return user, nil
}

// CreateUser inserts a local user record.
func (s *UserStore) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.ID == uuid.Nil {
		user.ID = uuid.Must(uuid.NewV7())
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, external_user_id, email, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		user.ID,
		user.ExternalUserID,
		user.Email,
		user.Name,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return mapPostgresError(err)
	}
	return nil
}
