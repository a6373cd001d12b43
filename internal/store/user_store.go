package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/wolfeidau/tenantd/internal/models"
)

// UserStore defines the local user lookups needed by owner resolution and
// membership sync.
type UserStore interface {
	// GetUser retrieves a user by local ID.
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)

	// GetUserByExternalID retrieves a user by provider identity.
	GetUserByExternalID(ctx context.Context, externalUserID string) (*models.User, error)

	// GetUserByEmail retrieves a user by email address.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// UpsertUserByExternalID creates or refreshes the local user for a
	// provider identity. A pre-existing account matched by email that has no
	// provider identity yet is linked instead of duplicated. The email may be
	// empty when the provider lookup failed; an existing non-empty email is
	// never overwritten by empty.
	UpsertUserByExternalID(ctx context.Context, externalUserID, email string) (*models.User, error)

	// CreateUser inserts a local user record.
	CreateUser(ctx context.Context, user *models.User) error
}
