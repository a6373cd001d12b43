package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/tenantd/internal/models"
	"github.com/wolfeidau/tenantd/internal/store"
)

var _ store.UserStore = (*Store)(nil)

// GetUser retrieves a user by local ID.
func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return cloneUser(user), nil
}

// GetUserByExternalID retrieves a user by provider identity.
func (s *Store) GetUserByExternalID(ctx context.Context, externalUserID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByExtID[externalUserID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return cloneUser(s.users[id]), nil
}

// GetUserByEmail retrieves a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByEmail[email]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return cloneUser(s.users[id]), nil
}

// UpsertUserByExternalID creates or refreshes the local user for a provider
// identity. A pre-existing account matched by email with no provider identity
// is linked instead of duplicated. An existing email is never overwritten by
// an empty one.
func (s *Store) UpsertUserByExternalID(ctx context.Context, externalUserID, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	if id, ok := s.usersByExtID[externalUserID]; ok {
		user := s.users[id]
		if email != "" && user.Email != email {
			delete(s.usersByEmail, user.Email)
			user.Email = email
			s.usersByEmail[email] = user.ID
		}
		user.UpdatedAt = now
		return cloneUser(user), nil
	}

	if email != "" {
		if id, ok := s.usersByEmail[email]; ok {
			user := s.users[id]
			if user.ExternalUserID == nil {
				user.ExternalUserID = &externalUserID
				user.UpdatedAt = now
				s.usersByExtID[externalUserID] = user.ID
				return cloneUser(user), nil
			}
		}
	}

	user := &models.User{
		ID:             uuid.Must(uuid.NewV7()),
		ExternalUserID: &externalUserID,
		Email:          email,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.users[user.ID] = user
	s.usersByExtID[externalUserID] = user.ID
	if email != "" {
		s.usersByEmail[email] = user.ID
	}

	return cloneUser(user), nil
}

// CreateUser inserts a local user record.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	u := cloneUser(user)
	if u.ID == uuid.Nil {
		u.ID = uuid.Must(uuid.NewV7())
		user.ID = u.ID
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	s.users[u.ID] = u
	if u.ExternalUserID != nil {
		s.usersByExtID[*u.ExternalUserID] = u.ID
	}
	if u.Email != "" {
		s.usersByEmail[u.Email] = u.ID
	}

	return nil
}
