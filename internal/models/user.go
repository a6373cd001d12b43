package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole values treated as administrative by the entitlement resolver.
const (
	UserRoleAdmin = "ADMIN"
	UserRoleStaff = "STAFF"
)

// User is the minimal local account record needed by owner resolution and
// membership sync. ExternalUserID is the user's identity in the external
// provider; it is nil for accounts that have never signed in through it.
type User struct {
	ID             uuid.UUID // UUIDv7
	ExternalUserID *string   // unique when set
	Email          string
	Name           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
