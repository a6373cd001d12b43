package store

import "errors"

// Sentinel errors for common store conditions
var (
	ErrOrganizationNotFound      = errors.New("organization not found")
	ErrOrganizationAlreadyExists = errors.New("organization already exists")
	ErrContractNotFound          = errors.New("organization contract not found")
	ErrMembershipNotFound        = errors.New("membership not found")
	ErrUserNotFound              = errors.New("user not found")

	// ErrTxConflict marks a serialization conflict detected by the store.
	// Callers retry the whole transaction body from scratch.
	ErrTxConflict = errors.New("transaction serialization conflict")
)
