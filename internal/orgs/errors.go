package orgs

import (
	"fmt"

	"github.com/google/uuid"
)

// Saga failure codes. Each names a distinct post-failure state so operators
// can tell "safe to retry" from "needs manual reconciliation".
const (
	// ErrCodeDBCreateFailed: the local create transaction failed and every
	// compensating provider call succeeded. Safe to retry.
	ErrCodeDBCreateFailed = "ORGANIZATION_DB_CREATE_FAILED"

	// ErrCodeCreateCleanupIncomplete: the local create transaction failed and
	// at least one compensating provider call also failed, leaving orphaned
	// provider records. Needs manual reconciliation.
	ErrCodeCreateCleanupIncomplete = "ORGANIZATION_CREATE_CLEANUP_INCOMPLETE"

	// ErrCodeDBDeleteFailedAfterProvider: the provider organization was
	// deleted but the local delete failed, leaving a local record pointing at
	// a nonexistent provider organization. Needs manual reconciliation; the
	// local delete is not retried automatically.
	ErrCodeDBDeleteFailedAfterProvider = "ORGANIZATION_DB_DELETE_FAILED_AFTER_PROVIDER"
)

// LifecycleError is a named saga failure. It carries both local and external
// identifiers so a partially applied operation can be reconciled manually.
type LifecycleError struct {
	Code           string
	OrganizationID uuid.UUID
	ExternalOrgID  string
	Err            error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s (org=%s external=%s): %v", e.Code, e.OrganizationID, e.ExternalOrgID, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// ValidationError rejects a request before any external call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
