package resourcesaga

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrUnknownKind is returned when no saga is registered for a kind.
	ErrUnknownKind = errors.New("unknown resource kind")
	// ErrKindRegistered is returned when registering a kind twice.
	ErrKindRegistered = errors.New("resource kind already registered")
	// ErrPayloadType is returned when a payload does not match the saga input type.
	ErrPayloadType = errors.New("payload type does not match saga input")
	// ErrInvalidAction is returned for a resource action missing its kind,
	// create, delete or audit plan.
	ErrInvalidAction = errors.New("invalid resource action")
	// ErrNoFiles is returned by upload sagas called without any file.
	ErrNoFiles = errors.New("no files to upload")
	// ErrNoResources is the cause of a RemoteCreateError when the remote
	// service reported success without returning any resource.
	ErrNoResources = errors.New("remote create returned no resources")
	// ErrRunNotFound is returned by journals for an unknown run id.
	ErrRunNotFound = errors.New("saga run not found")
	// ErrInvalidRunID is returned by the file journal for ids that are not
	// canonical UUIDs.
	ErrInvalidRunID = errors.New("invalid run id")
	// ErrNotReconcilable is returned when retrying compensation for a run
	// that is not inconsistent.
	ErrNotReconcilable = errors.New("run is not inconsistent")
)

// RemoteCreateError means the forward call failed. Nothing was compensated
// because nothing was created from the caller's point of view.
type RemoteCreateError struct {
	Kind Kind
	Err  error
}

func (e *RemoteCreateError) Error() string {
	return fmt.Sprintf("remote create of %s failed: %v", e.Kind, e.Err)
}

func (e *RemoteCreateError) Unwrap() error {
	return e.Err
}

// AuditLoggingError means a side effect failed after the remote create and
// every created resource was deleted again. The operation is cancelled
// cleanly.
type AuditLoggingError struct {
	Kind        Kind
	ResourceIDs []string
	Err         error
}

func (e *AuditLoggingError) Error() string {
	return fmt.Sprintf("audit logging for %s failed, operation cancelled and %d resource(s) removed: %v",
		e.Kind, len(e.ResourceIDs), e.Err)
}

func (e *AuditLoggingError) Unwrap() error {
	return e.Err
}

// CompensationError means a side effect failed and at least one delete
// failed too. The remote service now holds orphaned resources that need
// manual reconciliation. Err holds the delete failure(s); AuditErr the
// failure that triggered compensation.
type CompensationError struct {
	Kind     Kind
	Orphaned []string
	AuditErr error
	Err      error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation for %s failed, orphaned resources [%s]: %v (after audit failure: %v)",
		e.Kind, strings.Join(e.Orphaned, ", "), e.Err, e.AuditErr)
}

func (e *CompensationError) Unwrap() error {
	return e.Err
}

// StageOf classifies a saga error into the stage that failed.
func StageOf(err error) FailureStage {
	var (
		createErr *RemoteCreateError
		auditErr  *AuditLoggingError
		compErr   *CompensationError
	)
	switch {
	case err == nil:
		return StageNone
	case errors.As(err, &compErr):
		return StageCompensation
	case errors.As(err, &auditErr):
		return StageLocalAudit
	case errors.As(err, &createErr):
		return StageRemoteCreate
	default:
		return StageNone
	}
}

// OrderAlreadyExistsError is a business rejection from the order service.
// It is not retriable and never triggers a rollback.
type OrderAlreadyExistsError struct {
	ExternalOrderID string
}

func (e *OrderAlreadyExistsError) Error() string {
	return fmt.Sprintf("order %s already exists", e.ExternalOrderID)
}

// OrderCreationRollbackError reports a failed order creation after the
// rollback delete was attempted. When RollbackFailed is set the cause is
// the delete failure and CreateErr keeps the original one.
type OrderCreationRollbackError struct {
	ExternalOrderID string
	RollbackFailed  bool
	CreateErr       error
	Err             error
}

func (e *OrderCreationRollbackError) Error() string {
	if e.RollbackFailed {
		return fmt.Sprintf("order %s: rollback failed: %v (create error: %v)", e.ExternalOrderID, e.Err, e.CreateErr)
	}
	return fmt.Sprintf("order %s: creation failed and was rolled back: %v", e.ExternalOrderID, e.Err)
}

func (e *OrderCreationRollbackError) Unwrap() error {
	return e.Err
}

// CourseNotPurchasableError is returned when a course cannot be bought,
// either because it does not exist or because the user may not buy it.
type CourseNotPurchasableError struct {
	CourseID uuid.UUID
	Reason   string
}

func (e *CourseNotPurchasableError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("course %s is not purchasable", e.CourseID)
	}
	return fmt.Sprintf("course %s is not purchasable: %s", e.CourseID, e.Reason)
}
