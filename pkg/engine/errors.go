// Package engine provides standardized error types for engine operations.
package engine

import (
	"errors"
	"fmt"
)

// Caller-visible failures. The engine never silently swallows an invalid
// request: every one of these propagates, and no partial state is persisted
// for a failed attempt.
var (
	// ErrNoDefinition indicates no usable definition exists for the document
	// type: none is active, or several are active with no unambiguous default.
	ErrNoDefinition = errors.New("no workflow definition resolvable for document type")

	// ErrDuplicateInstance indicates an instance already exists for the
	// (document type, document id) pair.
	ErrDuplicateInstance = errors.New("workflow instance already exists for document")

	// ErrInvalidTransition indicates the transition's from-status does not
	// match the instance's current status (stale UI or lost race).
	ErrInvalidTransition = errors.New("transition does not start from the instance's current status")

	// ErrUnauthorizedTransition indicates the actor holds none of the
	// transition's allowed roles.
	ErrUnauthorizedTransition = errors.New("actor is not allowed to invoke transition")

	// ErrUnauthorizedApproval indicates the actor is not the approver the
	// ledger row was created for.
	ErrUnauthorizedApproval = errors.New("actor is not the approver for this row")

	// ErrAlreadyResponded indicates the approval row is terminal; there is
	// no re-voting.
	ErrAlreadyResponded = errors.New("approval has already been responded to")

	// ErrOutOfSequence indicates a sequential-batch response arrived before
	// the row whose turn it is.
	ErrOutOfSequence = errors.New("approval response out of sequence")

	// ErrApprovalPending indicates the instance already has an unresolved
	// approval batch; a second gated request would duplicate the ledger.
	ErrApprovalPending = errors.New("instance has an unresolved approval batch")

	// ErrConfiguration indicates the tenant's definition is malformed or
	// changed mid-flight in a way the engine cannot honor.
	ErrConfiguration = errors.New("workflow configuration invalid")

	// ErrInvalidDecision indicates a respond call with a decision other than
	// approved or rejected.
	ErrInvalidDecision = errors.New("decision must be approved or rejected")
)

// OperationError wraps engine errors with operation and instance context.
type OperationError struct {
	Op         string // Operation being performed (e.g., "Initialize", "Transition")
	TenantID   string // Tenant scope
	InstanceID string // Instance ID if applicable
	Err        error  // Underlying error
}

func (e *OperationError) Error() string {
	if e.InstanceID != "" {
		return fmt.Sprintf("%s failed for instance %s (tenant %s): %v", e.Op, e.InstanceID, e.TenantID, e.Err)
	}

	return fmt.Sprintf("%s failed (tenant %s): %v", e.Op, e.TenantID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func (e *OperationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newOperationError(op, tenantID, instanceID string, err error) *OperationError {
	return &OperationError{
		Op:         op,
		TenantID:   tenantID,
		InstanceID: instanceID,
		Err:        err,
	}
}

// IsAuthorizationError checks if an error is a role mismatch that should map
// to HTTP 403.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrUnauthorizedTransition) ||
		errors.Is(err, ErrUnauthorizedApproval)
}

// IsConflictError checks if an error is a state conflict that should map to
// HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrDuplicateInstance) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAlreadyResponded) ||
		errors.Is(err, ErrOutOfSequence) ||
		errors.Is(err, ErrApprovalPending)
}

// IsValidationError checks if an error is a request problem that should map
// to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNoDefinition) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrInvalidDecision)
}
