// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates a workflow definition was not found by the given identifier.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrInstanceNotFound indicates a workflow instance was not found by the given identifier.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrInstanceAlreadyExists indicates an instance already exists for the document binding.
	ErrInstanceAlreadyExists = errors.New("workflow instance already exists for document")

	// ErrApprovalNotFound indicates an approval row was not found by the given identifier.
	ErrApprovalNotFound = errors.New("approval not found")

	// ErrHistoryImmutable indicates an attempted mutation of an append-only history record.
	ErrHistoryImmutable = errors.New("workflow history is append-only")
)

// InstanceError wraps instance-related errors with additional context.
type InstanceError struct {
	Op         string // Operation being performed (e.g., "Create", "GetByDocument")
	TenantID   string // Tenant scope
	InstanceID string // Instance ID if applicable
	Err        error  // Underlying error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s operation failed for instance %s (tenant %s): %v", e.Op, e.InstanceID, e.TenantID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates a new instance error with context.
func NewInstanceError(op, tenantID, instanceID string, err error) *InstanceError {
	return &InstanceError{
		Op:         op,
		TenantID:   tenantID,
		InstanceID: instanceID,
		Err:        err,
	}
}

// DefinitionError wraps definition-related errors with additional context.
type DefinitionError struct {
	Op           string // Operation being performed
	TenantID     string // Tenant scope
	DefinitionID string // Definition ID if applicable
	Err          error  // Underlying error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("%s operation failed for definition %s (tenant %s): %v", e.Op, e.DefinitionID, e.TenantID, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

func (e *DefinitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewDefinitionError creates a new definition error with context.
func NewDefinitionError(op, tenantID, definitionID string, err error) *DefinitionError {
	return &DefinitionError{
		Op:           op,
		TenantID:     tenantID,
		DefinitionID: definitionID,
		Err:          err,
	}
}

// IsDefinitionNotFound checks if an error indicates a definition was not found.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsInstanceNotFound checks if an error indicates an instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsInstanceAlreadyExists checks if an error indicates a duplicate document binding.
func IsInstanceAlreadyExists(err error) bool {
	return errors.Is(err, ErrInstanceAlreadyExists)
}

// IsApprovalNotFound checks if an error indicates an approval row was not found.
func IsApprovalNotFound(err error) bool {
	return errors.Is(err, ErrApprovalNotFound)
}
