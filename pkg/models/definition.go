// Package models defines the core domain models for tenant-configurable approval workflows
package models

import (
	"errors"
	"fmt"
	"time"
)

// ApprovalType determines how an approval batch resolves.
type ApprovalType string

const (
	ApprovalTypeSingle     ApprovalType = "single"     // Any one response resolves the batch
	ApprovalTypeParallel   ApprovalType = "parallel"   // All must approve, any rejection fails fast
	ApprovalTypeSequential ApprovalType = "sequential" // Responses in order, rejection stops the chain
)

// Configuration graph invariant errors.
var (
	ErrNoInitialStatus        = errors.New("definition has no initial status")
	ErrMultipleInitialStatus  = errors.New("definition has more than one initial status")
	ErrDuplicateStatusKey     = errors.New("duplicate status key")
	ErrDanglingStatusKey      = errors.New("transition references unknown status key")
	ErrTransitionFromTerminal = errors.New("transition starts from a terminal status")
	ErrNoAllowedRoles         = errors.New("transition has no allowed roles")
	ErrNoApproverRoles        = errors.New("approval-gated transition has no approver roles")
	ErrInvalidApprovalType    = errors.New("invalid approval type")
	ErrStatusNotFound         = errors.New("status key not found in definition")
	ErrTransitionNotFound     = errors.New("transition not found in definition")
)

// WorkflowDefinition is the tenant-authored configuration of one workflow:
// the statuses a document of the given type can be in and the transitions
// permitted between them. At most one definition per (tenant, document type)
// carries the default flag.
type WorkflowDefinition struct {
	ID           string                `json:"id"`
	TenantID     string                `json:"tenant_id"     validate:"required"`
	DocumentType string                `json:"document_type" validate:"required,min=2"`
	Name         string                `json:"name"          validate:"required,min=3"`
	Active       bool                  `json:"active"`
	IsDefault    bool                  `json:"is_default"`
	Statuses     []*WorkflowStatus     `json:"statuses"      validate:"required,min=1,dive"`
	Transitions  []*WorkflowTransition `json:"transitions"   validate:"dive"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	DeletedAt    *time.Time            `json:"deleted_at,omitempty"`
}

// WorkflowStatus is one node of the definition graph. Keys are unique within
// a definition; exactly one status is initial, zero or more are terminal.
type WorkflowStatus struct {
	Key          string `json:"key"   validate:"required,min=1"`
	Label        string `json:"label" validate:"required"`
	Color        string `json:"color"` // Display hint only
	IsInitial    bool   `json:"is_initial"`
	IsTerminal   bool   `json:"is_terminal"`
	DisplayOrder int    `json:"display_order"`
}

// WorkflowTransition is one directed edge of the definition graph. Multiple
// transitions may leave the same status (branching).
type WorkflowTransition struct {
	ID               string       `json:"id"`
	FromStatusKey    string       `json:"from_status_key" validate:"required"`
	ToStatusKey      string       `json:"to_status_key"   validate:"required"`
	Label            string       `json:"label"           validate:"required"`
	AllowedRoles     []string     `json:"allowed_roles"   validate:"required,min=1"`
	RequiresApproval bool         `json:"requires_approval"`
	ApprovalType     ApprovalType `json:"approval_type,omitempty"`
	ApproverRoles    []string     `json:"approver_roles,omitempty"`
	DisplayOrder     int          `json:"display_order"`
}

// InitialStatus returns the single initial status of the definition.
func (d *WorkflowDefinition) InitialStatus() (*WorkflowStatus, error) {
	var initial *WorkflowStatus

	for _, status := range d.Statuses {
		if !status.IsInitial {
			continue
		}

		if initial != nil {
			return nil, ErrMultipleInitialStatus
		}

		initial = status
	}

	if initial == nil {
		return nil, ErrNoInitialStatus
	}

	return initial, nil
}

// StatusByKey returns the status with the given key.
func (d *WorkflowDefinition) StatusByKey(key string) (*WorkflowStatus, error) {
	for _, status := range d.Statuses {
		if status.Key == key {
			return status, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrStatusNotFound, key)
}

// TransitionByID returns the transition with the given ID.
func (d *WorkflowDefinition) TransitionByID(id string) (*WorkflowTransition, error) {
	for _, transition := range d.Transitions {
		if transition.ID == id {
			return transition, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrTransitionNotFound, id)
}

// TransitionsFrom returns all transitions leaving the given status key.
func (d *WorkflowDefinition) TransitionsFrom(statusKey string) []*WorkflowTransition {
	transitions := make([]*WorkflowTransition, 0)

	for _, transition := range d.Transitions {
		if transition.FromStatusKey == statusKey {
			transitions = append(transitions, transition)
		}
	}

	return transitions
}

// ValidateGraph checks the definition's structural invariants: exactly one
// initial status, unique status keys, no dangling key references, and no
// transitions leaving a terminal status. Called at authoring time and again
// defensively by the engine on every operation.
func (d *WorkflowDefinition) ValidateGraph() error {
	keys := make(map[string]*WorkflowStatus, len(d.Statuses))

	for _, status := range d.Statuses {
		if _, exists := keys[status.Key]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateStatusKey, status.Key)
		}

		keys[status.Key] = status
	}

	if _, err := d.InitialStatus(); err != nil {
		return err
	}

	for _, transition := range d.Transitions {
		from, exists := keys[transition.FromStatusKey]
		if !exists {
			return fmt.Errorf("%w: from %q", ErrDanglingStatusKey, transition.FromStatusKey)
		}

		if _, exists := keys[transition.ToStatusKey]; !exists {
			return fmt.Errorf("%w: to %q", ErrDanglingStatusKey, transition.ToStatusKey)
		}

		if from.IsTerminal {
			return fmt.Errorf("%w: %q", ErrTransitionFromTerminal, transition.FromStatusKey)
		}

		if len(transition.AllowedRoles) == 0 {
			return fmt.Errorf("%w: %s -> %s", ErrNoAllowedRoles, transition.FromStatusKey, transition.ToStatusKey)
		}

		if transition.RequiresApproval {
			if !transition.ApprovalType.Valid() {
				return fmt.Errorf("%w: %q", ErrInvalidApprovalType, transition.ApprovalType)
			}

			if len(transition.ApproverRoles) == 0 {
				return fmt.Errorf("%w: %s -> %s", ErrNoApproverRoles, transition.FromStatusKey, transition.ToStatusKey)
			}
		}
	}

	return nil
}

// Valid reports whether the approval type is one of the known policies.
func (t ApprovalType) Valid() bool {
	switch t {
	case ApprovalTypeSingle, ApprovalTypeParallel, ApprovalTypeSequential:
		return true
	default:
		return false
	}
}
