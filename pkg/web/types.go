// Package web provides HTTP request and response types for the approval workflow API.
package web

import "github.com/dukex/approvio/pkg/models"

// CreateDefinitionRequest represents the request body for creating a workflow definition.
type CreateDefinitionRequest struct {
	DocumentType string                       `json:"document_type" validate:"required,min=2"`
	Name         string                       `json:"name"          validate:"required,min=3"`
	Active       bool                         `json:"active"`
	IsDefault    bool                         `json:"is_default"`
	Statuses     []*models.WorkflowStatus     `json:"statuses"      validate:"required,min=1,dive"`
	Transitions  []*models.WorkflowTransition `json:"transitions"   validate:"dive"`
}

// UpdateDefinitionRequest represents the request body for replacing a workflow
// definition. The full graph is submitted each time; definitions are edited
// as one configuration document.
type UpdateDefinitionRequest struct {
	DocumentType string                       `json:"document_type" validate:"required,min=2"`
	Name         string                       `json:"name"          validate:"required,min=3"`
	Active       bool                         `json:"active"`
	IsDefault    bool                         `json:"is_default"`
	Statuses     []*models.WorkflowStatus     `json:"statuses"      validate:"required,min=1,dive"`
	Transitions  []*models.WorkflowTransition `json:"transitions"   validate:"dive"`
}

// CreateInstanceRequest represents the request body for initializing a
// workflow instance on a document.
type CreateInstanceRequest struct {
	DocumentType string `json:"document_type" validate:"required,min=2"`
	DocumentID   int64  `json:"document_id"   validate:"required"`
}

// InvokeTransitionRequest represents the request body for invoking a transition.
type InvokeTransitionRequest struct {
	Comment string `json:"comment"`
}

// RespondApprovalRequest represents the request body for responding to a
// pending approval.
type RespondApprovalRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
	Comment  string `json:"comment"`
}

func (r CreateDefinitionRequest) toModel(tenantID string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		TenantID:     tenantID,
		DocumentType: r.DocumentType,
		Name:         r.Name,
		Active:       r.Active,
		IsDefault:    r.IsDefault,
		Statuses:     r.Statuses,
		Transitions:  r.Transitions,
	}
}

func (r UpdateDefinitionRequest) toModel(tenantID string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		TenantID:     tenantID,
		DocumentType: r.DocumentType,
		Name:         r.Name,
		Active:       r.Active,
		IsDefault:    r.IsDefault,
		Statuses:     r.Statuses,
		Transitions:  r.Transitions,
	}
}
