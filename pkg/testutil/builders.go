// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/approvio/pkg/models"
)

// CreateTestDefinition creates a workflow definition with a draft -> approved
// -> closed graph that can be customized through overrides.
func CreateTestDefinition(overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	definition := &models.WorkflowDefinition{
		TenantID:     "tenant-1",
		DocumentType: "purchase_order",
		Name:         "Purchase Order Approval",
		Active:       true,
		Statuses: []*models.WorkflowStatus{
			{Key: "draft", Label: "Draft", IsInitial: true, DisplayOrder: 0},
			{Key: "approved", Label: "Approved", DisplayOrder: 1},
			{Key: "closed", Label: "Closed", IsTerminal: true, DisplayOrder: 2},
		},
		Transitions: []*models.WorkflowTransition{
			{
				ID:            "t-submit",
				FromStatusKey: "draft",
				ToStatusKey:   "approved",
				Label:         "Submit",
				AllowedRoles:  []string{"requester"},
				DisplayOrder:  0,
			},
			{
				ID:            "t-close",
				FromStatusKey: "approved",
				ToStatusKey:   "closed",
				Label:         "Close",
				AllowedRoles:  []string{"owner"},
				DisplayOrder:  1,
			},
		},
	}

	for _, override := range overrides {
		override(definition)
	}

	return definition
}

// WithTenant sets the definition tenant.
func WithTenant(tenantID string) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.TenantID = tenantID
	}
}

// WithDocumentType sets the definition document type.
func WithDocumentType(documentType string) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.DocumentType = documentType
	}
}

// WithDefault marks the definition as the default for its document type.
func WithDefault() func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.IsDefault = true
	}
}

// WithApprovalGate makes the first transition approval-gated.
func WithApprovalGate(approvalType models.ApprovalType, approverRoles ...string) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.Transitions[0].RequiresApproval = true
		d.Transitions[0].ApprovalType = approvalType
		d.Transitions[0].ApproverRoles = approverRoles
	}
}

// CreateTestActor creates an actor with the given roles.
func CreateTestActor(id string, roles ...string) *models.Actor {
	return &models.Actor{
		ID:       id,
		TenantID: "tenant-1",
		Roles:    roles,
	}
}
