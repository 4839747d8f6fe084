package models

import (
	"sort"
	"time"
)

// ApprovalStatus is the lifecycle of one approval row. A row is terminal
// once responded; there is no re-voting. Rows still pending when their batch
// resolves are marked skipped in the same atomic unit, so they never gate a
// later batch or accept a response.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusSkipped  ApprovalStatus = "skipped"
)

// WorkflowApproval is one row of the approval ledger. Rows are created in a
// batch, one per required approver, when a gated transition is requested.
// Sequence is assigned at batch-creation time from the transition's
// approver_roles ordering, so sequential resolution never depends on store
// sort stability.
type WorkflowApproval struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"     validate:"required"`
	InstanceID   string         `json:"instance_id"   validate:"required"`
	TransitionID string         `json:"transition_id" validate:"required"`
	BatchID      string         `json:"batch_id"      validate:"required"`
	Sequence     int            `json:"sequence"`
	ApproverRole string         `json:"approver_role" validate:"required"`
	ApproverID   string         `json:"approver_id"   validate:"required"`
	Status       ApprovalStatus `json:"status"        validate:"required"`
	Comment      string         `json:"comment,omitempty"`
	RespondedAt  *time.Time     `json:"responded_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Pending reports whether the row is still actionable.
func (a *WorkflowApproval) Pending() bool {
	return a.Status == ApprovalStatusPending
}

// SortBatch orders approval rows by their batch sequence.
func SortBatch(rows []*WorkflowApproval) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Sequence < rows[j].Sequence
	})
}
