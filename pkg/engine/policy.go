package engine

import (
	"fmt"

	"github.com/dukex/approvio/pkg/models"
)

// BatchOutcome is the resolution state of an approval batch.
type BatchOutcome string

const (
	BatchPending  BatchOutcome = "pending"
	BatchApproved BatchOutcome = "approved"
	BatchRejected BatchOutcome = "rejected"
)

// resolveBatch evaluates a batch against its transition's policy. Rows must
// be in sequence order (models.SortBatch).
//
//   - single: any one response resolves the batch with that response.
//   - parallel: any rejection resolves rejected (fail-fast); approved only
//     once every row is approved.
//   - sequential: rows resolve in order; a rejection at any step resolves
//     rejected, approval of the last row resolves approved.
func resolveBatch(approvalType models.ApprovalType, rows []*models.WorkflowApproval) (BatchOutcome, error) {
	if len(rows) == 0 {
		return BatchPending, fmt.Errorf("%w: empty approval batch", ErrConfiguration)
	}

	switch approvalType {
	case models.ApprovalTypeSingle:
		return resolveSingle(rows), nil
	case models.ApprovalTypeParallel:
		return resolveParallel(rows), nil
	case models.ApprovalTypeSequential:
		return resolveSequential(rows), nil
	default:
		return BatchPending, fmt.Errorf("%w: unknown approval type %q", ErrConfiguration, approvalType)
	}
}

func resolveSingle(rows []*models.WorkflowApproval) BatchOutcome {
	for _, row := range rows {
		switch row.Status {
		case models.ApprovalStatusApproved:
			return BatchApproved
		case models.ApprovalStatusRejected:
			return BatchRejected
		case models.ApprovalStatusPending, models.ApprovalStatusSkipped:
		}
	}

	return BatchPending
}

func resolveParallel(rows []*models.WorkflowApproval) BatchOutcome {
	pending := false

	for _, row := range rows {
		switch row.Status {
		case models.ApprovalStatusRejected:
			return BatchRejected
		case models.ApprovalStatusPending:
			pending = true
		case models.ApprovalStatusApproved, models.ApprovalStatusSkipped:
		}
	}

	if pending {
		return BatchPending
	}

	return BatchApproved
}

func resolveSequential(rows []*models.WorkflowApproval) BatchOutcome {
	for _, row := range rows {
		switch row.Status {
		case models.ApprovalStatusRejected:
			return BatchRejected
		case models.ApprovalStatusPending:
			return BatchPending
		case models.ApprovalStatusApproved, models.ApprovalStatusSkipped:
		}
	}

	return BatchApproved
}

// nextInSequence returns the pending row whose turn it is, or nil when no
// row is pending.
func nextInSequence(rows []*models.WorkflowApproval) *models.WorkflowApproval {
	for _, row := range rows {
		if row.Pending() {
			return row
		}
	}

	return nil
}
