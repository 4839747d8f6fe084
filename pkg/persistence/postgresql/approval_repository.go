package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/approvio/pkg/models"
	"github.com/dukex/approvio/pkg/persistence"
)

const approvalColumns = `id, tenant_id, instance_id, transition_id, batch_id, sequence, approver_role, approver_id, status, comment, responded_at, created_at`

// ApprovalRepository reads the approval ledger. Writes happen only through
// InstanceTx under the instance lock.
type ApprovalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(db *sql.DB, logger *slog.Logger) *ApprovalRepository {
	return &ApprovalRepository{db: db, logger: logger}
}

// GetByID returns the approval row by its ID.
func (r *ApprovalRepository) GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowApproval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM workflow_approvals
		WHERE id = $1 AND tenant_id = $2
	`

	row, err := scanApproval(r.db.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrApprovalNotFound
		}

		return nil, fmt.Errorf("failed to scan approval: %w", err)
	}

	return row, nil
}

// ListByInstance returns all approval rows of the instance in batch order.
func (r *ApprovalRepository) ListByInstance(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowApproval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM workflow_approvals
		WHERE tenant_id = $1 AND instance_id = $2
		ORDER BY created_at ASC, sequence ASC
	`

	return queryApprovals(ctx, r.db, r.logger, query, tenantID, instanceID)
}

// ListPendingByApprover returns the approver's open approval rows across all
// instances of the tenant.
func (r *ApprovalRepository) ListPendingByApprover(ctx context.Context, tenantID, approverID string) ([]*models.WorkflowApproval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM workflow_approvals
		WHERE tenant_id = $1 AND approver_id = $2 AND status = 'pending'
		ORDER BY created_at ASC, sequence ASC
	`

	return queryApprovals(ctx, r.db, r.logger, query, tenantID, approverID)
}

type queryContexter interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryApprovals(ctx context.Context, db queryContexter, logger *slog.Logger, query string, args ...any) ([]*models.WorkflowApproval, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			logger.Error("failed to close rows", "error", err)
		}
	}()

	approvals := make([]*models.WorkflowApproval, 0)

	for rows.Next() {
		row, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}

		approvals = append(approvals, row)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating approvals: %w", err)
	}

	return approvals, nil
}

func scanApproval(row rowScanner) (*models.WorkflowApproval, error) {
	approval := &models.WorkflowApproval{}

	var respondedAt sql.NullTime

	err := row.Scan(
		&approval.ID,
		&approval.TenantID,
		&approval.InstanceID,
		&approval.TransitionID,
		&approval.BatchID,
		&approval.Sequence,
		&approval.ApproverRole,
		&approval.ApproverID,
		&approval.Status,
		&approval.Comment,
		&respondedAt,
		&approval.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if respondedAt.Valid {
		approval.RespondedAt = &respondedAt.Time
	}

	return approval, nil
}
