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

// instanceTx implements persistence.InstanceTx over the transaction holding
// the instance's row lock.
type instanceTx struct {
	tx         *sql.Tx
	logger     *slog.Logger
	tenantID   string
	instanceID string
}

func (t *instanceTx) Instance(ctx context.Context) (*models.WorkflowInstance, error) {
	query := `
		SELECT id, tenant_id, document_type, document_id, workflow_definition_id, current_status_key, created_at, updated_at
		FROM workflow_instances
		WHERE id = $1 AND tenant_id = $2
	`

	instance, err := scanInstance(t.tx.QueryRowContext(ctx, query, t.instanceID, t.tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrInstanceNotFound
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	return instance, nil
}

func (t *instanceTx) UpdateStatus(ctx context.Context, statusKey string) error {
	query := `
		UPDATE workflow_instances
		SET current_status_key = $1, updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3
	`

	_, err := t.tx.ExecContext(ctx, query, statusKey, t.instanceID, t.tenantID)
	if err != nil {
		return fmt.Errorf("failed to update instance status: %w", err)
	}

	return nil
}

func (t *instanceTx) AppendHistory(ctx context.Context, record *models.WorkflowHistory) error {
	query := `
		INSERT INTO workflow_history (id, tenant_id, instance_id, from_status_key, to_status_key, actor_id, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := t.tx.ExecContext(ctx, query,
		record.ID,
		record.TenantID,
		record.InstanceID,
		record.FromStatusKey,
		record.ToStatusKey,
		record.ActorID,
		record.Comment,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append history record: %w", err)
	}

	return nil
}

func (t *instanceTx) CreateApprovals(ctx context.Context, rows []*models.WorkflowApproval) error {
	query := `
		INSERT INTO workflow_approvals (id, tenant_id, instance_id, transition_id, batch_id, sequence, approver_role, approver_id, status, comment, responded_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	for _, row := range rows {
		_, err := t.tx.ExecContext(ctx, query,
			row.ID,
			row.TenantID,
			row.InstanceID,
			row.TransitionID,
			row.BatchID,
			row.Sequence,
			row.ApproverRole,
			row.ApproverID,
			row.Status,
			row.Comment,
			row.RespondedAt,
			row.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert approval %q: %w", row.ID, err)
		}
	}

	return nil
}

func (t *instanceTx) UpdateApproval(ctx context.Context, row *models.WorkflowApproval) error {
	query := `
		UPDATE workflow_approvals
		SET status = $1, comment = $2, responded_at = $3
		WHERE id = $4 AND tenant_id = $5
	`

	_, err := t.tx.ExecContext(ctx, query, row.Status, row.Comment, row.RespondedAt, row.ID, t.tenantID)
	if err != nil {
		return fmt.Errorf("failed to update approval: %w", err)
	}

	return nil
}

func (t *instanceTx) ApprovalByID(ctx context.Context, id string) (*models.WorkflowApproval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM workflow_approvals
		WHERE id = $1 AND tenant_id = $2
	`

	row, err := scanApproval(t.tx.QueryRowContext(ctx, query, id, t.tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrApprovalNotFound
		}

		return nil, fmt.Errorf("failed to scan approval: %w", err)
	}

	return row, nil
}

func (t *instanceTx) Batch(ctx context.Context, batchID string) ([]*models.WorkflowApproval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM workflow_approvals
		WHERE tenant_id = $1 AND batch_id = $2
		ORDER BY sequence ASC
	`

	return queryApprovals(ctx, t.tx, t.logger, query, t.tenantID, batchID)
}

func (t *instanceTx) PendingApprovals(ctx context.Context) ([]*models.WorkflowApproval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM workflow_approvals
		WHERE tenant_id = $1 AND instance_id = $2 AND status = 'pending'
		ORDER BY sequence ASC
	`

	return queryApprovals(ctx, t.tx, t.logger, query, t.tenantID, t.instanceID)
}
