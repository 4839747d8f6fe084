package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/approvio/pkg/models"
)

// HistoryRepository reads the append-only transition log. Writes happen only
// through InstanceTx; the database trigger rejects updates and deletes.
type HistoryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository(db *sql.DB, logger *slog.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

// ListByInstance returns the instance's history in chronological order.
func (r *HistoryRepository) ListByInstance(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowHistory, error) {
	query := `
		SELECT id, tenant_id, instance_id, from_status_key, to_status_key, actor_id, comment, created_at
		FROM workflow_history
		WHERE tenant_id = $1 AND instance_id = $2
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	records := make([]*models.WorkflowHistory, 0)

	for rows.Next() {
		record, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}

		records = append(records, record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return records, nil
}

func scanHistory(row rowScanner) (*models.WorkflowHistory, error) {
	record := &models.WorkflowHistory{}

	var fromStatus sql.NullString

	err := row.Scan(
		&record.ID,
		&record.TenantID,
		&record.InstanceID,
		&fromStatus,
		&record.ToStatusKey,
		&record.ActorID,
		&record.Comment,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if fromStatus.Valid {
		record.FromStatusKey = &fromStatus.String
	}

	return record, nil
}
