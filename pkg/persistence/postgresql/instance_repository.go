package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/approvio/pkg/models"
	"github.com/dukex/approvio/pkg/persistence"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolationCode = "23505"

// InstanceRepository handles workflow instance database operations. Status
// mutation goes through InstanceLock; this repository only creates and reads.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

// Create persists the instance and its initialization history record in one
// transaction. The UNIQUE constraint on (tenant_id, document_type,
// document_id) makes concurrent creates for the same document lose cleanly.
func (r *InstanceRepository) Create(ctx context.Context, instance *models.WorkflowInstance, initial *models.WorkflowHistory) error {
	now := time.Now().UTC()

	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now

	if instance.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return persistence.NewInstanceError("Create", instance.TenantID, "", err)
		}

		instance.ID = id.String()
	}

	if initial.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return persistence.NewInstanceError("Create", instance.TenantID, instance.ID, err)
		}

		initial.ID = id.String()
	}

	initial.InstanceID = instance.ID

	if initial.CreatedAt.IsZero() {
		initial.CreatedAt = now
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	instanceQuery := `
		INSERT INTO workflow_instances (id, tenant_id, document_type, document_id, workflow_definition_id, current_status_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = tx.ExecContext(ctx, instanceQuery,
		instance.ID,
		instance.TenantID,
		instance.DocumentType,
		instance.DocumentID,
		instance.WorkflowDefinitionID,
		instance.CurrentStatusKey,
		instance.CreatedAt,
		instance.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolationCode {
			err = persistence.NewInstanceError("Create", instance.TenantID, instance.ID, persistence.ErrInstanceAlreadyExists)

			return err
		}

		return fmt.Errorf("failed to insert instance: %w", err)
	}

	historyQuery := `
		INSERT INTO workflow_history (id, tenant_id, instance_id, from_status_key, to_status_key, actor_id, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = tx.ExecContext(ctx, historyQuery,
		initial.ID,
		initial.TenantID,
		initial.InstanceID,
		initial.FromStatusKey,
		initial.ToStatusKey,
		initial.ActorID,
		initial.Comment,
		initial.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert initialization history: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit instance creation: %w", err)
	}

	return nil
}

// GetByID returns the instance by its ID.
func (r *InstanceRepository) GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowInstance, error) {
	query := `
		SELECT id, tenant_id, document_type, document_id, workflow_definition_id, current_status_key, created_at, updated_at
		FROM workflow_instances
		WHERE id = $1 AND tenant_id = $2
	`

	instance, err := scanInstance(r.db.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("GetByID", tenantID, id, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	return instance, nil
}

// GetByDocument returns the instance bound to the document.
func (r *InstanceRepository) GetByDocument(ctx context.Context, tenantID, documentType string, documentID int64) (*models.WorkflowInstance, error) {
	query := `
		SELECT id, tenant_id, document_type, document_id, workflow_definition_id, current_status_key, created_at, updated_at
		FROM workflow_instances
		WHERE tenant_id = $1 AND document_type = $2 AND document_id = $3
	`

	instance, err := scanInstance(r.db.QueryRowContext(ctx, query, tenantID, documentType, documentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("GetByDocument", tenantID, "", persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	return instance, nil
}

func scanInstance(row rowScanner) (*models.WorkflowInstance, error) {
	instance := &models.WorkflowInstance{}

	err := row.Scan(
		&instance.ID,
		&instance.TenantID,
		&instance.DocumentType,
		&instance.DocumentID,
		&instance.WorkflowDefinitionID,
		&instance.CurrentStatusKey,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return instance, nil
}
