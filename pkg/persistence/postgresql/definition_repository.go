package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/approvio/pkg/models"
	"github.com/dukex/approvio/pkg/persistence"
	"github.com/google/uuid"
)

// DefinitionRepository handles workflow definition database operations. The
// statuses and transitions of a definition are replaced wholesale on save:
// a definition is one configuration document, not a set of independently
// editable rows.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(db *sql.DB, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{db: db, logger: logger}
}

// Save persists the definition with its statuses and transitions in one
// transaction.
func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	now := time.Now().UTC()

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate definition ID: %w", err)
		}

		definition.ID = id.String()
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

	definitionQuery := `
		INSERT INTO workflow_definitions (id, tenant_id, document_type, name, active, is_default, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			document_type = EXCLUDED.document_type,
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			is_default = EXCLUDED.is_default,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = tx.ExecContext(ctx, definitionQuery,
		definition.ID,
		definition.TenantID,
		definition.DocumentType,
		definition.Name,
		definition.Active,
		definition.IsDefault,
		definition.CreatedAt,
		definition.UpdatedAt,
		definition.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save definition base: %w", err)
	}

	// Replace statuses and transitions (for updates)
	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_transitions WHERE definition_id = $1", definition.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing transitions: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_statuses WHERE definition_id = $1", definition.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing statuses: %w", err)
	}

	statusQuery := `
		INSERT INTO workflow_statuses (definition_id, key, label, color, is_initial, is_terminal, display_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	for _, status := range definition.Statuses {
		_, err = tx.ExecContext(ctx, statusQuery,
			definition.ID,
			status.Key,
			status.Label,
			status.Color,
			status.IsInitial,
			status.IsTerminal,
			status.DisplayOrder,
		)
		if err != nil {
			return fmt.Errorf("failed to save status %q: %w", status.Key, err)
		}
	}

	transitionQuery := `
		INSERT INTO workflow_transitions (definition_id, id, from_status_key, to_status_key, label, allowed_roles, requires_approval, approval_type, approver_roles, display_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	for _, transition := range definition.Transitions {
		if transition.ID == "" {
			id, idErr := uuid.NewV7()
			if idErr != nil {
				err = fmt.Errorf("failed to generate transition ID: %w", idErr)

				return err
			}

			transition.ID = id.String()
		}

		allowedJSON, marshalErr := json.Marshal(transition.AllowedRoles)
		if marshalErr != nil {
			err = fmt.Errorf("failed to marshal allowed roles: %w", marshalErr)

			return err
		}

		approverJSON, marshalErr := json.Marshal(transition.ApproverRoles)
		if marshalErr != nil {
			err = fmt.Errorf("failed to marshal approver roles: %w", marshalErr)

			return err
		}

		_, err = tx.ExecContext(ctx, transitionQuery,
			definition.ID,
			transition.ID,
			transition.FromStatusKey,
			transition.ToStatusKey,
			transition.Label,
			allowedJSON,
			transition.RequiresApproval,
			transition.ApprovalType,
			approverJSON,
			transition.DisplayOrder,
		)
		if err != nil {
			return fmt.Errorf("failed to save transition %q: %w", transition.ID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit definition save: %w", err)
	}

	return nil
}

// GetByID returns the definition with its full graph.
func (r *DefinitionRepository) GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error) {
	query := `
		SELECT
			id
		  , tenant_id
		  , document_type
		  , name
		  , active
		  , is_default
		  , created_at
		  , updated_at
		  , deleted_at
		FROM workflow_definitions
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`

	definition, err := scanDefinition(r.db.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewDefinitionError("GetByID", tenantID, id, persistence.ErrDefinitionNotFound)
		}

		return nil, fmt.Errorf("failed to scan definition: %w", err)
	}

	err = r.loadGraph(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition graph: %w", err)
	}

	return definition, nil
}

// List returns all non-deleted definitions for the tenant.
func (r *DefinitionRepository) List(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT
			id
		  , tenant_id
		  , document_type
		  , name
		  , active
		  , is_default
		  , created_at
		  , updated_at
		  , deleted_at
		FROM workflow_definitions
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`

	return r.queryDefinitions(ctx, query, tenantID)
}

// ActiveByDocumentType returns the active definitions for the document type.
func (r *DefinitionRepository) ActiveByDocumentType(ctx context.Context, tenantID, documentType string) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT
			id
		  , tenant_id
		  , document_type
		  , name
		  , active
		  , is_default
		  , created_at
		  , updated_at
		  , deleted_at
		FROM workflow_definitions
		WHERE tenant_id = $1 AND document_type = $2 AND active AND deleted_at IS NULL
		ORDER BY created_at ASC
	`

	return r.queryDefinitions(ctx, query, tenantID, documentType)
}

// Delete soft deletes a definition by setting deleted_at.
func (r *DefinitionRepository) Delete(ctx context.Context, tenantID, id string) error {
	query := `
		UPDATE workflow_definitions
		SET deleted_at = NOW(), is_default = false, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`

	_, err := r.db.ExecContext(ctx, query, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete definition: %w", err)
	}

	return nil
}

func (r *DefinitionRepository) queryDefinitions(ctx context.Context, query string, args ...any) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}

		err = r.loadGraph(ctx, definition)
		if err != nil {
			return nil, fmt.Errorf("failed to load definition graph: %w", err)
		}

		definitions = append(definitions, definition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return definitions, nil
}

func (r *DefinitionRepository) loadGraph(ctx context.Context, definition *models.WorkflowDefinition) error {
	statusQuery := `
		SELECT key, label, color, is_initial, is_terminal, display_order
		FROM workflow_statuses
		WHERE definition_id = $1
		ORDER BY display_order, key
	`

	statusRows, err := r.db.QueryContext(ctx, statusQuery, definition.ID)
	if err != nil {
		return fmt.Errorf("failed to query statuses: %w", err)
	}

	defer func() {
		err := statusRows.Close()
		if err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	definition.Statuses = make([]*models.WorkflowStatus, 0)

	for statusRows.Next() {
		status := &models.WorkflowStatus{}

		err = statusRows.Scan(&status.Key, &status.Label, &status.Color, &status.IsInitial, &status.IsTerminal, &status.DisplayOrder)
		if err != nil {
			return fmt.Errorf("failed to scan status: %w", err)
		}

		definition.Statuses = append(definition.Statuses, status)
	}

	err = statusRows.Err()
	if err != nil {
		return fmt.Errorf("error iterating statuses: %w", err)
	}

	transitionQuery := `
		SELECT id, from_status_key, to_status_key, label, allowed_roles, requires_approval, approval_type, approver_roles, display_order
		FROM workflow_transitions
		WHERE definition_id = $1
		ORDER BY display_order, id
	`

	transitionRows, err := r.db.QueryContext(ctx, transitionQuery, definition.ID)
	if err != nil {
		return fmt.Errorf("failed to query transitions: %w", err)
	}

	defer func() {
		err := transitionRows.Close()
		if err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	definition.Transitions = make([]*models.WorkflowTransition, 0)

	for transitionRows.Next() {
		transition := &models.WorkflowTransition{}

		var allowedJSON, approverJSON []byte

		err = transitionRows.Scan(
			&transition.ID,
			&transition.FromStatusKey,
			&transition.ToStatusKey,
			&transition.Label,
			&allowedJSON,
			&transition.RequiresApproval,
			&transition.ApprovalType,
			&approverJSON,
			&transition.DisplayOrder,
		)
		if err != nil {
			return fmt.Errorf("failed to scan transition: %w", err)
		}

		err = json.Unmarshal(allowedJSON, &transition.AllowedRoles)
		if err != nil {
			return fmt.Errorf("failed to unmarshal allowed roles: %w", err)
		}

		err = json.Unmarshal(approverJSON, &transition.ApproverRoles)
		if err != nil {
			return fmt.Errorf("failed to unmarshal approver roles: %w", err)
		}

		definition.Transitions = append(definition.Transitions, transition)
	}

	err = transitionRows.Err()
	if err != nil {
		return fmt.Errorf("error iterating transitions: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	definition := &models.WorkflowDefinition{}

	var deletedAt sql.NullTime

	err := row.Scan(
		&definition.ID,
		&definition.TenantID,
		&definition.DocumentType,
		&definition.Name,
		&definition.Active,
		&definition.IsDefault,
		&definition.CreatedAt,
		&definition.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if deletedAt.Valid {
		definition.DeletedAt = &deletedAt.Time
	}

	return definition, nil
}
