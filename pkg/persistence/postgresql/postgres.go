// Package postgresql provides PostgreSQL persistence for workflow
// definitions, instances, history, and the approval ledger.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/approvio/pkg/persistence"
	"github.com/dukex/approvio/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db             *sql.DB
	logger         *slog.Logger
	definitionRepo *DefinitionRepository
	instanceRepo   *InstanceRepository
	historyRepo    *HistoryRepository
	approvalRepo   *ApprovalRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs
// migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:             database,
		logger:         logger,
		definitionRepo: NewDefinitionRepository(database, logger),
		instanceRepo:   NewInstanceRepository(database, logger),
		historyRepo:    NewHistoryRepository(database, logger),
		approvalRepo:   NewApprovalRepository(database, logger),
	}

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

func (p *Persistence) Definitions() persistence.DefinitionRepository {
	return p.definitionRepo
}

func (p *Persistence) Instances() persistence.InstanceRepository {
	return p.instanceRepo
}

func (p *Persistence) History() persistence.HistoryRepository {
	return p.historyRepo
}

func (p *Persistence) Approvals() persistence.ApprovalRepository {
	return p.approvalRepo
}

// InstanceLock runs fn inside one transaction holding a row lock on the
// instance (SELECT ... FOR UPDATE). Concurrent callers on the same instance
// serialize at the row lock; all of fn's writes commit or roll back together.
func (p *Persistence) InstanceLock(ctx context.Context, tenantID, instanceID string, fn func(ctx context.Context, tx persistence.InstanceTx) error) error {
	transaction, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var lockedID string

	err = transaction.QueryRowContext(ctx,
		"SELECT id FROM workflow_instances WHERE id = $1 AND tenant_id = $2 FOR UPDATE",
		instanceID, tenantID,
	).Scan(&lockedID)
	if err != nil {
		_ = transaction.Rollback()

		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewInstanceError("InstanceLock", tenantID, instanceID, persistence.ErrInstanceNotFound)
		}

		return fmt.Errorf("failed to lock instance row: %w", err)
	}

	err = fn(ctx, &instanceTx{tx: transaction, logger: p.logger, tenantID: tenantID, instanceID: instanceID})
	if err != nil {
		_ = transaction.Rollback()

		return err
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit instance transaction: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}
