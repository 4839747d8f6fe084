package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/approvio/pkg/models"
	"github.com/dukex/approvio/pkg/persistence"
	"github.com/dukex/approvio/pkg/persistence/postgresql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const testTenant = "tenant-1"

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// History carries a mutation-rejecting trigger, so drop tables rather
	// than deleting rows. Children first, parents last.
	for _, table := range []string{"workflow_approvals", "workflow_history", "workflow_instances", "workflow_transitions", "workflow_statuses", "workflow_definitions", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	_, err = db.ExecContext(ctx, "DROP FUNCTION IF EXISTS reject_history_mutation CASCADE")
	require.NoError(t, err)

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("approvio_test"),
			postgres.WithUsername("approvio"),
			postgres.WithPassword("approvio"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func testDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		TenantID:     testTenant,
		DocumentType: "purchase_order",
		Name:         "Purchase Order Approval",
		Active:       true,
		Statuses: []*models.WorkflowStatus{
			{Key: "draft", Label: "Draft", Color: "#999999", IsInitial: true, DisplayOrder: 0},
			{Key: "approved", Label: "Approved", Color: "#22cc22", DisplayOrder: 1},
			{Key: "closed", Label: "Closed", IsTerminal: true, DisplayOrder: 2},
		},
		Transitions: []*models.WorkflowTransition{
			{
				ID:               "t-submit",
				FromStatusKey:    "draft",
				ToStatusKey:      "approved",
				Label:            "Submit",
				AllowedRoles:     []string{"requester"},
				RequiresApproval: true,
				ApprovalType:     models.ApprovalTypeParallel,
				ApproverRoles:    []string{"finance", "legal"},
				DisplayOrder:     0,
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
}

func createInstance(t *testing.T, ctx context.Context, p *postgresql.Persistence, definitionID string, documentID int64) *models.WorkflowInstance {
	t.Helper()

	instance := &models.WorkflowInstance{
		TenantID:             testTenant,
		DocumentType:         "purchase_order",
		DocumentID:           documentID,
		WorkflowDefinitionID: definitionID,
		CurrentStatusKey:     "draft",
	}

	initial := &models.WorkflowHistory{
		TenantID:    testTenant,
		ToStatusKey: "draft",
		ActorID:     "user-1",
	}

	require.NoError(t, p.Instances().Create(ctx, instance, initial))

	return instance
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	for _, table := range []string{"workflow_definitions", "workflow_statuses", "workflow_transitions", "workflow_instances", "workflow_history", "workflow_approvals"} {
		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, table+" table should exist")
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT version FROM schema_migrations WHERE version = 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestDefinitionRepository_SaveAndRetrieve(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := testDefinition()

	err := p.Definitions().Save(ctx, definition)
	require.NoError(t, err)
	require.NotEmpty(t, definition.ID)
	assert.False(t, definition.CreatedAt.IsZero())

	retrieved, err := p.Definitions().GetByID(ctx, testTenant, definition.ID)
	require.NoError(t, err)

	assert.Equal(t, definition.Name, retrieved.Name)
	assert.Equal(t, definition.DocumentType, retrieved.DocumentType)
	require.Len(t, retrieved.Statuses, 3)
	require.Len(t, retrieved.Transitions, 2)

	assert.Equal(t, "draft", retrieved.Statuses[0].Key)
	assert.True(t, retrieved.Statuses[0].IsInitial)
	assert.True(t, retrieved.Statuses[2].IsTerminal)

	submit := retrieved.Transitions[0]
	assert.Equal(t, "t-submit", submit.ID)
	assert.Equal(t, []string{"requester"}, submit.AllowedRoles)
	assert.True(t, submit.RequiresApproval)
	assert.Equal(t, models.ApprovalTypeParallel, submit.ApprovalType)
	assert.Equal(t, []string{"finance", "legal"}, submit.ApproverRoles)

	// Non-existent definition
	_, err = p.Definitions().GetByID(ctx, testTenant, uuid.NewString())
	require.Error(t, err)
	assert.True(t, persistence.IsDefinitionNotFound(err))
}

func TestDefinitionRepository_Update(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := testDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))

	initialUpdatedAt := definition.UpdatedAt

	time.Sleep(10 * time.Millisecond)

	definition.Name = "Purchase Order Approval v2"
	definition.Statuses = append(definition.Statuses, &models.WorkflowStatus{
		Key: "on_hold", Label: "On Hold", DisplayOrder: 3,
	})
	require.NoError(t, p.Definitions().Save(ctx, definition))

	retrieved, err := p.Definitions().GetByID(ctx, testTenant, definition.ID)
	require.NoError(t, err)
	assert.Equal(t, "Purchase Order Approval v2", retrieved.Name)
	assert.Len(t, retrieved.Statuses, 4)
	assert.True(t, retrieved.UpdatedAt.After(initialUpdatedAt))
}

func TestDefinitionRepository_ActiveByDocumentType(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	active := testDefinition()
	require.NoError(t, p.Definitions().Save(ctx, active))

	inactive := testDefinition()
	inactive.Active = false
	require.NoError(t, p.Definitions().Save(ctx, inactive))

	definitions, err := p.Definitions().ActiveByDocumentType(ctx, testTenant, "purchase_order")
	require.NoError(t, err)
	require.Len(t, definitions, 1)
	assert.Equal(t, active.ID, definitions[0].ID)

	// Other tenants see nothing.
	definitions, err = p.Definitions().ActiveByDocumentType(ctx, "tenant-2", "purchase_order")
	require.NoError(t, err)
	assert.Empty(t, definitions)
}

func TestDefinitionRepository_SingleDefaultConstraint(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	first := testDefinition()
	first.IsDefault = true
	require.NoError(t, p.Definitions().Save(ctx, first))

	second := testDefinition()
	second.IsDefault = true
	err := p.Definitions().Save(ctx, second)
	require.Error(t, err, "two defaults for the same document type must be rejected")
}

func TestDefinitionRepository_Delete(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := testDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))
	require.NoError(t, p.Definitions().Delete(ctx, testTenant, definition.ID))

	_, err := p.Definitions().GetByID(ctx, testTenant, definition.ID)
	assert.True(t, persistence.IsDefinitionNotFound(err))

	// Deleting again is not an error.
	assert.NoError(t, p.Definitions().Delete(ctx, testTenant, definition.ID))
}

func TestInstanceRepository_CreateWithInitialHistory(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := testDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))

	instance := createInstance(t, ctx, p, definition.ID, 42)
	require.NotEmpty(t, instance.ID)

	retrieved, err := p.Instances().GetByID(ctx, testTenant, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", retrieved.CurrentStatusKey)
	assert.Equal(t, int64(42), retrieved.DocumentID)

	byDocument, err := p.Instances().GetByDocument(ctx, testTenant, "purchase_order", 42)
	require.NoError(t, err)
	assert.Equal(t, instance.ID, byDocument.ID)

	records, err := p.History().ListByInstance(ctx, testTenant, instance.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].FromStatusKey)
	assert.Equal(t, "draft", records[0].ToStatusKey)
}

func TestInstanceRepository_DuplicateDocument(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := testDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))

	createInstance(t, ctx, p, definition.ID, 7)

	duplicate := &models.WorkflowInstance{
		TenantID:             testTenant,
		DocumentType:         "purchase_order",
		DocumentID:           7,
		WorkflowDefinitionID: definition.ID,
		CurrentStatusKey:     "draft",
	}

	err := p.Instances().Create(ctx, duplicate, &models.WorkflowHistory{TenantID: testTenant, ToStatusKey: "draft", ActorID: "user-1"})
	require.Error(t, err)
	assert.True(t, persistence.IsInstanceAlreadyExists(err))

	// The failed create must not leave a history row behind.
	records, err := p.History().ListByInstance(ctx, testTenant, duplicate.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHistory_AppendOnly(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	definition := testDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))

	instance := createInstance(t, ctx, p, definition.ID, 1)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	_, err = db.ExecContext(ctx, "UPDATE workflow_history SET comment = 'tampered' WHERE instance_id = $1", instance.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = db.ExecContext(ctx, "DELETE FROM workflow_history WHERE instance_id = $1", instance.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")
}

func TestInstanceLock_CommitsAtomically(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := testDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))

	instance := createInstance(t, ctx, p, definition.ID, 1)

	err := p.InstanceLock(ctx, testTenant, instance.ID, func(ctx context.Context, tx persistence.InstanceTx) error {
		current, err := tx.Instance(ctx)
		if err != nil {
			return err
		}

		if err := tx.UpdateStatus(ctx, "approved"); err != nil {
			return err
		}

		from := current.CurrentStatusKey

		return tx.AppendHistory(ctx, &models.WorkflowHistory{
			ID:            uuid.NewString(),
			TenantID:      testTenant,
			InstanceID:    instance.ID,
			FromStatusKey: &from,
			ToStatusKey:   "approved",
			ActorID:       "user-1",
			CreatedAt:     time.Now().UTC(),
		})
	})
	require.NoError(t, err)

	retrieved, err := p.Instances().GetByID(ctx, testTenant, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "approved", retrieved.CurrentStatusKey)

	records, err := p.History().ListByInstance(ctx, testTenant, instance.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestInstanceLock_RollsBackOnError(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := testDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))

	instance := createInstance(t, ctx, p, definition.ID, 1)

	err := p.InstanceLock(ctx, testTenant, instance.ID, func(ctx context.Context, tx persistence.InstanceTx) error {
		if err := tx.UpdateStatus(ctx, "approved"); err != nil {
			return err
		}

		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	retrieved, err := p.Instances().GetByID(ctx, testTenant, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", retrieved.CurrentStatusKey)
}

func TestInstanceLock_UnknownInstance(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.InstanceLock(ctx, testTenant, uuid.NewString(), func(context.Context, persistence.InstanceTx) error {
		t.Fatal("callback must not run")

		return nil
	})
	require.Error(t, err)
	assert.True(t, persistence.IsInstanceNotFound(err))
}

func TestInstanceLock_SerializesWriters(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := testDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))

	instance := createInstance(t, ctx, p, definition.ID, 1)

	const workers = 5

	var wg sync.WaitGroup

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = p.InstanceLock(ctx, testTenant, instance.ID, func(ctx context.Context, tx persistence.InstanceTx) error {
				current, err := tx.Instance(ctx)
				if err != nil {
					return err
				}

				from := current.CurrentStatusKey

				return tx.AppendHistory(ctx, &models.WorkflowHistory{
					ID:            uuid.NewString(),
					TenantID:      testTenant,
					InstanceID:    instance.ID,
					FromStatusKey: &from,
					ToStatusKey:   current.CurrentStatusKey,
					ActorID:       "racer",
					CreatedAt:     time.Now().UTC(),
				})
			})
		}()
	}

	wg.Wait()

	records, err := p.History().ListByInstance(ctx, testTenant, instance.ID)
	require.NoError(t, err)
	assert.Len(t, records, workers+1)
}

func TestApprovalLedger_RoundTrip(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := testDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))

	instance := createInstance(t, ctx, p, definition.ID, 1)

	batchID := uuid.NewString()
	rows := []*models.WorkflowApproval{
		{
			ID:           uuid.NewString(),
			TenantID:     testTenant,
			InstanceID:   instance.ID,
			TransitionID: "t-submit",
			BatchID:      batchID,
			Sequence:     0,
			ApproverRole: "finance",
			ApproverID:   "fin-1",
			Status:       models.ApprovalStatusPending,
			CreatedAt:    time.Now().UTC(),
		},
		{
			ID:           uuid.NewString(),
			TenantID:     testTenant,
			InstanceID:   instance.ID,
			TransitionID: "t-submit",
			BatchID:      batchID,
			Sequence:     1,
			ApproverRole: "legal",
			ApproverID:   "leg-1",
			Status:       models.ApprovalStatusPending,
			CreatedAt:    time.Now().UTC(),
		},
	}

	err := p.InstanceLock(ctx, testTenant, instance.ID, func(ctx context.Context, tx persistence.InstanceTx) error {
		return tx.CreateApprovals(ctx, rows)
	})
	require.NoError(t, err)

	listed, err := p.Approvals().ListByInstance(ctx, testTenant, instance.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "fin-1", listed[0].ApproverID)

	pending, err := p.Approvals().ListPendingByApprover(ctx, testTenant, "leg-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rows[1].ID, pending[0].ID)

	// Respond and re-check through the transactional view.
	err = p.InstanceLock(ctx, testTenant, instance.ID, func(ctx context.Context, tx persistence.InstanceTx) error {
		row, err := tx.ApprovalByID(ctx, rows[0].ID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		row.Status = models.ApprovalStatusApproved
		row.Comment = "lgtm"
		row.RespondedAt = &now

		if err := tx.UpdateApproval(ctx, row); err != nil {
			return err
		}

		batch, err := tx.Batch(ctx, batchID)
		if err != nil {
			return err
		}

		require.Len(t, batch, 2)
		assert.Equal(t, models.ApprovalStatusApproved, batch[0].Status)

		remaining, err := tx.PendingApprovals(ctx)
		if err != nil {
			return err
		}

		require.Len(t, remaining, 1)
		assert.Equal(t, rows[1].ID, remaining[0].ID)

		return nil
	})
	require.NoError(t, err)

	updated, err := p.Approvals().GetByID(ctx, testTenant, rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, updated.Status)
	assert.Equal(t, "lgtm", updated.Comment)
	require.NotNil(t, updated.RespondedAt)

	// Mark the other row skipped, as batch resolution does: it must pass the
	// status constraint and drop out of the pending views.
	err = p.InstanceLock(ctx, testTenant, instance.ID, func(ctx context.Context, tx persistence.InstanceTx) error {
		row, err := tx.ApprovalByID(ctx, rows[1].ID)
		if err != nil {
			return err
		}

		row.Status = models.ApprovalStatusSkipped

		return tx.UpdateApproval(ctx, row)
	})
	require.NoError(t, err)

	skipped, err := p.Approvals().GetByID(ctx, testTenant, rows[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusSkipped, skipped.Status)

	pending, err = p.Approvals().ListPendingByApprover(ctx, testTenant, "leg-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}
