package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukex/approvio/pkg/models"
	"github.com/dukex/approvio/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTenant = "tenant-1"

func testDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		TenantID:     testTenant,
		DocumentType: "invoice",
		Name:         "Invoice Approval",
		Active:       true,
		Statuses: []*models.WorkflowStatus{
			{Key: "draft", Label: "Draft", IsInitial: true},
			{Key: "paid", Label: "Paid", IsTerminal: true},
		},
		Transitions: []*models.WorkflowTransition{
			{ID: "t-pay", FromStatusKey: "draft", ToStatusKey: "paid", Label: "Pay", AllowedRoles: []string{"finance"}},
		},
	}
}

func createInstance(t *testing.T, p *Persistence, documentID int64) *models.WorkflowInstance {
	t.Helper()

	instance := &models.WorkflowInstance{
		ID:                   "inst-" + time.Now().Format("150405.000000000"),
		TenantID:             testTenant,
		DocumentType:         "invoice",
		DocumentID:           documentID,
		WorkflowDefinitionID: "def-1",
		CurrentStatusKey:     "draft",
	}

	initial := &models.WorkflowHistory{
		ID:          instance.ID + "-h0",
		TenantID:    testTenant,
		ToStatusKey: "draft",
		ActorID:     "user-1",
	}

	require.NoError(t, p.Instances().Create(context.Background(), instance, initial))

	return instance
}

func TestDefinitionRepository_SaveAndGet(t *testing.T) {
	p := NewPersistence()
	ctx := context.Background()

	definition := testDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))
	require.NotEmpty(t, definition.ID)
	assert.False(t, definition.CreatedAt.IsZero())

	loaded, err := p.Definitions().GetByID(ctx, testTenant, definition.ID)
	require.NoError(t, err)
	assert.Equal(t, definition.Name, loaded.Name)
	require.Len(t, loaded.Statuses, 2)

	// Stored copy is isolated from later caller mutation.
	loaded.Statuses[0].Key = "mutated"
	again, err := p.Definitions().GetByID(ctx, testTenant, definition.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", again.Statuses[0].Key)
}

func TestDefinitionRepository_TenantIsolation(t *testing.T) {
	p := NewPersistence()
	ctx := context.Background()

	definition := testDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))

	_, err := p.Definitions().GetByID(ctx, "other-tenant", definition.ID)
	require.Error(t, err)
	assert.True(t, persistence.IsDefinitionNotFound(err))

	definitions, err := p.Definitions().List(ctx, "other-tenant")
	require.NoError(t, err)
	assert.Empty(t, definitions)
}

func TestDefinitionRepository_ActiveByDocumentType(t *testing.T) {
	p := NewPersistence()
	ctx := context.Background()

	active := testDefinition()
	require.NoError(t, p.Definitions().Save(ctx, active))

	inactive := testDefinition()
	inactive.Active = false
	require.NoError(t, p.Definitions().Save(ctx, inactive))

	other := testDefinition()
	other.DocumentType = "expense"
	require.NoError(t, p.Definitions().Save(ctx, other))

	definitions, err := p.Definitions().ActiveByDocumentType(ctx, testTenant, "invoice")
	require.NoError(t, err)
	require.Len(t, definitions, 1)
	assert.Equal(t, active.ID, definitions[0].ID)
}

func TestDefinitionRepository_Delete(t *testing.T) {
	p := NewPersistence()
	ctx := context.Background()

	definition := testDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))
	require.NoError(t, p.Definitions().Delete(ctx, testTenant, definition.ID))

	_, err := p.Definitions().GetByID(ctx, testTenant, definition.ID)
	assert.True(t, persistence.IsDefinitionNotFound(err))

	// Deleting twice is not an error.
	require.NoError(t, p.Definitions().Delete(ctx, testTenant, definition.ID))
}

func TestInstanceRepository_CreateWithInitialHistory(t *testing.T) {
	p := NewPersistence()
	ctx := context.Background()

	instance := createInstance(t, p, 1)

	loaded, err := p.Instances().GetByID(ctx, testTenant, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", loaded.CurrentStatusKey)

	records, err := p.History().ListByInstance(ctx, testTenant, instance.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, instance.ID, records[0].InstanceID)
	assert.Equal(t, "draft", records[0].ToStatusKey)
}

func TestInstanceRepository_DuplicateDocument(t *testing.T) {
	p := NewPersistence()
	ctx := context.Background()

	createInstance(t, p, 7)

	duplicate := &models.WorkflowInstance{
		ID:               "inst-dup",
		TenantID:         testTenant,
		DocumentType:     "invoice",
		DocumentID:       7,
		CurrentStatusKey: "draft",
	}

	err := p.Instances().Create(ctx, duplicate, &models.WorkflowHistory{ID: "h-dup", TenantID: testTenant, ToStatusKey: "draft"})
	require.Error(t, err)
	assert.True(t, persistence.IsInstanceAlreadyExists(err))

	// Same document ID under another tenant is a different binding.
	foreign := &models.WorkflowInstance{
		ID:               "inst-foreign",
		TenantID:         "tenant-2",
		DocumentType:     "invoice",
		DocumentID:       7,
		CurrentStatusKey: "draft",
	}
	require.NoError(t, p.Instances().Create(ctx, foreign, &models.WorkflowHistory{ID: "h-f", TenantID: "tenant-2", ToStatusKey: "draft"}))
}

func TestInstanceRepository_GetByDocument(t *testing.T) {
	p := NewPersistence()
	ctx := context.Background()

	instance := createInstance(t, p, 3)

	loaded, err := p.Instances().GetByDocument(ctx, testTenant, "invoice", 3)
	require.NoError(t, err)
	assert.Equal(t, instance.ID, loaded.ID)

	_, err = p.Instances().GetByDocument(ctx, testTenant, "invoice", 99)
	assert.True(t, persistence.IsInstanceNotFound(err))
}

func TestInstanceLock_CommitsOnSuccess(t *testing.T) {
	p := NewPersistence()
	ctx := context.Background()

	instance := createInstance(t, p, 1)

	err := p.InstanceLock(ctx, testTenant, instance.ID, func(ctx context.Context, tx persistence.InstanceTx) error {
		if err := tx.UpdateStatus(ctx, "paid"); err != nil {
			return err
		}

		from := "draft"

		return tx.AppendHistory(ctx, &models.WorkflowHistory{
			ID:            "h-1",
			TenantID:      testTenant,
			InstanceID:    instance.ID,
			FromStatusKey: &from,
			ToStatusKey:   "paid",
			ActorID:       "user-1",
		})
	})
	require.NoError(t, err)

	loaded, err := p.Instances().GetByID(ctx, testTenant, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "paid", loaded.CurrentStatusKey)

	records, err := p.History().ListByInstance(ctx, testTenant, instance.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestInstanceLock_DiscardsOnFailure(t *testing.T) {
	p := NewPersistence()
	ctx := context.Background()

	instance := createInstance(t, p, 1)
	boom := errors.New("boom")

	err := p.InstanceLock(ctx, testTenant, instance.ID, func(ctx context.Context, tx persistence.InstanceTx) error {
		if err := tx.UpdateStatus(ctx, "paid"); err != nil {
			return err
		}

		if err := tx.AppendHistory(ctx, &models.WorkflowHistory{ID: "h-x", TenantID: testTenant, InstanceID: instance.ID, ToStatusKey: "paid"}); err != nil {
			return err
		}

		if err := tx.CreateApprovals(ctx, []*models.WorkflowApproval{{ID: "a-x", TenantID: testTenant, InstanceID: instance.ID, Status: models.ApprovalStatusPending}}); err != nil {
			return err
		}

		return boom
	})
	require.ErrorIs(t, err, boom)

	// None of the staged writes landed.
	loaded, err := p.Instances().GetByID(ctx, testTenant, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", loaded.CurrentStatusKey)

	records, err := p.History().ListByInstance(ctx, testTenant, instance.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = p.Approvals().GetByID(ctx, testTenant, "a-x")
	assert.True(t, persistence.IsApprovalNotFound(err))
}

func TestInstanceLock_StagedReads(t *testing.T) {
	p := NewPersistence()
	ctx := context.Background()

	instance := createInstance(t, p, 1)

	rows := []*models.WorkflowApproval{
		{ID: "a-1", TenantID: testTenant, InstanceID: instance.ID, BatchID: "b-1", Sequence: 0, Status: models.ApprovalStatusPending},
		{ID: "a-2", TenantID: testTenant, InstanceID: instance.ID, BatchID: "b-1", Sequence: 1, Status: models.ApprovalStatusPending},
	}

	err := p.InstanceLock(ctx, testTenant, instance.ID, func(ctx context.Context, tx persistence.InstanceTx) error {
		return tx.CreateApprovals(ctx, rows)
	})
	require.NoError(t, err)

	err = p.InstanceLock(ctx, testTenant, instance.ID, func(ctx context.Context, tx persistence.InstanceTx) error {
		row, err := tx.ApprovalByID(ctx, "a-1")
		require.NoError(t, err)

		row.Status = models.ApprovalStatusApproved
		require.NoError(t, tx.UpdateApproval(ctx, row))

		// The staged update is visible to reads within the same callback.
		reread, err := tx.ApprovalByID(ctx, "a-1")
		require.NoError(t, err)
		assert.Equal(t, models.ApprovalStatusApproved, reread.Status)

		batch, err := tx.Batch(ctx, "b-1")
		require.NoError(t, err)
		require.Len(t, batch, 2)
		assert.Equal(t, models.ApprovalStatusApproved, batch[0].Status)

		pending, err := tx.PendingApprovals(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "a-2", pending[0].ID)

		// Staged status change is visible through Instance too.
		require.NoError(t, tx.UpdateStatus(ctx, "paid"))
		current, err := tx.Instance(ctx)
		require.NoError(t, err)
		assert.Equal(t, "paid", current.CurrentStatusKey)

		return nil
	})
	require.NoError(t, err)

	row, err := p.Approvals().GetByID(ctx, testTenant, "a-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, row.Status)
}

func TestInstanceLock_UnknownInstance(t *testing.T) {
	p := NewPersistence()

	err := p.InstanceLock(context.Background(), testTenant, "missing", func(context.Context, persistence.InstanceTx) error {
		t.Fatal("callback must not run")

		return nil
	})
	require.Error(t, err)
	assert.True(t, persistence.IsInstanceNotFound(err))
}

func TestInstanceLock_SerializesCallbacks(t *testing.T) {
	p := NewPersistence()
	ctx := context.Background()

	instance := createInstance(t, p, 1)

	const workers = 10

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

				return tx.AppendHistory(ctx, &models.WorkflowHistory{
					TenantID:    testTenant,
					InstanceID:  current.ID,
					ToStatusKey: current.CurrentStatusKey,
				})
			})
		}()
	}

	wg.Wait()

	records, err := p.History().ListByInstance(ctx, testTenant, instance.ID)
	require.NoError(t, err)
	assert.Len(t, records, workers+1)
}

func TestApprovalRepository_ListPendingByApprover(t *testing.T) {
	p := NewPersistence()
	ctx := context.Background()

	instance := createInstance(t, p, 1)

	rows := []*models.WorkflowApproval{
		{ID: "a-1", TenantID: testTenant, InstanceID: instance.ID, BatchID: "b-1", Sequence: 0, ApproverID: "fin-1", Status: models.ApprovalStatusPending},
		{ID: "a-2", TenantID: testTenant, InstanceID: instance.ID, BatchID: "b-1", Sequence: 1, ApproverID: "fin-2", Status: models.ApprovalStatusApproved},
		{ID: "a-3", TenantID: testTenant, InstanceID: instance.ID, BatchID: "b-1", Sequence: 2, ApproverID: "fin-1", Status: models.ApprovalStatusPending},
	}

	err := p.InstanceLock(ctx, testTenant, instance.ID, func(ctx context.Context, tx persistence.InstanceTx) error {
		return tx.CreateApprovals(ctx, rows)
	})
	require.NoError(t, err)

	pending, err := p.Approvals().ListPendingByApprover(ctx, testTenant, "fin-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a-1", pending[0].ID)
	assert.Equal(t, "a-3", pending[1].ID)

	pending, err = p.Approvals().ListPendingByApprover(ctx, testTenant, "fin-2")
	require.NoError(t, err)
	assert.Empty(t, pending)
}
