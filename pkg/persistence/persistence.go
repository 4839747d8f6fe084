// Package persistence provides data storage abstraction for workflow
// definitions, instances, history, and the approval ledger.
package persistence

import (
	"context"

	"github.com/dukex/approvio/pkg/models"
)

type Persistence interface {
	Definitions() DefinitionRepository
	Instances() InstanceRepository
	History() HistoryRepository
	Approvals() ApprovalRepository

	// InstanceLock runs fn while holding an exclusive lock on the instance
	// row identified by (tenantID, instanceID). Everything fn does through
	// the InstanceTx belongs to one atomic unit: either all writes commit or
	// none do. No other caller can interleave between fn's reads and writes
	// on the same instance.
	InstanceLock(ctx context.Context, tenantID, instanceID string, fn func(ctx context.Context, tx InstanceTx) error) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository stores the tenant-authored configuration tree.
// Definitions are read-only within engine operations and require no locking.
type DefinitionRepository interface {
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error)
	List(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error)
	// ActiveByDocumentType returns all active, non-deleted definitions for
	// the document type. Default-resolution policy lives in the engine.
	ActiveByDocumentType(ctx context.Context, tenantID, documentType string) ([]*models.WorkflowDefinition, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// InstanceRepository stores live state-machine instances. Status mutation
// happens only through InstanceTx under the instance lock.
type InstanceRepository interface {
	// Create persists the instance together with its initialization history
	// record in one atomic unit. Fails with ErrInstanceAlreadyExists when the
	// (tenant, document type, document id) binding is taken.
	Create(ctx context.Context, instance *models.WorkflowInstance, initial *models.WorkflowHistory) error
	GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowInstance, error)
	GetByDocument(ctx context.Context, tenantID, documentType string, documentID int64) (*models.WorkflowInstance, error)
}

// HistoryRepository is the append-only transition log. There is deliberately
// no update or delete: history rows are immutable once persisted and the
// storage layer rejects mutation.
type HistoryRepository interface {
	ListByInstance(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowHistory, error)
}

// ApprovalRepository reads the approval ledger. Writes happen only through
// InstanceTx under the instance lock.
type ApprovalRepository interface {
	GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowApproval, error)
	ListByInstance(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowApproval, error)
	ListPendingByApprover(ctx context.Context, tenantID, approverID string) ([]*models.WorkflowApproval, error)
}

// InstanceTx is the view handed to an InstanceLock callback. All reads see
// the locked row's current state; all writes join the surrounding atomic
// unit. A failed history append aborts the whole unit.
type InstanceTx interface {
	Instance(ctx context.Context) (*models.WorkflowInstance, error)
	UpdateStatus(ctx context.Context, statusKey string) error
	AppendHistory(ctx context.Context, record *models.WorkflowHistory) error
	CreateApprovals(ctx context.Context, rows []*models.WorkflowApproval) error
	UpdateApproval(ctx context.Context, row *models.WorkflowApproval) error
	ApprovalByID(ctx context.Context, id string) (*models.WorkflowApproval, error)
	Batch(ctx context.Context, batchID string) ([]*models.WorkflowApproval, error)
	PendingApprovals(ctx context.Context) ([]*models.WorkflowApproval, error)
}
