// Package memory provides an in-memory persistence implementation for tests
// and local development. It honors the same atomicity contract as the SQL
// backends: InstanceLock callbacks stage their writes and apply them only if
// the callback succeeds, under a per-instance exclusive lock.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dukex/approvio/pkg/models"
	"github.com/dukex/approvio/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface in memory.
type Persistence struct {
	mu sync.RWMutex

	definitions map[string]*models.WorkflowDefinition
	instances   map[string]*models.WorkflowInstance
	documents   map[string]string // (tenant, docType, docID) -> instance ID
	history     map[string][]*models.WorkflowHistory
	approvals   map[string]*models.WorkflowApproval

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewPersistence creates an empty in-memory persistence layer.
func NewPersistence() *Persistence {
	return &Persistence{
		definitions: make(map[string]*models.WorkflowDefinition),
		instances:   make(map[string]*models.WorkflowInstance),
		documents:   make(map[string]string),
		history:     make(map[string][]*models.WorkflowHistory),
		approvals:   make(map[string]*models.WorkflowApproval),
		locks:       make(map[string]*sync.Mutex),
	}
}

func (p *Persistence) Definitions() persistence.DefinitionRepository {
	return &definitionRepository{p: p}
}

func (p *Persistence) Instances() persistence.InstanceRepository {
	return &instanceRepository{p: p}
}

func (p *Persistence) History() persistence.HistoryRepository {
	return &historyRepository{p: p}
}

func (p *Persistence) Approvals() persistence.ApprovalRepository {
	return &approvalRepository{p: p}
}

// HealthCheck always succeeds for the in-memory store.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

// Close performs any necessary cleanup. Nothing to release in memory.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func documentKey(tenantID, documentType string, documentID int64) string {
	return tenantID + "/" + documentType + "/" + strconv.FormatInt(documentID, 10)
}

func (p *Persistence) instanceMutex(tenantID, instanceID string) *sync.Mutex {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()

	key := tenantID + "/" + instanceID

	lock, exists := p.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		p.locks[key] = lock
	}

	return lock
}

// InstanceLock runs fn under the instance's exclusive mutex. Writes made
// through the transaction are staged and applied only if fn returns nil.
func (p *Persistence) InstanceLock(ctx context.Context, tenantID, instanceID string, fn func(ctx context.Context, tx persistence.InstanceTx) error) error {
	lock := p.instanceMutex(tenantID, instanceID)
	lock.Lock()
	defer lock.Unlock()

	p.mu.RLock()
	instance, exists := p.instances[instanceID]

	if !exists || instance.TenantID != tenantID {
		p.mu.RUnlock()

		return persistence.NewInstanceError("InstanceLock", tenantID, instanceID, persistence.ErrInstanceNotFound)
	}

	p.mu.RUnlock()

	tx := &instanceTx{
		p:                p,
		tenantID:         tenantID,
		instanceID:       instanceID,
		updatedApprovals: make(map[string]*models.WorkflowApproval),
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	tx.apply()

	return nil
}

// instanceTx stages writes for one InstanceLock callback.
type instanceTx struct {
	p          *Persistence
	tenantID   string
	instanceID string

	pendingStatus    *string
	pendingHistory   []*models.WorkflowHistory
	createdApprovals []*models.WorkflowApproval
	updatedApprovals map[string]*models.WorkflowApproval
}

func (tx *instanceTx) Instance(_ context.Context) (*models.WorkflowInstance, error) {
	tx.p.mu.RLock()
	defer tx.p.mu.RUnlock()

	instance, exists := tx.p.instances[tx.instanceID]
	if !exists || instance.TenantID != tx.tenantID {
		return nil, persistence.ErrInstanceNotFound
	}

	clone := *instance
	if tx.pendingStatus != nil {
		clone.CurrentStatusKey = *tx.pendingStatus
	}

	return &clone, nil
}

func (tx *instanceTx) UpdateStatus(_ context.Context, statusKey string) error {
	tx.pendingStatus = &statusKey

	return nil
}

func (tx *instanceTx) AppendHistory(_ context.Context, record *models.WorkflowHistory) error {
	clone := *record
	tx.pendingHistory = append(tx.pendingHistory, &clone)

	return nil
}

func (tx *instanceTx) CreateApprovals(_ context.Context, rows []*models.WorkflowApproval) error {
	for _, row := range rows {
		clone := *row
		tx.createdApprovals = append(tx.createdApprovals, &clone)
	}

	return nil
}

func (tx *instanceTx) UpdateApproval(_ context.Context, row *models.WorkflowApproval) error {
	clone := *row
	tx.updatedApprovals[row.ID] = &clone

	return nil
}

func (tx *instanceTx) ApprovalByID(_ context.Context, id string) (*models.WorkflowApproval, error) {
	if staged, exists := tx.updatedApprovals[id]; exists {
		clone := *staged

		return &clone, nil
	}

	tx.p.mu.RLock()
	defer tx.p.mu.RUnlock()

	row, exists := tx.p.approvals[id]
	if !exists || row.TenantID != tx.tenantID {
		return nil, persistence.ErrApprovalNotFound
	}

	clone := *row

	return &clone, nil
}

func (tx *instanceTx) Batch(_ context.Context, batchID string) ([]*models.WorkflowApproval, error) {
	tx.p.mu.RLock()
	defer tx.p.mu.RUnlock()

	rows := make([]*models.WorkflowApproval, 0)

	for _, row := range tx.p.approvals {
		if row.TenantID != tx.tenantID || row.BatchID != batchID {
			continue
		}

		if staged, exists := tx.updatedApprovals[row.ID]; exists {
			clone := *staged
			rows = append(rows, &clone)

			continue
		}

		clone := *row
		rows = append(rows, &clone)
	}

	models.SortBatch(rows)

	return rows, nil
}

func (tx *instanceTx) PendingApprovals(_ context.Context) ([]*models.WorkflowApproval, error) {
	tx.p.mu.RLock()
	defer tx.p.mu.RUnlock()

	rows := make([]*models.WorkflowApproval, 0)

	for _, row := range tx.p.approvals {
		if row.TenantID != tx.tenantID || row.InstanceID != tx.instanceID {
			continue
		}

		effective := row
		if staged, exists := tx.updatedApprovals[row.ID]; exists {
			effective = staged
		}

		if !effective.Pending() {
			continue
		}

		clone := *effective
		rows = append(rows, &clone)
	}

	models.SortBatch(rows)

	return rows, nil
}

func (tx *instanceTx) apply() {
	tx.p.mu.Lock()
	defer tx.p.mu.Unlock()

	if tx.pendingStatus != nil {
		instance := tx.p.instances[tx.instanceID]
		instance.CurrentStatusKey = *tx.pendingStatus
		instance.UpdatedAt = time.Now().UTC()
	}

	tx.p.history[tx.instanceID] = append(tx.p.history[tx.instanceID], tx.pendingHistory...)

	for _, row := range tx.createdApprovals {
		tx.p.approvals[row.ID] = row
	}

	for id, row := range tx.updatedApprovals {
		tx.p.approvals[id] = row
	}
}
