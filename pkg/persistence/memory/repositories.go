package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dukex/approvio/pkg/models"
	"github.com/dukex/approvio/pkg/persistence"
	"github.com/google/uuid"
)

type definitionRepository struct {
	p *Persistence
}

func (r *definitionRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	now := time.Now().UTC()

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return persistence.NewDefinitionError("Save", definition.TenantID, "", err)
		}

		definition.ID = id.String()
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	clone := cloneDefinition(definition)
	r.p.definitions[definition.ID] = clone

	return nil
}

func (r *definitionRepository) GetByID(_ context.Context, tenantID, id string) (*models.WorkflowDefinition, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	definition, exists := r.p.definitions[id]
	if !exists || definition.TenantID != tenantID || definition.DeletedAt != nil {
		return nil, persistence.NewDefinitionError("GetByID", tenantID, id, persistence.ErrDefinitionNotFound)
	}

	return cloneDefinition(definition), nil
}

func (r *definitionRepository) List(_ context.Context, tenantID string) ([]*models.WorkflowDefinition, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	definitions := make([]*models.WorkflowDefinition, 0)

	for _, definition := range r.p.definitions {
		if definition.TenantID != tenantID || definition.DeletedAt != nil {
			continue
		}

		definitions = append(definitions, cloneDefinition(definition))
	}

	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].CreatedAt.After(definitions[j].CreatedAt)
	})

	return definitions, nil
}

func (r *definitionRepository) ActiveByDocumentType(_ context.Context, tenantID, documentType string) ([]*models.WorkflowDefinition, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	definitions := make([]*models.WorkflowDefinition, 0)

	for _, definition := range r.p.definitions {
		if definition.TenantID != tenantID || definition.DocumentType != documentType {
			continue
		}

		if !definition.Active || definition.DeletedAt != nil {
			continue
		}

		definitions = append(definitions, cloneDefinition(definition))
	}

	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].CreatedAt.Before(definitions[j].CreatedAt)
	})

	return definitions, nil
}

func (r *definitionRepository) Delete(_ context.Context, tenantID, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	definition, exists := r.p.definitions[id]
	if !exists || definition.TenantID != tenantID || definition.DeletedAt != nil {
		// Definition doesn't exist or already deleted - this is not an error
		return nil
	}

	now := time.Now().UTC()
	definition.DeletedAt = &now

	return nil
}

type instanceRepository struct {
	p *Persistence
}

func (r *instanceRepository) Create(_ context.Context, instance *models.WorkflowInstance, initial *models.WorkflowHistory) error {
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

	initial.InstanceID = instance.ID

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	key := documentKey(instance.TenantID, instance.DocumentType, instance.DocumentID)
	if _, exists := r.p.documents[key]; exists {
		return persistence.NewInstanceError("Create", instance.TenantID, instance.ID, persistence.ErrInstanceAlreadyExists)
	}

	instanceClone := *instance
	r.p.instances[instance.ID] = &instanceClone
	r.p.documents[key] = instance.ID

	recordClone := *initial
	r.p.history[instance.ID] = append(r.p.history[instance.ID], &recordClone)

	return nil
}

func (r *instanceRepository) GetByID(_ context.Context, tenantID, id string) (*models.WorkflowInstance, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	instance, exists := r.p.instances[id]
	if !exists || instance.TenantID != tenantID {
		return nil, persistence.NewInstanceError("GetByID", tenantID, id, persistence.ErrInstanceNotFound)
	}

	clone := *instance

	return &clone, nil
}

func (r *instanceRepository) GetByDocument(_ context.Context, tenantID, documentType string, documentID int64) (*models.WorkflowInstance, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	id, exists := r.p.documents[documentKey(tenantID, documentType, documentID)]
	if !exists {
		return nil, persistence.NewInstanceError("GetByDocument", tenantID, "", persistence.ErrInstanceNotFound)
	}

	clone := *r.p.instances[id]

	return &clone, nil
}

type historyRepository struct {
	p *Persistence
}

func (r *historyRepository) ListByInstance(_ context.Context, tenantID, instanceID string) ([]*models.WorkflowHistory, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	records := make([]*models.WorkflowHistory, 0)

	for _, record := range r.p.history[instanceID] {
		if record.TenantID != tenantID {
			continue
		}

		clone := *record
		records = append(records, &clone)
	}

	return records, nil
}

type approvalRepository struct {
	p *Persistence
}

func (r *approvalRepository) GetByID(_ context.Context, tenantID, id string) (*models.WorkflowApproval, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	row, exists := r.p.approvals[id]
	if !exists || row.TenantID != tenantID {
		return nil, persistence.ErrApprovalNotFound
	}

	clone := *row

	return &clone, nil
}

func (r *approvalRepository) ListByInstance(_ context.Context, tenantID, instanceID string) ([]*models.WorkflowApproval, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	rows := make([]*models.WorkflowApproval, 0)

	for _, row := range r.p.approvals {
		if row.TenantID != tenantID || row.InstanceID != instanceID {
			continue
		}

		clone := *row
		rows = append(rows, &clone)
	}

	models.SortBatch(rows)

	return rows, nil
}

func (r *approvalRepository) ListPendingByApprover(_ context.Context, tenantID, approverID string) ([]*models.WorkflowApproval, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	rows := make([]*models.WorkflowApproval, 0)

	for _, row := range r.p.approvals {
		if row.TenantID != tenantID || row.ApproverID != approverID || !row.Pending() {
			continue
		}

		clone := *row
		rows = append(rows, &clone)
	}

	models.SortBatch(rows)

	return rows, nil
}

func cloneDefinition(definition *models.WorkflowDefinition) *models.WorkflowDefinition {
	clone := *definition

	clone.Statuses = make([]*models.WorkflowStatus, len(definition.Statuses))
	for i, status := range definition.Statuses {
		statusClone := *status
		clone.Statuses[i] = &statusClone
	}

	clone.Transitions = make([]*models.WorkflowTransition, len(definition.Transitions))
	for i, transition := range definition.Transitions {
		transitionClone := *transition
		transitionClone.AllowedRoles = append([]string(nil), transition.AllowedRoles...)
		transitionClone.ApproverRoles = append([]string(nil), transition.ApproverRoles...)
		clone.Transitions[i] = &transitionClone
	}

	return &clone
}
