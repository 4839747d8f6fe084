package models

import "time"

// WorkflowInstance is one live state-machine instance bound to exactly one
// (document type, document id) pair. CurrentStatusKey is mutated only by the
// engine's apply step, under the instance lock.
type WorkflowInstance struct {
	ID                   string    `json:"id"`
	TenantID             string    `json:"tenant_id"              validate:"required"`
	DocumentType         string    `json:"document_type"          validate:"required"`
	DocumentID           int64     `json:"document_id"            validate:"required"`
	WorkflowDefinitionID string    `json:"workflow_definition_id" validate:"required"`
	CurrentStatusKey     string    `json:"current_status_key"     validate:"required"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// WorkflowHistory is one append-only record of an executed transition or of
// instance initialization (FromStatusKey nil). Records are immutable once
// persisted; the storage layer rejects mutation.
type WorkflowHistory struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"   validate:"required"`
	InstanceID    string    `json:"instance_id" validate:"required"`
	FromStatusKey *string   `json:"from_status_key,omitempty"`
	ToStatusKey   string    `json:"to_status_key" validate:"required"`
	ActorID       string    `json:"actor_id"      validate:"required"`
	Comment       string    `json:"comment,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
