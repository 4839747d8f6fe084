// Package events defines event types and structures for workflow lifecycle notifications.
package events

import (
	"time"

	"github.com/dukex/approvio/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Kafka topic for engine events.
const Topic = "approvio.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	InstanceInitializedEvent EventType = "instance.initialized"
	TransitionAppliedEvent   EventType = "transition.applied"
	ApprovalRequestedEvent   EventType = "approval.requested"
	ApprovalResolvedEvent    EventType = "approval.resolved"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	TenantID   string         `json:"tenant_id"`
	InstanceID string         `json:"instance_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// InstanceInitialized is published after initialise creates an instance at
// the definition's initial status.
type InstanceInitialized struct {
	BaseEvent

	DefinitionID string `json:"definition_id"`
	DocumentType string `json:"document_type"`
	DocumentID   int64  `json:"document_id"`
	StatusKey    string `json:"status_key"`
	ActorID      string `json:"actor_id"`
}

func (e InstanceInitialized) GetType() EventType {
	return InstanceInitializedEvent
}

// TransitionApplied is published after a status change commits, whether the
// transition applied directly or through an approved batch.
type TransitionApplied struct {
	BaseEvent

	TransitionID  string `json:"transition_id"`
	FromStatusKey string `json:"from_status_key"`
	ToStatusKey   string `json:"to_status_key"`
	ActorID       string `json:"actor_id"`
	Comment       string `json:"comment,omitempty"`
}

func (e TransitionApplied) GetType() EventType {
	return TransitionAppliedEvent
}

// ApprovalRequested is published after a gated transition parks the instance
// and creates its approval batch.
type ApprovalRequested struct {
	BaseEvent

	TransitionID string   `json:"transition_id"`
	BatchID      string   `json:"batch_id"`
	ApprovalType string   `json:"approval_type"`
	ApproverIDs  []string `json:"approver_ids"`
	RequestedBy  string   `json:"requested_by"`
}

func (e ApprovalRequested) GetType() EventType {
	return ApprovalRequestedEvent
}

// ApprovalResolved is published once a batch reaches a terminal outcome.
type ApprovalResolved struct {
	BaseEvent

	TransitionID string                `json:"transition_id"`
	BatchID      string                `json:"batch_id"`
	Outcome      models.ApprovalStatus `json:"outcome"`
	ResolvedBy   string                `json:"resolved_by"`
	Comment      string                `json:"comment,omitempty"`
}

func (e ApprovalResolved) GetType() EventType {
	return ApprovalResolvedEvent
}

func NewBaseEvent(eventType EventType, tenantID, instanceID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		TenantID:   tenantID,
		InstanceID: instanceID,
		Metadata:   make(map[string]any),
	}
}
