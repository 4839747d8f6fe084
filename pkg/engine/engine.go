// Package engine implements the tenant-configurable approval workflow engine:
// a data-driven finite-state machine whose states, edges, and authorization
// rules are loaded per tenant at call time. The engine guarantees no silent
// invalid transitions, no lost approvals, and no double-application of a
// transition under concurrent actors.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dukex/approvio/pkg/eventbus"
	"github.com/dukex/approvio/pkg/events"
	"github.com/dukex/approvio/pkg/models"
	"github.com/dukex/approvio/pkg/otelhelper"
	"github.com/dukex/approvio/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RoleDirectory resolves role identifiers to the concrete users holding them
// within a tenant. It is implemented by the surrounding application's
// identity layer; the engine only consumes it at approval-batch creation.
type RoleDirectory interface {
	UsersInRole(ctx context.Context, tenantID, role string) ([]string, error)
}

// Engine exposes initialise, availableTransitions, transition, and
// respondToApproval. It always re-reads configuration from persistence, so
// tenant edits made between calls take effect immediately.
type Engine struct {
	persistence persistence.Persistence
	directory   RoleDirectory
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
}

// New creates an engine. A nil tracer falls back to the global provider.
func New(
	p persistence.Persistence,
	directory RoleDirectory,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	tracer trace.Tracer,
) *Engine {
	if tracer == nil {
		tracer = otel.Tracer("approvio.engine")
	}

	return &Engine{
		persistence: p,
		directory:   directory,
		publisher:   publisher,
		logger:      logger,
		tracer:      tracer,
	}
}

// TransitionResult is the outcome of a Transition call: either the transition
// applied directly (Applied set) or it is gated and an approval batch was
// created (Approvals set). Exactly one of the two is non-empty.
type TransitionResult struct {
	Applied   *models.WorkflowHistory   `json:"applied,omitempty"`
	Approvals []*models.WorkflowApproval `json:"approvals,omitempty"`
}

// ApprovalDecision is the outcome of a RespondToApproval call. Applied is set
// only when the response resolved the batch as approved and the underlying
// transition was applied.
type ApprovalDecision struct {
	Approval *models.WorkflowApproval `json:"approval"`
	Outcome  BatchOutcome             `json:"outcome"`
	Applied  *models.WorkflowHistory  `json:"applied,omitempty"`
}

// Initialize resolves the tenant's default (or sole) active definition for
// the document type, creates an instance at its initial status, and appends
// the initialization history record.
func (e *Engine) Initialize(ctx context.Context, actor *models.Actor, documentType string, documentID int64) (*models.WorkflowInstance, error) {
	const op = "Initialize"

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.initialize",
		attribute.String(otelhelper.TenantIDKey, actor.TenantID),
		attribute.String(otelhelper.DocumentTypeKey, documentType),
		attribute.Int64(otelhelper.DocumentIDKey, documentID),
	)
	defer span.End()

	definition, err := e.resolveDefinition(ctx, actor.TenantID, documentType)
	if err != nil {
		return nil, e.fail(span, op, actor.TenantID, "", err)
	}

	initial, err := definition.InitialStatus()
	if err != nil {
		return nil, e.fail(span, op, actor.TenantID, "", fmt.Errorf("%w: %s", ErrConfiguration, err))
	}

	now := time.Now().UTC()

	instanceID, err := newID()
	if err != nil {
		return nil, e.fail(span, op, actor.TenantID, "", err)
	}

	recordID, err := newID()
	if err != nil {
		return nil, e.fail(span, op, actor.TenantID, "", err)
	}

	instance := &models.WorkflowInstance{
		ID:                   instanceID,
		TenantID:             actor.TenantID,
		DocumentType:         documentType,
		DocumentID:           documentID,
		WorkflowDefinitionID: definition.ID,
		CurrentStatusKey:     initial.Key,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	record := &models.WorkflowHistory{
		ID:          recordID,
		TenantID:    actor.TenantID,
		InstanceID:  instance.ID,
		ToStatusKey: initial.Key,
		ActorID:     actor.ID,
		CreatedAt:   now,
	}

	err = e.persistence.Instances().Create(ctx, instance, record)
	if err != nil {
		if persistence.IsInstanceAlreadyExists(err) {
			err = fmt.Errorf("%w: %s #%d", ErrDuplicateInstance, documentType, documentID)
		}

		return nil, e.fail(span, op, actor.TenantID, instance.ID, err)
	}

	e.publish(ctx, instance.ID, events.InstanceInitialized{
		BaseEvent:    events.NewBaseEvent(events.InstanceInitializedEvent, actor.TenantID, instance.ID),
		DefinitionID: definition.ID,
		DocumentType: documentType,
		DocumentID:   documentID,
		StatusKey:    initial.Key,
		ActorID:      actor.ID,
	})

	e.logger.InfoContext(ctx, "workflow instance initialized",
		"tenant_id", actor.TenantID,
		"instance_id", instance.ID,
		"document_type", documentType,
		"status", initial.Key,
	)

	return instance, nil
}

// AvailableTransitions returns the transitions leaving the instance's current
// status that the actor's roles permit. Pure query: safe to call repeatedly
// for UI rendering. Instances at a terminal status naturally yield an empty
// list because terminal statuses have no outgoing transitions.
func (e *Engine) AvailableTransitions(ctx context.Context, actor *models.Actor, instanceID string) ([]*models.WorkflowTransition, error) {
	const op = "AvailableTransitions"

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.available_transitions",
		attribute.String(otelhelper.TenantIDKey, actor.TenantID),
		attribute.String(otelhelper.InstanceIDKey, instanceID),
	)
	defer span.End()

	instance, definition, err := e.loadInstanceConfiguration(ctx, actor.TenantID, instanceID)
	if err != nil {
		return nil, e.fail(span, op, actor.TenantID, instanceID, err)
	}

	available := make([]*models.WorkflowTransition, 0)

	for _, transition := range definition.TransitionsFrom(instance.CurrentStatusKey) {
		if actor.HasAnyRole(transition.AllowedRoles) {
			available = append(available, transition)
		}
	}

	sort.SliceStable(available, func(i, j int) bool {
		return available[i].DisplayOrder < available[j].DisplayOrder
	})

	return available, nil
}

// Transition attempts one transition on behalf of the actor. Validation,
// status change, and history append run as one atomic unit under the
// instance lock; for gated transitions the approval batch is created instead
// and the status is left unchanged.
func (e *Engine) Transition(ctx context.Context, actor *models.Actor, instanceID, transitionID, comment string) (*TransitionResult, error) {
	const op = "Transition"

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.transition",
		attribute.String(otelhelper.TenantIDKey, actor.TenantID),
		attribute.String(otelhelper.InstanceIDKey, instanceID),
		attribute.String(otelhelper.TransitionIDKey, transitionID),
	)
	defer span.End()

	_, definition, err := e.loadInstanceConfiguration(ctx, actor.TenantID, instanceID)
	if err != nil {
		return nil, e.fail(span, op, actor.TenantID, instanceID, err)
	}

	transition, err := definition.TransitionByID(transitionID)
	if err != nil {
		// Transition removed or disabled since the caller rendered it.
		return nil, e.fail(span, op, actor.TenantID, instanceID,
			fmt.Errorf("%w: transition %q no longer configured", ErrInvalidTransition, transitionID))
	}

	var batch []*models.WorkflowApproval

	if transition.RequiresApproval {
		// Directory calls are external I/O, so approvers resolve before
		// the critical section.
		batch, err = e.buildApprovalBatch(ctx, actor.TenantID, instanceID, transition)
		if err != nil {
			return nil, e.fail(span, op, actor.TenantID, instanceID, err)
		}
	}

	result := &TransitionResult{}

	err = e.persistence.InstanceLock(ctx, actor.TenantID, instanceID, func(ctx context.Context, tx persistence.InstanceTx) error {
		current, err := tx.Instance(ctx)
		if err != nil {
			return err
		}

		if transition.FromStatusKey != current.CurrentStatusKey {
			return fmt.Errorf("%w: transition starts at %q but instance is at %q",
				ErrInvalidTransition, transition.FromStatusKey, current.CurrentStatusKey)
		}

		if !actor.HasAnyRole(transition.AllowedRoles) {
			return fmt.Errorf("%w: actor %q lacks roles %v", ErrUnauthorizedTransition, actor.ID, transition.AllowedRoles)
		}

		if !transition.RequiresApproval {
			record, err := e.applyTransition(ctx, tx, current, transition, actor.ID, comment)
			if err != nil {
				return err
			}

			result.Applied = record

			return nil
		}

		pending, err := tx.PendingApprovals(ctx)
		if err != nil {
			return err
		}

		if len(pending) > 0 {
			return fmt.Errorf("%w: batch %s unresolved", ErrApprovalPending, pending[0].BatchID)
		}

		if err := tx.CreateApprovals(ctx, batch); err != nil {
			return err
		}

		result.Approvals = batch

		return nil
	})
	if err != nil {
		return nil, e.fail(span, op, actor.TenantID, instanceID, err)
	}

	if result.Applied != nil {
		e.publishApplied(ctx, actor.TenantID, instanceID, transition, result.Applied)
	} else {
		approverIDs := make([]string, 0, len(result.Approvals))
		for _, row := range result.Approvals {
			approverIDs = append(approverIDs, row.ApproverID)
		}

		e.publish(ctx, instanceID, events.ApprovalRequested{
			BaseEvent:    events.NewBaseEvent(events.ApprovalRequestedEvent, actor.TenantID, instanceID),
			TransitionID: transition.ID,
			BatchID:      result.Approvals[0].BatchID,
			ApprovalType: string(transition.ApprovalType),
			ApproverIDs:  approverIDs,
			RequestedBy:  actor.ID,
		})
	}

	return result, nil
}

// RespondToApproval records the actor's decision on a pending approval row,
// evaluates the batch's resolution policy, and applies or rejects the
// underlying transition when the batch resolves. Recording, evaluation, and
// apply run under the instance lock, so exactly one response performs the
// apply even when the final two land simultaneously.
func (e *Engine) RespondToApproval(ctx context.Context, actor *models.Actor, approvalID string, decision models.ApprovalStatus, comment string) (*ApprovalDecision, error) {
	const op = "RespondToApproval"

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.respond_to_approval",
		attribute.String(otelhelper.TenantIDKey, actor.TenantID),
		attribute.String(otelhelper.ApprovalIDKey, approvalID),
	)
	defer span.End()

	if decision != models.ApprovalStatusApproved && decision != models.ApprovalStatusRejected {
		return nil, e.fail(span, op, actor.TenantID, "", fmt.Errorf("%w: %q", ErrInvalidDecision, decision))
	}

	row, err := e.persistence.Approvals().GetByID(ctx, actor.TenantID, approvalID)
	if err != nil {
		return nil, e.fail(span, op, actor.TenantID, "", err)
	}

	_, definition, err := e.loadInstanceConfiguration(ctx, actor.TenantID, row.InstanceID)
	if err != nil {
		return nil, e.fail(span, op, actor.TenantID, row.InstanceID, err)
	}

	transition, err := definition.TransitionByID(row.TransitionID)
	if err != nil {
		return nil, e.fail(span, op, actor.TenantID, row.InstanceID,
			fmt.Errorf("%w: transition %q removed while approval pending", ErrConfiguration, row.TransitionID))
	}

	outcome := &ApprovalDecision{Outcome: BatchPending}

	err = e.persistence.InstanceLock(ctx, actor.TenantID, row.InstanceID, func(ctx context.Context, tx persistence.InstanceTx) error {
		row, err := tx.ApprovalByID(ctx, approvalID)
		if err != nil {
			return err
		}

		if !row.Pending() {
			return fmt.Errorf("%w: approval %s is %s", ErrAlreadyResponded, row.ID, row.Status)
		}

		if row.ApproverID != actor.ID {
			return fmt.Errorf("%w: approval %s belongs to %q", ErrUnauthorizedApproval, row.ID, row.ApproverID)
		}

		batch, err := tx.Batch(ctx, row.BatchID)
		if err != nil {
			return err
		}

		if transition.ApprovalType == models.ApprovalTypeSequential {
			next := nextInSequence(batch)
			if next == nil || next.ID != row.ID {
				return fmt.Errorf("%w: approval %s is not next in batch %s", ErrOutOfSequence, row.ID, row.BatchID)
			}
		}

		now := time.Now().UTC()
		row.Status = decision
		row.Comment = comment
		row.RespondedAt = &now

		if err := tx.UpdateApproval(ctx, row); err != nil {
			return err
		}

		for i, member := range batch {
			if member.ID == row.ID {
				batch[i] = row
			}
		}

		resolved, err := resolveBatch(transition.ApprovalType, batch)
		if err != nil {
			return err
		}

		outcome.Approval = row
		outcome.Outcome = resolved

		if resolved != BatchPending {
			// The batch is resolved: remaining pending rows are moot. Mark
			// them skipped in the same atomic unit so they never gate a
			// re-requested transition or accept a late response.
			for _, member := range batch {
				if member.ID == row.ID || !member.Pending() {
					continue
				}

				member.Status = models.ApprovalStatusSkipped

				if err := tx.UpdateApproval(ctx, member); err != nil {
					return err
				}
			}
		}

		switch resolved {
		case BatchApproved:
			current, err := tx.Instance(ctx)
			if err != nil {
				return err
			}

			// The instance may have moved (or the definition changed)
			// while the batch was pending. Never apply a stale edge.
			if transition.FromStatusKey != current.CurrentStatusKey {
				return fmt.Errorf("%w: batch approved for %q -> %q but instance is at %q",
					ErrInvalidTransition, transition.FromStatusKey, transition.ToStatusKey, current.CurrentStatusKey)
			}

			record, err := e.applyTransition(ctx, tx, current, transition, actor.ID, comment)
			if err != nil {
				return err
			}

			outcome.Applied = record
		case BatchRejected:
			current, err := tx.Instance(ctx)
			if err != nil {
				return err
			}

			recordID, err := newID()
			if err != nil {
				return err
			}

			// Rejection is a valid terminal outcome, not an error: record a
			// no-op history row at the current status.
			from := current.CurrentStatusKey
			record := &models.WorkflowHistory{
				ID:            recordID,
				TenantID:      current.TenantID,
				InstanceID:    current.ID,
				FromStatusKey: &from,
				ToStatusKey:   current.CurrentStatusKey,
				ActorID:       actor.ID,
				Comment:       comment,
				CreatedAt:     time.Now().UTC(),
			}

			if err := tx.AppendHistory(ctx, record); err != nil {
				return err
			}
		case BatchPending:
		}

		return nil
	})
	if err != nil {
		return nil, e.fail(span, op, actor.TenantID, row.InstanceID, err)
	}

	if outcome.Outcome != BatchPending {
		e.publish(ctx, row.InstanceID, events.ApprovalResolved{
			BaseEvent:    events.NewBaseEvent(events.ApprovalResolvedEvent, actor.TenantID, row.InstanceID),
			TransitionID: transition.ID,
			BatchID:      row.BatchID,
			Outcome:      models.ApprovalStatus(outcome.Outcome),
			ResolvedBy:   actor.ID,
			Comment:      comment,
		})
	}

	if outcome.Applied != nil {
		e.publishApplied(ctx, actor.TenantID, row.InstanceID, transition, outcome.Applied)
	}

	return outcome, nil
}

// applyTransition performs the atomic status change and history append.
// Callers hold the instance lock.
func (e *Engine) applyTransition(
	ctx context.Context,
	tx persistence.InstanceTx,
	current *models.WorkflowInstance,
	transition *models.WorkflowTransition,
	actorID, comment string,
) (*models.WorkflowHistory, error) {
	if err := tx.UpdateStatus(ctx, transition.ToStatusKey); err != nil {
		return nil, err
	}

	recordID, err := newID()
	if err != nil {
		return nil, err
	}

	from := current.CurrentStatusKey
	record := &models.WorkflowHistory{
		ID:            recordID,
		TenantID:      current.TenantID,
		InstanceID:    current.ID,
		FromStatusKey: &from,
		ToStatusKey:   transition.ToStatusKey,
		ActorID:       actorID,
		Comment:       comment,
		CreatedAt:     time.Now().UTC(),
	}

	// A failed history append aborts the whole unit: the log must never
	// miss an applied transition.
	if err := tx.AppendHistory(ctx, record); err != nil {
		return nil, err
	}

	return record, nil
}

// buildApprovalBatch resolves approver roles to concrete users and builds
// the ledger rows. Sequence follows the transition's approver_roles order,
// then the directory's user order within each role.
func (e *Engine) buildApprovalBatch(ctx context.Context, tenantID, instanceID string, transition *models.WorkflowTransition) ([]*models.WorkflowApproval, error) {
	batchID, err := newID()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	rows := make([]*models.WorkflowApproval, 0)
	seen := make(map[string]bool)
	sequence := 0

	for _, role := range transition.ApproverRoles {
		approvers, err := e.directory.UsersInRole(ctx, tenantID, role)
		if err != nil {
			return nil, fmt.Errorf("resolving approvers for role %q: %w", role, err)
		}

		for _, approverID := range approvers {
			if seen[approverID] {
				continue
			}

			seen[approverID] = true

			rowID, err := newID()
			if err != nil {
				return nil, err
			}

			rows = append(rows, &models.WorkflowApproval{
				ID:           rowID,
				TenantID:     tenantID,
				InstanceID:   instanceID,
				TransitionID: transition.ID,
				BatchID:      batchID,
				Sequence:     sequence,
				ApproverRole: role,
				ApproverID:   approverID,
				Status:       models.ApprovalStatusPending,
				CreatedAt:    now,
			})

			sequence++
		}
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no approvers resolved for roles %v", ErrConfiguration, transition.ApproverRoles)
	}

	return rows, nil
}

// loadInstanceConfiguration loads the instance and its definition, and
// re-validates the graph defensively: configuration may have changed since
// the last call and the engine never trusts cached state.
func (e *Engine) loadInstanceConfiguration(ctx context.Context, tenantID, instanceID string) (*models.WorkflowInstance, *models.WorkflowDefinition, error) {
	instance, err := e.persistence.Instances().GetByID(ctx, tenantID, instanceID)
	if err != nil {
		return nil, nil, err
	}

	definition, err := e.persistence.Definitions().GetByID(ctx, tenantID, instance.WorkflowDefinitionID)
	if err != nil {
		return nil, nil, err
	}

	if err := definition.ValidateGraph(); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrConfiguration, err)
	}

	return instance, definition, nil
}

// resolveDefinition picks the tenant's definition for a document type: the
// sole active one, or the single default among several.
func (e *Engine) resolveDefinition(ctx context.Context, tenantID, documentType string) (*models.WorkflowDefinition, error) {
	definitions, err := e.persistence.Definitions().ActiveByDocumentType(ctx, tenantID, documentType)
	if err != nil {
		return nil, err
	}

	var definition *models.WorkflowDefinition

	switch len(definitions) {
	case 0:
		return nil, fmt.Errorf("%w: %q", ErrNoDefinition, documentType)
	case 1:
		definition = definitions[0]
	default:
		for _, candidate := range definitions {
			if !candidate.IsDefault {
				continue
			}

			if definition != nil {
				return nil, fmt.Errorf("%w: multiple defaults for %q", ErrNoDefinition, documentType)
			}

			definition = candidate
		}

		if definition == nil {
			return nil, fmt.Errorf("%w: no default among %d active definitions for %q", ErrNoDefinition, len(definitions), documentType)
		}
	}

	if err := definition.ValidateGraph(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfiguration, err)
	}

	return definition, nil
}

func (e *Engine) publishApplied(ctx context.Context, tenantID, instanceID string, transition *models.WorkflowTransition, record *models.WorkflowHistory) {
	from := ""
	if record.FromStatusKey != nil {
		from = *record.FromStatusKey
	}

	e.publish(ctx, instanceID, events.TransitionApplied{
		BaseEvent:     events.NewBaseEvent(events.TransitionAppliedEvent, tenantID, instanceID),
		TransitionID:  transition.ID,
		FromStatusKey: from,
		ToStatusKey:   record.ToStatusKey,
		ActorID:       record.ActorID,
		Comment:       record.Comment,
	})
}

// publish emits an event for the notification boundary. Delivery failures
// are logged, not propagated: the state change has already committed.
func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish event",
			"event_type", event.GetType(),
			"key", key,
			"error", err,
		)
	}
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}

	return id.String(), nil
}

func (e *Engine) fail(span trace.Span, op, tenantID, instanceID string, err error) error {
	otelhelper.SetError(span, err)

	var opErr *OperationError
	if errors.As(err, &opErr) {
		return err
	}

	return newOperationError(op, tenantID, instanceID, err)
}
