package events

import (
	"encoding/json"
	"testing"

	"github.com/dukex/approvio/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseEvent(t *testing.T) {
	base := NewBaseEvent(TransitionAppliedEvent, "tenant-1", "inst-1")

	assert.NotEmpty(t, base.ID)
	assert.Equal(t, TransitionAppliedEvent, base.Type)
	assert.Equal(t, "tenant-1", base.TenantID)
	assert.Equal(t, "inst-1", base.InstanceID)
	assert.False(t, base.Timestamp.IsZero())
}

func TestEventTypes(t *testing.T) {
	assert.Equal(t, InstanceInitializedEvent, InstanceInitialized{}.GetType())
	assert.Equal(t, TransitionAppliedEvent, TransitionApplied{}.GetType())
	assert.Equal(t, ApprovalRequestedEvent, ApprovalRequested{}.GetType())
	assert.Equal(t, ApprovalResolvedEvent, ApprovalResolved{}.GetType())
}

func TestApprovalResolved_JSONRoundTrip(t *testing.T) {
	event := ApprovalResolved{
		BaseEvent:    NewBaseEvent(ApprovalResolvedEvent, "tenant-1", "inst-1"),
		TransitionID: "t-1",
		BatchID:      "batch-1",
		Outcome:      models.ApprovalStatusApproved,
		ResolvedBy:   "user-2",
	}

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded ApprovalResolved
	require.NoError(t, json.Unmarshal(payload, &decoded))

	assert.Equal(t, event.BatchID, decoded.BatchID)
	assert.Equal(t, models.ApprovalStatusApproved, decoded.Outcome)
	assert.Equal(t, event.InstanceID, decoded.InstanceID)
}
