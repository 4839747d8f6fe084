package persistence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstanceError_WrapsSentinel(t *testing.T) {
	err := NewInstanceError("Create", "tenant-1", "inst-1", ErrInstanceAlreadyExists)

	assert.ErrorIs(t, err, ErrInstanceAlreadyExists)
	assert.True(t, IsInstanceAlreadyExists(err))
	assert.Contains(t, err.Error(), "Create")
	assert.Contains(t, err.Error(), "inst-1")
	assert.Contains(t, err.Error(), "tenant-1")
}

func TestDefinitionError_WrapsSentinel(t *testing.T) {
	err := NewDefinitionError("GetByID", "tenant-1", "def-1", ErrDefinitionNotFound)

	assert.ErrorIs(t, err, ErrDefinitionNotFound)
	assert.True(t, IsDefinitionNotFound(err))
	assert.Contains(t, err.Error(), "def-1")
}

func TestIsHelpers_UnrelatedError(t *testing.T) {
	err := errors.New("boom")

	assert.False(t, IsDefinitionNotFound(err))
	assert.False(t, IsInstanceNotFound(err))
	assert.False(t, IsInstanceAlreadyExists(err))
	assert.False(t, IsApprovalNotFound(err))
}
