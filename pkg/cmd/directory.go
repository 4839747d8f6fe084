package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dukex/approvio/pkg/engine"
)

// fileDirectory resolves role membership from a provisioned JSON file of the
// form {"tenant-1": {"finance": ["user-a", "user-b"]}}. Role assignments are
// managed by the surrounding identity tooling; the engine only reads them.
type fileDirectory struct {
	assignments map[string]map[string][]string
}

// NewRoleDirectory loads the role assignment file. An empty path yields a
// directory that resolves every role to no members, which makes gated
// transitions fail with a configuration error instead of silently passing.
func NewRoleDirectory(path string) (engine.RoleDirectory, error) {
	directory := &fileDirectory{assignments: make(map[string]map[string][]string)}

	if path == "" {
		return directory, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role assignments: %w", err)
	}

	err = json.Unmarshal(raw, &directory.assignments)
	if err != nil {
		return nil, fmt.Errorf("failed to parse role assignments: %w", err)
	}

	return directory, nil
}

func (d *fileDirectory) UsersInRole(_ context.Context, tenantID, role string) ([]string, error) {
	tenant, exists := d.assignments[tenantID]
	if !exists {
		return nil, nil
	}

	return tenant[role], nil
}
