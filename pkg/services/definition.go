package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dukex/approvio/pkg/models"
	"github.com/dukex/approvio/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// definitionSchema is the contract for definitions imported as raw JSON,
// e.g. from a tenant's configuration export. Structural graph rules
// (single initial status, no dangling keys) are checked separately by
// ValidateGraph after decoding.
const definitionSchema = `{
	"type": "object",
	"required": ["tenant_id", "document_type", "name", "statuses"],
	"properties": {
		"tenant_id": {"type": "string", "minLength": 1},
		"document_type": {"type": "string", "minLength": 2},
		"name": {"type": "string", "minLength": 3},
		"active": {"type": "boolean"},
		"is_default": {"type": "boolean"},
		"statuses": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["key", "label"],
				"properties": {
					"key": {"type": "string", "minLength": 1},
					"label": {"type": "string", "minLength": 1},
					"color": {"type": "string"},
					"is_initial": {"type": "boolean"},
					"is_terminal": {"type": "boolean"},
					"display_order": {"type": "integer"}
				}
			}
		},
		"transitions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["from_status_key", "to_status_key", "label", "allowed_roles"],
				"properties": {
					"id": {"type": "string"},
					"from_status_key": {"type": "string", "minLength": 1},
					"to_status_key": {"type": "string", "minLength": 1},
					"label": {"type": "string", "minLength": 1},
					"allowed_roles": {"type": "array", "minItems": 1, "items": {"type": "string"}},
					"requires_approval": {"type": "boolean"},
					"approval_type": {"type": "string", "enum": ["single", "parallel", "sequential", ""]},
					"approver_roles": {"type": "array", "items": {"type": "string"}},
					"display_order": {"type": "integer"}
				}
			}
		}
	}
}`

// Definition is the authoring service for tenant workflow configuration.
// The engine only reads definitions; every write goes through here.
type Definition struct {
	persistence persistence.Persistence
	validator   *validator.Validate
}

// NewDefinition creates a new definition service.
func NewDefinition(p persistence.Persistence) *Definition {
	return &Definition{
		persistence: p,
		validator:   validator.New(),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Definition) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns all definitions of the tenant.
func (s *Definition) List(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error) {
	definitions, err := s.persistence.Definitions().List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	return definitions, nil
}

// Get returns one definition by its ID.
func (s *Definition) Get(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.Definitions().GetByID(ctx, tenantID, id)
	if err != nil {
		if persistence.IsDefinitionNotFound(err) {
			return nil, ErrDefinitionNotFound
		}

		return nil, err
	}

	return definition, nil
}

// Create validates and persists a new definition.
func (s *Definition) Create(ctx context.Context, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if definition == nil {
		return nil, ErrDefinitionNil
	}

	definition.ID = ""

	err := s.validate(ctx, definition)
	if err != nil {
		return nil, err
	}

	err = s.persistence.Definitions().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to create definition: %w", err)
	}

	return definition, nil
}

// Update validates and replaces an existing definition. Changes take effect
// for in-flight instances on their next operation.
func (s *Definition) Update(ctx context.Context, tenantID, id string, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if definition == nil {
		return nil, ErrDefinitionNil
	}

	existing, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if definition.TenantID != existing.TenantID {
		return nil, ErrTenantMismatch
	}

	definition.ID = id
	definition.CreatedAt = existing.CreatedAt

	err = s.validate(ctx, definition)
	if err != nil {
		return nil, err
	}

	err = s.persistence.Definitions().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to update definition: %w", err)
	}

	return definition, nil
}

// Delete soft deletes a definition. In-flight instances bound to it will
// fail their next operation with a configuration error.
func (s *Definition) Delete(ctx context.Context, tenantID, id string) error {
	_, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	err = s.persistence.Definitions().Delete(ctx, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete definition: %w", err)
	}

	return nil
}

// Import validates a raw JSON definition document against the schema and
// creates it.
func (s *Definition) Import(ctx context.Context, tenantID string, raw []byte) (*models.WorkflowDefinition, error) {
	schemaLoader := gojsonschema.NewStringLoader(definitionSchema)
	documentLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, NewValidationError("Import", "MALFORMED_JSON", err.Error(), ErrInvalidDocument)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			details = append(details, resultError.String())
		}

		return nil, NewValidationError("Import", "SCHEMA_VIOLATION", strings.Join(details, "; "), ErrInvalidDocument)
	}

	definition := &models.WorkflowDefinition{}

	err = json.Unmarshal(raw, definition)
	if err != nil {
		return nil, NewValidationError("Import", "MALFORMED_JSON", err.Error(), ErrInvalidDocument)
	}

	if definition.TenantID != tenantID {
		return nil, ErrTenantMismatch
	}

	return s.Create(ctx, definition)
}

// validate runs struct validation, graph validation, and the single-default
// rule.
func (s *Definition) validate(ctx context.Context, definition *models.WorkflowDefinition) error {
	err := s.validator.StructCtx(ctx, definition)
	if err != nil {
		return NewValidationError("validate", "INVALID_DEFINITION", err.Error(), ErrInvalidRequest)
	}

	err = definition.ValidateGraph()
	if err != nil {
		return NewValidationError("validate", "INVALID_GRAPH", err.Error(), ErrInvalidGraph)
	}

	if definition.IsDefault {
		siblings, err := s.persistence.Definitions().ActiveByDocumentType(ctx, definition.TenantID, definition.DocumentType)
		if err != nil {
			return fmt.Errorf("failed to check default conflict: %w", err)
		}

		for _, sibling := range siblings {
			if sibling.IsDefault && sibling.ID != definition.ID {
				return fmt.Errorf("%w: %s", ErrDefaultConflict, sibling.ID)
			}
		}
	}

	return nil
}
