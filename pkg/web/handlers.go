// Package web provides HTTP handlers and REST API endpoints for approval
// workflow management.
package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/approvio/pkg/engine"
	"github.com/dukex/approvio/pkg/models"
	"github.com/dukex/approvio/pkg/persistence"
	"github.com/dukex/approvio/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	definitionService *services.Definition
	engine            *engine.Engine
	persistence       persistence.Persistence
	validator         *validator.Validate
}

func NewAPIHandlers(
	definitionService *services.Definition,
	workflowEngine *engine.Engine,
	p persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		definitionService: definitionService,
		engine:            workflowEngine,
		persistence:       p,
		validator:         validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.definitionService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Approvio API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Approvio API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// Definition authoring

func (h *APIHandlers) GetDefinitions(c fiber.Ctx) error {
	actor, err := actorFromRequest(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}

	definitions, err := h.definitionService.List(c.Context(), actor.TenantID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"definitions": definitions})
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	actor, err := actorFromRequest(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}

	id := strings.Clone(c.Params("id"))
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	definition, err := h.definitionService.Get(c.Context(), actor.TenantID, id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	actor, err := actorFromRequest(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}

	var req CreateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.definitionService.Create(c.Context(), req.toModel(actor.TenantID))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateDefinition(c fiber.Ctx) error {
	actor, err := actorFromRequest(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}

	id := strings.Clone(c.Params("id"))
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	var req UpdateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.definitionService.Update(c.Context(), actor.TenantID, id, req.toModel(actor.TenantID))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteDefinition(c fiber.Ctx) error {
	actor, err := actorFromRequest(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}

	id := strings.Clone(c.Params("id"))
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	err = h.definitionService.Delete(c.Context(), actor.TenantID, id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ImportDefinition(c fiber.Ctx) error {
	actor, err := actorFromRequest(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}

	created, err := h.definitionService.Import(c.Context(), actor.TenantID, c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// Instance lifecycle

func (h *APIHandlers) CreateInstance(c fiber.Ctx) error {
	actor, err := actorFromRequest(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}

	var req CreateInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.Initialize(c.Context(), actor, req.DocumentType, req.DocumentID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	actor, err := actorFromRequest(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}

	id := strings.Clone(c.Params("id"))
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	instance, err := h.persistence.Instances().GetByID(c.Context(), actor.TenantID, id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetInstanceByDocument(c fiber.Ctx) error {
	actor, err := actorFromRequest(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}

	documentType := strings.Clone(c.Params("documentType"))

	documentID, err := strconv.ParseInt(c.Params("documentId"), 10, 64)
	if err != nil {
		return badRequest(c, "Document ID must be an integer")
	}

	instance, err := h.persistence.Instances().GetByDocument(c.Context(), actor.TenantID, documentType, documentID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetAvailableTransitions(c fiber.Ctx) error {
	actor, err := actorFromRequest(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}

	id := strings.Clone(c.Params("id"))
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	transitions, err := h.engine.AvailableTransitions(c.Context(), actor, id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"transitions": transitions})
}

func (h *APIHandlers) InvokeTransition(c fiber.Ctx) error {
	actor, err := actorFromRequest(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}

	id := strings.Clone(c.Params("id"))
	transitionID := strings.Clone(c.Params("transitionId"))

	if id == "" || transitionID == "" {
		return badRequest(c, "Instance ID and transition ID are required")
	}

	var req InvokeTransitionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	result, err := h.engine.Transition(c.Context(), actor, id, transitionID, req.Comment)
	if err != nil {
		return handleEngineError(c, err)
	}

	// 200 when the transition applied, 202 when it is parked on approvals.
	if result.Applied != nil {
		return c.JSON(result)
	}

	return c.Status(fiber.StatusAccepted).JSON(result)
}

func (h *APIHandlers) GetInstanceHistory(c fiber.Ctx) error {
	actor, err := actorFromRequest(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}

	id := strings.Clone(c.Params("id"))
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	records, err := h.persistence.History().ListByInstance(c.Context(), actor.TenantID, id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"history": records})
}

func (h *APIHandlers) GetInstanceApprovals(c fiber.Ctx) error {
	actor, err := actorFromRequest(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}

	id := strings.Clone(c.Params("id"))
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	rows, err := h.persistence.Approvals().ListByInstance(c.Context(), actor.TenantID, id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"approvals": rows})
}

// Approvals

func (h *APIHandlers) GetPendingApprovals(c fiber.Ctx) error {
	actor, err := actorFromRequest(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}

	rows, err := h.persistence.Approvals().ListPendingByApprover(c.Context(), actor.TenantID, actor.ID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"approvals": rows})
}

func (h *APIHandlers) RespondToApproval(c fiber.Ctx) error {
	actor, err := actorFromRequest(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}

	id := strings.Clone(c.Params("id"))
	if id == "" {
		return badRequest(c, "Approval ID is required")
	}

	var req RespondApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	decision, err := h.engine.RespondToApproval(c.Context(), actor, id, models.ApprovalStatus(req.Decision), req.Comment)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(decision)
}
