package web

import (
	"errors"

	"github.com/dukex/approvio/pkg/engine"
	"github.com/dukex/approvio/pkg/persistence"
	"github.com/dukex/approvio/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

var (
	errMissingTenant = errors.New("X-Tenant-ID header is required")
	errMissingActor  = errors.New("X-Actor-ID header is required")
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func unauthorized(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(401).
		WithInstance(c.Path()).
		WithType("unauthenticated").
		WithDetail(detail)

	return c.Status(fiber.StatusUnauthorized).JSON(problem)
}

func forbidden(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(403).
		WithInstance(c.Path()).
		WithType("forbidden").
		WithDetail(detail)

	return c.Status(fiber.StatusForbidden).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError provides typed error handling for definition service errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsNotFoundError(err):
		return notFound(c, "definition not found")
	case services.IsValidationError(err):
		return badRequest(c, err.Error())
	case services.IsConflictError(err):
		return conflict(c, err.Error())
	default:
		return internalError(c, err)
	}
}

// handleEngineError maps engine errors onto problem responses. Authorization
// failures come back as 403, state conflicts as 409, configuration and
// request problems as 400.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case engine.IsAuthorizationError(err):
		return forbidden(c, err.Error())
	case engine.IsConflictError(err):
		return conflict(c, err.Error())
	case engine.IsValidationError(err):
		return badRequest(c, err.Error())
	case persistence.IsInstanceNotFound(err):
		return notFound(c, "instance not found")
	case persistence.IsApprovalNotFound(err):
		return notFound(c, "approval not found")
	case persistence.IsDefinitionNotFound(err):
		return notFound(c, "definition not found")
	default:
		return internalError(c, err)
	}
}
