package web

import (
	"strings"

	"github.com/dukex/approvio/pkg/models"
	"github.com/gofiber/fiber/v3"
)

// Identity headers. Authentication happens upstream (gateway or reverse
// proxy); the API trusts these headers for tenant scoping and role checks.
const (
	HeaderTenantID   = "X-Tenant-ID"
	HeaderActorID    = "X-Actor-ID"
	HeaderActorRoles = "X-Actor-Roles"
)

// actorFromRequest builds the acting identity from the request headers.
// Roles are comma separated. Header values returned by fiber are backed by
// the request buffer and are only valid for the handler's lifetime, so each
// one is cloned before it escapes into engine or persistence state.
func actorFromRequest(c fiber.Ctx) (*models.Actor, error) {
	tenantID := strings.Clone(strings.TrimSpace(c.Get(HeaderTenantID)))
	if tenantID == "" {
		return nil, errMissingTenant
	}

	actorID := strings.Clone(strings.TrimSpace(c.Get(HeaderActorID)))
	if actorID == "" {
		return nil, errMissingActor
	}

	roles := make([]string, 0)

	for _, role := range strings.Split(c.Get(HeaderActorRoles), ",") {
		role = strings.Clone(strings.TrimSpace(role))
		if role != "" {
			roles = append(roles, role)
		}
	}

	return &models.Actor{
		ID:       actorID,
		TenantID: tenantID,
		Roles:    roles,
	}, nil
}
