package models

// Actor is the authenticated caller context, resolved by the external
// auth layer and passed explicitly on every engine call. The engine only
// matches Roles against configured role sets; it performs no authentication.
type Actor struct {
	ID       string   `json:"id"        validate:"required"`
	TenantID string   `json:"tenant_id" validate:"required"`
	Roles    []string `json:"roles"`
}

// HasAnyRole reports whether the actor holds at least one of the given roles.
func (a *Actor) HasAnyRole(roles []string) bool {
	for _, role := range roles {
		if a.HasRole(role) {
			return true
		}
	}

	return false
}

// HasRole reports whether the actor holds the given role.
func (a *Actor) HasRole(role string) bool {
	for _, held := range a.Roles {
		if held == role {
			return true
		}
	}

	return false
}
