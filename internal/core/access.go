package core

import "crmcore/pkg/domain"

// AccessController resolves (role, operation, ownership) triples against a
// static permission table. It is shared by every repository of a tenant.
type AccessController struct {
	profile domain.PermissionProfile
}

// NewAccessController builds a controller over the given profile, falling
// back to the default role matrix when profile is nil.
func NewAccessController(profile domain.PermissionProfile) *AccessController {
	if profile == nil {
		profile = domain.DefaultPermissions()
	}
	return &AccessController{profile: profile}
}

// Check returns an AccessDeniedError unless the user may perform op on the
// given kind. meta may be nil for operations without a target record
// (create, or pre-filtered lists); ownership scoping then passes.
func (c *AccessController) Check(user domain.User, op domain.Operation, kind domain.EntityType, meta *domain.Base) error {
	if c.Allowed(user, op, kind, meta) {
		return nil
	}
	return domain.AccessDeniedError{Operation: op, Entity: kind, Role: user.Role}
}

// Allowed reports whether the user may perform op on the given record.
func (c *AccessController) Allowed(user domain.User, op domain.Operation, kind domain.EntityType, meta *domain.Base) bool {
	perm, ok := c.lookup(user.Role, kind, op)
	if !ok || !perm.Allowed {
		return false
	}
	switch perm.Scope {
	case domain.ScopeAll:
		return true
	case domain.ScopeAssignedOrOwn:
		if meta == nil {
			return true
		}
		return user.Owns(*meta)
	default:
		return false
	}
}

func (c *AccessController) lookup(role domain.Role, kind domain.EntityType, op domain.Operation) (domain.Permission, bool) {
	byKind, ok := c.profile[role]
	if !ok {
		return domain.Permission{}, false
	}
	byOp, ok := byKind[kind]
	if !ok {
		return domain.Permission{}, false
	}
	perm, ok := byOp[op]
	return perm, ok
}
