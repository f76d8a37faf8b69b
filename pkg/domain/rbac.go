package domain

// Role identifies a user's access level within a tenant.
type Role string

// Supported roles. The set is closed; unknown roles resolve to no access.
const (
	// RoleAdmin has unrestricted access to every record kind.
	RoleAdmin Role = "admin"
	// RoleManager reads and creates everything but mutates only records it
	// owns or is assigned to.
	RoleManager Role = "manager"
	// RoleRep acts only on records it owns or is assigned to; records it
	// creates are forced to self-assignment and start unverified.
	RoleRep Role = "rep"
)

// Operation identifies a repository operation subject to access control.
type Operation string

// Repository operations covered by the permission table.
const (
	OperationRead   Operation = "read"
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Operations returns every operation in a stable order.
func Operations() []Operation {
	return []Operation{OperationRead, OperationCreate, OperationUpdate, OperationDelete}
}

// Scope defines the breadth of records a role may act on for an operation.
type Scope string

// Permission scopes.
const (
	// ScopeAll allows the operation on any record of the kind.
	ScopeAll Scope = "all"
	// ScopeAssignedOrOwn allows the operation only on records the user is
	// assigned to, created, or holds in AssignedEntityIDs.
	ScopeAssignedOrOwn Scope = "assigned_or_own"
	// ScopeNone denies the operation regardless of ownership.
	ScopeNone Scope = "none"
)

// Permission resolves one (role, entity kind, operation) cell.
type Permission struct {
	Allowed bool  `json:"allowed"`
	Scope   Scope `json:"scope"`
}

// PermissionProfile is the static, closed permission table keyed by role,
// entity kind and operation.
type PermissionProfile map[Role]map[EntityType]map[Operation]Permission

// DefaultPermissions builds the standard role matrix: admin is unrestricted,
// managers read and create everything but mutate only assigned-or-own
// records, reps act strictly within assigned-or-own scope.
func DefaultPermissions() PermissionProfile {
	profile := make(PermissionProfile, 3)
	for _, role := range []Role{RoleAdmin, RoleManager, RoleRep} {
		byKind := make(map[EntityType]map[Operation]Permission, len(EntityTypes()))
		for _, kind := range EntityTypes() {
			byOp := make(map[Operation]Permission, len(Operations()))
			for _, op := range Operations() {
				byOp[op] = permissionFor(role, op)
			}
			byKind[kind] = byOp
		}
		profile[role] = byKind
	}
	return profile
}

func permissionFor(role Role, op Operation) Permission {
	switch role {
	case RoleAdmin:
		return Permission{Allowed: true, Scope: ScopeAll}
	case RoleManager:
		switch op {
		case OperationRead, OperationCreate:
			return Permission{Allowed: true, Scope: ScopeAll}
		default:
			return Permission{Allowed: true, Scope: ScopeAssignedOrOwn}
		}
	case RoleRep:
		// Creation included; the repository forces self-assignment there.
		return Permission{Allowed: true, Scope: ScopeAssignedOrOwn}
	default:
		return Permission{Allowed: false, Scope: ScopeNone}
	}
}

// User is the acting identity supplied by the caller. The core does not own
// user records; it only consumes this contract.
type User struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Role              Role     `json:"role"`
	AssignedEntityIDs []string `json:"assigned_entity_ids,omitempty"`
}

// Owns reports whether the user owns or is assigned the given record.
func (u User) Owns(meta Base) bool {
	if meta.AssignedUserID == u.ID || meta.CreatedBy == u.ID {
		return true
	}
	for _, id := range u.AssignedEntityIDs {
		if id == meta.ID {
			return true
		}
	}
	return false
}
