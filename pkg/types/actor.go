package types

// Role is a permission role that can be granted over a scope.
type Role string

const (
	// RoleSysAdmin is held by platform operators. Sys-admins manage
	// organizations but have no audit visibility.
	RoleSysAdmin Role = "sys-admin"
	// RoleOrgAdmin is scoped to one organization and covers every
	// service under it.
	RoleOrgAdmin Role = "org-admin"
	// RoleServiceAdmin is scoped to exactly one service.
	RoleServiceAdmin Role = "service-admin"
	// RoleAuditor may query the audit log for explicitly granted services.
	RoleAuditor Role = "auditor"
)

// Actor is an already-authenticated caller identity. Authentication
// itself is performed by the external identity layer; the core only
// consumes the resulting identity.
type Actor struct {
	ID    string `json:"id"`
	OrgID string `json:"org_id,omitempty"`
}

// UserClaims represents the claims extracted from a bearer token
type UserClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	OrgID    string `json:"org_id"`
}

// PermissionGrant assigns a role over a scope (org or service) to a user.
// Revocation removes the grant entirely; visibility is always evaluated
// against the grants currently held.
type PermissionGrant struct {
	SubjectUserID string `json:"subject_user_id"`
	Role          Role   `json:"role"`
	ScopeID       string `json:"scope_id"`
	GrantedBy     string `json:"granted_by"`
	GrantDate     int64  `json:"grant_date"`
}
