package permissions

import (
	"sync"
	"time"

	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/eventlog"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/logger"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

// OrgResolver resolves org membership of services. Implemented by the
// directory; the registry expands org-admin scope at query time so
// services registered after the grant are covered.
type OrgResolver interface {
	OrgOfService(serviceID string) (string, bool)
	ServicesOfOrg(orgID string) []string
}

type grantKey struct {
	role    types.Role
	scopeID string
}

// Registry holds role-scoped permission grants and is the single
// authorization entry point for every other component. Revocation takes
// effect immediately for all subsequent checks.
type Registry struct {
	mu     sync.RWMutex
	grants map[string]map[grantKey]*types.PermissionGrant

	resolver OrgResolver
	events   *eventlog.Log
	logger   *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(resolver OrgResolver, events *eventlog.Log, log *logger.Logger) *Registry {
	return &Registry{
		grants:   make(map[string]map[grantKey]*types.PermissionGrant),
		resolver: resolver,
		events:   events,
		logger:   log,
	}
}

// Bootstrap installs the initial sys-admin. Used at service startup
// before any authorized caller exists.
func (r *Registry) Bootstrap(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(&types.PermissionGrant{
		SubjectUserID: userID,
		Role:          types.RoleSysAdmin,
		ScopeID:       "*",
		GrantedBy:     "bootstrap",
		GrantDate:     time.Now().Unix(),
	})
}

// Grant assigns a role over a scope to a subject. The caller must be an
// admin of the enclosing scope: sys-admins manage sys-admin and
// org-admin grants, org and service admins manage service-admin and
// auditor grants under them.
func (r *Registry) Grant(actor types.Actor, role types.Role, scopeID, subjectID string) error {
	if subjectID == "" {
		return types.NewValidationError(types.ErrCodeInvalidInput, "subject user id is required", nil)
	}
	if err := r.authorizeGrant(actor, role, scopeID); err != nil {
		return err
	}

	r.mu.Lock()
	r.put(&types.PermissionGrant{
		SubjectUserID: subjectID,
		Role:          role,
		ScopeID:       scopeID,
		GrantedBy:     actor.ID,
		GrantDate:     time.Now().Unix(),
	})
	r.mu.Unlock()

	r.events.Append(&types.AuditEvent{
		Type:      types.EventGrantPermission,
		CallerID:  actor.ID,
		ServiceID: r.serviceScopeOf(role, scopeID),
	})

	r.logger.Audit(actor.ID, "grant_permission", scopeID, true, map[string]interface{}{
		"subject": subjectID,
		"role":    string(role),
	})
	return nil
}

// Revoke removes a grant. Revocation is immediate: every subsequent
// authorization or audit-scope check by the subject no longer sees it.
func (r *Registry) Revoke(actor types.Actor, role types.Role, scopeID, subjectID string) error {
	if err := r.authorizeGrant(actor, role, scopeID); err != nil {
		return err
	}

	r.mu.Lock()
	key := grantKey{role: role, scopeID: scopeID}
	if subjectGrants, ok := r.grants[subjectID]; ok {
		delete(subjectGrants, key)
		if len(subjectGrants) == 0 {
			delete(r.grants, subjectID)
		}
	}
	r.mu.Unlock()

	r.events.Append(&types.AuditEvent{
		Type:      types.EventRevokePermission,
		CallerID:  actor.ID,
		ServiceID: r.serviceScopeOf(role, scopeID),
	})

	r.logger.Audit(actor.ID, "revoke_permission", scopeID, true, map[string]interface{}{
		"subject": subjectID,
		"role":    string(role),
	})
	return nil
}

// put stores a grant; callers hold the write lock.
func (r *Registry) put(grant *types.PermissionGrant) {
	subjectGrants, ok := r.grants[grant.SubjectUserID]
	if !ok {
		subjectGrants = make(map[grantKey]*types.PermissionGrant)
		r.grants[grant.SubjectUserID] = subjectGrants
	}
	subjectGrants[grantKey{role: grant.Role, scopeID: grant.ScopeID}] = grant
}

// authorizeGrant checks that actor may manage a grant of the given role
// and scope.
func (r *Registry) authorizeGrant(actor types.Actor, role types.Role, scopeID string) error {
	switch role {
	case types.RoleSysAdmin:
		if r.IsSysAdmin(actor.ID) {
			return nil
		}
	case types.RoleOrgAdmin:
		if r.IsSysAdmin(actor.ID) || r.IsOrgAdmin(actor.ID, scopeID) {
			return nil
		}
	case types.RoleServiceAdmin, types.RoleAuditor:
		if r.IsServiceAdmin(actor.ID, scopeID) {
			return nil
		}
	default:
		return types.NewValidationError(types.ErrCodeInvalidInput, "unknown role", map[string]interface{}{"role": role})
	}
	return types.NewUnauthorizedError(types.ErrCodeUnauthorized, "caller may not manage this grant")
}

// serviceScopeOf maps a grant's scope to a service ID for audit event
// indexing. Org and sys scopes are not service-indexed.
func (r *Registry) serviceScopeOf(role types.Role, scopeID string) string {
	if role == types.RoleServiceAdmin || role == types.RoleAuditor {
		return scopeID
	}
	return ""
}

// has reports whether subject holds the exact grant.
func (r *Registry) has(subjectID string, role types.Role, scopeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subjectGrants, ok := r.grants[subjectID]
	if !ok {
		return false
	}
	_, ok = subjectGrants[grantKey{role: role, scopeID: scopeID}]
	return ok
}

// IsSysAdmin reports whether the user holds the sys-admin role.
func (r *Registry) IsSysAdmin(userID string) bool {
	return r.has(userID, types.RoleSysAdmin, "*")
}

// IsOrgAdmin reports whether the user is an org-admin of orgID.
func (r *Registry) IsOrgAdmin(userID, orgID string) bool {
	return r.has(userID, types.RoleOrgAdmin, orgID)
}

// IsServiceAdmin reports whether the user administers serviceID, either
// through a direct service-admin grant or as org-admin of the enclosing
// org.
func (r *Registry) IsServiceAdmin(userID, serviceID string) bool {
	if r.has(userID, types.RoleServiceAdmin, serviceID) {
		return true
	}
	if orgID, ok := r.resolver.OrgOfService(serviceID); ok {
		return r.IsOrgAdmin(userID, orgID)
	}
	return false
}

// IsAuditor reports whether the user holds an auditor grant for
// serviceID.
func (r *Registry) IsAuditor(userID, serviceID string) bool {
	return r.has(userID, types.RoleAuditor, serviceID)
}

// AuditScope resolves the set of services whose audit events the user
// may currently see. Org-admin covers every service under the org,
// service-admin exactly its service, auditor the explicitly granted
// services. Sys-admin grants contribute nothing.
func (r *Registry) AuditScope(userID string) map[string]bool {
	r.mu.RLock()
	subjectGrants := r.grants[userID]
	keys := make([]grantKey, 0, len(subjectGrants))
	for key := range subjectGrants {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	scope := make(map[string]bool)
	for _, key := range keys {
		switch key.role {
		case types.RoleOrgAdmin:
			for _, serviceID := range r.resolver.ServicesOfOrg(key.scopeID) {
				scope[serviceID] = true
			}
		case types.RoleServiceAdmin, types.RoleAuditor:
			scope[key.scopeID] = true
		}
	}
	return scope
}
