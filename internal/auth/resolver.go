package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"zashboard.app/internal/obs"
)

// Resolver answers authorization questions over platform and organization
// role assignments. Platform roles never confer organization authority.
type Resolver struct {
	store          Store
	legacy         LegacySource
	legacyFallback bool
	now            func() time.Time
	log            zerolog.Logger
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithClock overrides the time source used for assignment expiry.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLegacySource enables membership lookups for the legacy fallback and view checks.
func WithLegacySource(src LegacySource) ResolverOption {
	return func(r *Resolver) { r.legacy = src }
}

// WithLegacyFallback toggles the legacy super_admin grant-all fallback.
func WithLegacyFallback(enabled bool) ResolverOption {
	return func(r *Resolver) { r.legacyFallback = enabled }
}

// WithLogger sets the logger used for denial diagnostics.
func WithLogger(l zerolog.Logger) ResolverOption {
	return func(r *Resolver) { r.log = l }
}

// NewResolver constructs a resolver over the given store.
func NewResolver(store Store, opts ...ResolverOption) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	r := &Resolver{
		store:          store,
		legacyFallback: true,
		now:            func() time.Time { return time.Now().UTC() },
		log:            obs.Logger("authz"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// grantSet is the effective role state of a user in one scope.
type grantSet struct {
	roles []Role
	keys  map[string]struct{}
	level int
	super bool
}

func (g grantSet) has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := g.keys[normalizeKey(k)]; ok {
			return true
		}
	}
	return false
}

func (r *Resolver) grants(ctx context.Context, userID string, scope Scope, orgID string) (grantSet, error) {
	assigned, err := r.store.AssignedRoles(ctx, userID, scope, orgID)
	if err != nil {
		return grantSet{}, fmt.Errorf("load %s assignments: %w", scope, err)
	}
	now := r.now()
	set := grantSet{keys: map[string]struct{}{}}
	roleIDs := make([]string, 0, len(assigned))
	for _, ar := range assigned {
		if ar.Assignment.Expired(now) || !ar.Role.IsActive || ar.Role.Scope != scope {
			continue
		}
		if scope == ScopeOrganization && ar.Role.OrganizationID != orgID {
			continue
		}
		set.roles = append(set.roles, ar.Role)
		roleIDs = append(roleIDs, ar.Role.ID)
		if ar.Role.Level > set.level {
			set.level = ar.Role.Level
		}
		if ar.Role.Name == RoleSuperAdmin {
			set.super = true
		}
	}
	if len(roleIDs) == 0 {
		return set, nil
	}
	perms, err := r.store.PermissionsForRoles(ctx, roleIDs)
	if err != nil {
		return grantSet{}, fmt.Errorf("load role permissions: %w", err)
	}
	for _, p := range perms {
		if p.Scope != scope {
			continue
		}
		set.keys[normalizeKey(p.Resource+":"+p.Action)] = struct{}{}
	}
	return set, nil
}

func (r *Resolver) record(scope Scope, allowed bool) {
	result := "deny"
	if allowed {
		result = "allow"
	}
	obs.AuthzDecisions.WithLabelValues(string(scope), result).Inc()
}

// UserHasPermission reports whether the user holds a platform permission.
// An effective platform super_admin holds every platform permission.
func (r *Resolver) UserHasPermission(ctx context.Context, userID, permission string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, fmt.Errorf("%w: user_id is required", ErrUnauthenticated)
	}
	set, err := r.grants(ctx, userID, ScopePlatform, "")
	if err != nil {
		return false, err
	}
	allowed := set.super || set.has(permission)
	r.record(ScopePlatform, allowed)
	if !allowed {
		r.log.Debug().Str("user_id", userID).Str("permission", permission).Msg("platform permission denied")
	}
	return allowed, nil
}

// UserHasOrgPermission reports whether the user holds an organization
// permission inside orgID. Both "resource:action" and "org:resource:action"
// are accepted.
func (r *Resolver) UserHasOrgPermission(ctx context.Context, userID, orgID, permission string) (bool, error) {
	userID, orgID = strings.TrimSpace(userID), strings.TrimSpace(orgID)
	if userID == "" {
		return false, fmt.Errorf("%w: user_id is required", ErrUnauthenticated)
	}
	if orgID == "" {
		return false, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	set, err := r.grants(ctx, userID, ScopeOrganization, orgID)
	if err != nil {
		return false, err
	}
	allowed := set.has(permission)
	if !allowed {
		allowed, err = r.legacyGrantsAll(ctx, userID, orgID)
		if err != nil {
			return false, err
		}
	}
	r.record(ScopeOrganization, allowed)
	if !allowed {
		r.log.Debug().Str("user_id", userID).Str("organization_id", orgID).Str("permission", permission).Msg("organization permission denied")
	}
	return allowed, nil
}

func (r *Resolver) legacyGrantsAll(ctx context.Context, userID, orgID string) (bool, error) {
	if !r.legacyFallback || r.legacy == nil {
		return false, nil
	}
	role, ok, err := r.legacy.MembershipRole(ctx, userID, orgID)
	if err != nil {
		return false, fmt.Errorf("load legacy membership: %w", err)
	}
	return ok && LegacyGrantsAll(role), nil
}

// OrgRoleLevel returns the highest effective organization role level, or 0.
func (r *Resolver) OrgRoleLevel(ctx context.Context, userID, orgID string) (int, error) {
	set, err := r.grants(ctx, strings.TrimSpace(userID), ScopeOrganization, strings.TrimSpace(orgID))
	if err != nil {
		return 0, err
	}
	return set.level, nil
}

// PlatformRoleLevel returns the highest effective platform role level, or 0.
func (r *Resolver) PlatformRoleLevel(ctx context.Context, userID string) (int, error) {
	set, err := r.grants(ctx, strings.TrimSpace(userID), ScopePlatform, "")
	if err != nil {
		return 0, err
	}
	return set.level, nil
}

// IsPlatformSuperAdmin reports whether the user holds an effective platform super_admin role.
func (r *Resolver) IsPlatformSuperAdmin(ctx context.Context, userID string) (bool, error) {
	set, err := r.grants(ctx, strings.TrimSpace(userID), ScopePlatform, "")
	if err != nil {
		return false, err
	}
	return set.super, nil
}

// CanViewOrganization reports whether the user may see the organization: a
// membership, an effective organization assignment or platform super_admin.
func (r *Resolver) CanViewOrganization(ctx context.Context, userID, orgID string) (bool, error) {
	userID, orgID = strings.TrimSpace(userID), strings.TrimSpace(orgID)
	if userID == "" || orgID == "" {
		return false, nil
	}
	set, err := r.grants(ctx, userID, ScopeOrganization, orgID)
	if err != nil {
		return false, err
	}
	if len(set.roles) > 0 {
		return true, nil
	}
	if r.legacy != nil {
		_, ok, err := r.legacy.MembershipRole(ctx, userID, orgID)
		if err != nil {
			return false, fmt.Errorf("load membership: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return r.IsPlatformSuperAdmin(ctx, userID)
}

// CanAssignOrgRole reports whether actingUserID may grant or revoke the
// organization role targetRoleID. The acting level must be strictly greater
// than the target level and the actor must hold org:roles:assign or
// org:roles:manage.
func (r *Resolver) CanAssignOrgRole(ctx context.Context, actingUserID, orgID, targetRoleID string) (bool, error) {
	_, allowed, err := r.checkOrgRoleChange(ctx, actingUserID, orgID, targetRoleID)
	return allowed, err
}

func (r *Resolver) checkOrgRoleChange(ctx context.Context, actingUserID, orgID, roleID string) (Role, bool, error) {
	actingUserID, orgID, roleID = strings.TrimSpace(actingUserID), strings.TrimSpace(orgID), strings.TrimSpace(roleID)
	if actingUserID == "" {
		return Role{}, false, fmt.Errorf("%w: user_id is required", ErrUnauthenticated)
	}
	if orgID == "" {
		return Role{}, false, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	if roleID == "" {
		return Role{}, false, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, false, err
	}
	if role.Scope != ScopeOrganization || role.OrganizationID != orgID {
		return Role{}, false, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	set, err := r.grants(ctx, actingUserID, ScopeOrganization, orgID)
	if err != nil {
		return Role{}, false, err
	}
	allowed := set.level > role.Level && set.has(OrgPermRolesAssign, OrgPermRolesManage)
	r.record(ScopeOrganization, allowed)
	return role, allowed, nil
}

// CanAssignPlatformRole is the platform counterpart of CanAssignOrgRole.
func (r *Resolver) CanAssignPlatformRole(ctx context.Context, actingUserID, targetRoleID string) (bool, error) {
	_, allowed, err := r.checkPlatformRoleChange(ctx, actingUserID, targetRoleID)
	return allowed, err
}

func (r *Resolver) checkPlatformRoleChange(ctx context.Context, actingUserID, roleID string) (Role, bool, error) {
	actingUserID, roleID = strings.TrimSpace(actingUserID), strings.TrimSpace(roleID)
	if actingUserID == "" {
		return Role{}, false, fmt.Errorf("%w: user_id is required", ErrUnauthenticated)
	}
	if roleID == "" {
		return Role{}, false, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, false, err
	}
	if role.Scope != ScopePlatform {
		return Role{}, false, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	set, err := r.grants(ctx, actingUserID, ScopePlatform, "")
	if err != nil {
		return Role{}, false, err
	}
	allowed := set.level > role.Level && (set.super || set.has(PermRolesAssign, PermRolesManage))
	r.record(ScopePlatform, allowed)
	return role, allowed, nil
}

func denied(role Role) error {
	return fmt.Errorf("%w: changing role %q requires a role level above %d and role assignment permission", ErrForbidden, role.Name, role.Level)
}

func (r *Resolver) validExpiry(expiresAt *time.Time) error {
	if expiresAt != nil && !expiresAt.After(r.now()) {
		return fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}
	return nil
}

// AssignOrgRole grants an organization role after enforcing the escalation guard.
func (r *Resolver) AssignOrgRole(ctx context.Context, actingUserID, orgID, targetUserID, roleID string, expiresAt *time.Time) (Assignment, error) {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return Assignment{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if err := r.validExpiry(expiresAt); err != nil {
		return Assignment{}, err
	}
	role, allowed, err := r.checkOrgRoleChange(ctx, actingUserID, orgID, roleID)
	if err != nil {
		return Assignment{}, err
	}
	if !allowed {
		return Assignment{}, denied(role)
	}
	a := Assignment{
		UserID:         targetUserID,
		RoleID:         role.ID,
		Scope:          ScopeOrganization,
		OrganizationID: role.OrganizationID,
		GrantedBy:      strings.TrimSpace(actingUserID),
		ExpiresAt:      expiresAt,
		CreatedAt:      r.now(),
	}
	if err := r.store.Assign(ctx, a); err != nil {
		return Assignment{}, err
	}
	return a, nil
}

// RemoveOrgRole revokes an organization role after enforcing the escalation guard.
func (r *Resolver) RemoveOrgRole(ctx context.Context, actingUserID, orgID, targetUserID, roleID string) error {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	role, allowed, err := r.checkOrgRoleChange(ctx, actingUserID, orgID, roleID)
	if err != nil {
		return err
	}
	if !allowed {
		return denied(role)
	}
	return r.store.Unassign(ctx, targetUserID, role.ID)
}

// AssignPlatformRole grants a platform role after enforcing the escalation guard.
func (r *Resolver) AssignPlatformRole(ctx context.Context, actingUserID, targetUserID, roleID string, expiresAt *time.Time) (Assignment, error) {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return Assignment{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if err := r.validExpiry(expiresAt); err != nil {
		return Assignment{}, err
	}
	role, allowed, err := r.checkPlatformRoleChange(ctx, actingUserID, roleID)
	if err != nil {
		return Assignment{}, err
	}
	if !allowed {
		return Assignment{}, denied(role)
	}
	a := Assignment{
		UserID:    targetUserID,
		RoleID:    role.ID,
		Scope:     ScopePlatform,
		GrantedBy: strings.TrimSpace(actingUserID),
		ExpiresAt: expiresAt,
		CreatedAt: r.now(),
	}
	if err := r.store.Assign(ctx, a); err != nil {
		return Assignment{}, err
	}
	return a, nil
}

// RemovePlatformRole revokes a platform role after enforcing the escalation guard.
func (r *Resolver) RemovePlatformRole(ctx context.Context, actingUserID, targetUserID, roleID string) error {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	role, allowed, err := r.checkPlatformRoleChange(ctx, actingUserID, roleID)
	if err != nil {
		return err
	}
	if !allowed {
		return denied(role)
	}
	return r.store.Unassign(ctx, targetUserID, role.ID)
}

// EffectivePermissions returns the sorted permission keys the user holds in
// scope. For organization scope orgID is required and keys carry the "org:"
// prefix.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string, scope Scope, orgID string) ([]string, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: scope must be platform or organization", ErrInvalidInput)
	}
	if scope == ScopeOrganization && strings.TrimSpace(orgID) == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	if scope == ScopePlatform {
		orgID = ""
	}
	set, err := r.grants(ctx, strings.TrimSpace(userID), scope, strings.TrimSpace(orgID))
	if err != nil {
		return nil, err
	}
	keys := set.keys
	if scope == ScopePlatform && set.super {
		all, err := r.store.ListPermissions(ctx, ScopePlatform)
		if err != nil {
			return nil, err
		}
		keys = make(map[string]struct{}, len(all))
		for _, p := range all {
			keys[p.Key()] = struct{}{}
		}
	}
	out := make([]string, 0, len(keys))
	for k := range keys {
		if scope == ScopeOrganization {
			k = orgPrefix + k
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
