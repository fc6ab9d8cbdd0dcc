package goAuthCore

import (
	"context"
	"fmt"
)

// SwitchRole makes roleID current. The role must be in AvailableRoles and be
// confirmed by the directory; on failure the previous role stays current.
func (e *Engine) SwitchRole(ctx context.Context, roleID string) error {
	const op = "switch_role"
	if err := e.ready(); err != nil {
		return opError(op, err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	st := e.snapshot()
	if !st.IsAuthenticated || st.User == nil {
		return opError(op, ErrNotAuthenticated)
	}
	return opError(op, e.switchRoleLocked(ctx, st, roleID))
}

// switchRoleLocked validates roleID against st.AvailableRoles, which is the role
// list the caller just observed. opMu must be held.
func (e *Engine) switchRoleLocked(ctx context.Context, st AuthState, roleID string) error {
	fail := func(err error) error {
		e.metricInc(MetricRoleSwitchFailure)
		e.emitAudit(ctx, auditEventRoleSwitchFailure, false, err, func() map[string]string {
			return map[string]string{"requested_role_id": roleID}
		})
		return err
	}

	if _, ok := findRole(st.AvailableRoles, roleID); !ok {
		return fail(ErrRoleNotAvailable)
	}

	var tenantID string
	if st.Tenant != nil {
		tenantID = st.Tenant.ID
	}
	role, err := e.directory.SwitchRole(e.authCtx(ctx), st.User.ID, tenantID, roleID)
	if err != nil {
		return fail(fmt.Errorf("directory switch role: %w", err))
	}
	if role.ID != roleID {
		return fail(ErrRoleNotAvailable)
	}

	var previous string
	if st.CurrentRole != nil {
		previous = st.CurrentRole.ID
	}
	confirmed := cloneRole(role)
	e.update(func(s *AuthState) {
		s.CurrentRole = &confirmed
	})

	e.metricInc(MetricRoleSwitch)
	e.emitAudit(ctx, auditEventRoleSwitched, true, nil, func() map[string]string {
		return map[string]string{"previous_role_id": previous}
	})
	return nil
}

// SwitchTenant enters tenantID: the tenant and its roles replace the current ones,
// the current role is cleared and then the tenant's first role, if any, is
// switched to. If that role switch fails the tenant change stands and no role is
// current.
func (e *Engine) SwitchTenant(ctx context.Context, tenantID string) error {
	const op = "switch_tenant"
	if err := e.ready(); err != nil {
		return opError(op, err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	st := e.snapshot()
	if !st.IsAuthenticated || st.User == nil {
		return opError(op, ErrNotAuthenticated)
	}

	fail := func(err error) error {
		e.metricInc(MetricTenantSwitchFailure)
		e.emitAudit(ctx, auditEventTenantSwitchFailure, false, err, func() map[string]string {
			return map[string]string{"requested_tenant_id": tenantID}
		})
		return opError(op, err)
	}

	if tenantID == "" {
		return fail(ErrTenantNotAvailable)
	}

	tenant, roles, err := e.directory.SwitchTenant(e.authCtx(ctx), st.User.ID, tenantID)
	if err != nil {
		return fail(fmt.Errorf("directory switch tenant: %w", err))
	}
	if tenant.ID != tenantID {
		return fail(ErrTenantNotAvailable)
	}

	var previous string
	if st.Tenant != nil {
		previous = st.Tenant.ID
	}
	entered := cloneTenant(tenant)
	e.update(func(s *AuthState) {
		s.Tenant = &entered
		s.AvailableRoles = cloneRoles(roles)
		s.CurrentRole = nil
		s.IsSuperadmin = !s.IsImpersonating && hasSuperadminRole(roles)
	})

	e.metricInc(MetricTenantSwitch)
	e.emitAudit(ctx, auditEventTenantSwitched, true, nil, func() map[string]string {
		return map[string]string{"previous_tenant_id": previous}
	})

	if len(roles) == 0 {
		return nil
	}
	// The inner switch must see the roles of the tenant just entered.
	if err := e.switchRoleLocked(ctx, e.snapshot(), roles[0].ID); err != nil {
		return opError(op, err)
	}
	return nil
}
