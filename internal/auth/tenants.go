package auth

import (
	"context"
	"strings"

	"lidar.app/internal/ids"
)

// ListTenants returns every tenant, including deactivated and soft-deleted ones.
func (s *Service) ListTenants(ctx context.Context, actor Principal) ([]*Tenant, error) {
	if !actor.IsSystemAdmin() {
		return nil, ErrForbidden
	}
	return s.store.Tenants(ctx).ListAll(ctx, SystemScope())
}

// CurrentTenant returns the tenant the scope is bound to.
func (s *Service) CurrentTenant(ctx context.Context, scope Scope) (*Tenant, error) {
	if err := RequireTenant(scope); err != nil {
		return nil, err
	}
	return s.store.Tenants(ctx).Find(ctx, scope, scope.TenantID())
}

// SetTenantActive activates or deactivates a tenant. Users of an inactive
// tenant can neither log in nor refresh.
func (s *Service) SetTenantActive(ctx context.Context, actor Principal, id string, active bool) (*Tenant, error) {
	if !actor.IsSystemAdmin() {
		return nil, ErrForbidden
	}
	id = strings.TrimSpace(id)
	if !ids.Valid(id) {
		return nil, ErrNotFound
	}
	if id == SystemTenantID && !active {
		return nil, &ValidationError{Fields: map[string]string{"id": "system tenant cannot be deactivated"}}
	}
	tenants := s.store.Tenants(ctx)
	before, err := tenants.Find(ctx, SystemScope(), id)
	if err != nil {
		return nil, err
	}
	if before.IsActive == active {
		return before, nil
	}
	after, err := tenants.SetActive(ctx, SystemScope(), id, active)
	if err != nil {
		return nil, err
	}
	action := ActionTenantDeactivated
	if active {
		action = ActionTenantActivated
	}
	s.record(ctx, AuditRecord{
		ActorID:    actorPtr(actor.UserID),
		TenantID:   id,
		Action:     action,
		EntityType: "Tenant",
		EntityID:   id,
		Before:     snapshot(before),
		After:      snapshot(after),
	})
	return after, nil
}

// SoftDeleteTenant marks a tenant deleted. Deleting an already deleted tenant
// succeeds without a second audit entry.
func (s *Service) SoftDeleteTenant(ctx context.Context, actor Principal, id string) error {
	if !actor.IsSystemAdmin() {
		return ErrForbidden
	}
	id = strings.TrimSpace(id)
	if !ids.Valid(id) {
		return ErrNotFound
	}
	if id == SystemTenantID {
		return &ValidationError{Fields: map[string]string{"id": "system tenant cannot be deleted"}}
	}
	after, changed, err := s.store.Tenants(ctx).SoftDelete(ctx, SystemScope(), id)
	if err != nil || !changed {
		return err
	}
	before := *after
	before.IsDeleted = false
	s.record(ctx, AuditRecord{
		ActorID:    actorPtr(actor.UserID),
		TenantID:   id,
		Action:     ActionTenantSoftDeleted,
		EntityType: "Tenant",
		EntityID:   id,
		Before:     snapshot(before),
		After:      snapshot(after),
	})
	return nil
}
