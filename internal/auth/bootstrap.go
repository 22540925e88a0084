package auth

import (
	"context"
	"errors"
	"strings"

	"lidar.app/internal/ids"
	"lidar.app/internal/obs"
)

// BootstrapOptions describes the optional system administrator to seed.
type BootstrapOptions struct {
	AdminEmail       string
	AdminPassword    string
	AdminDisplayName string
}

var builtinRoleOrder = []string{RoleSystemAdmin, RoleTenantAdmin, RoleFinanceUser, RoleReadOnly}

// Bootstrap seeds the permission catalog, the global roles and their grants,
// the system tenant and, when configured, a system administrator. It is
// idempotent.
func (s *Service) Bootstrap(ctx context.Context, opts BootstrapOptions) error {
	email := normalizeEmail(opts.AdminEmail)
	if email != "" {
		v := &ValidationError{}
		checkEmail(v, "adminEmail", email)
		if msg := passwordProblem(opts.AdminPassword); msg != "" {
			v.add("adminPassword", msg)
		}
		if err := v.orNil(); err != nil {
			return err
		}
	}
	return s.store.WithTx(ctx, func(tx Store) error {
		roles := tx.Roles(ctx)
		if err := roles.EnsurePermissions(ctx, BuiltinPermissions); err != nil {
			return err
		}
		var systemAdmin *Role
		for _, name := range builtinRoleOrder {
			role, err := roles.Ensure(ctx, RoleKey{Name: name})
			if err != nil {
				return err
			}
			if err := roles.Grant(ctx, role.ID, BuiltinGrants[name]); err != nil {
				return err
			}
			if name == RoleSystemAdmin {
				systemAdmin = role
			}
		}

		now := s.now().UTC()
		_, err := tx.Tenants(ctx).Find(ctx, SystemScope(), SystemTenantID)
		if errors.Is(err, ErrNotFound) {
			err = tx.Tenants(ctx).Create(ctx, &Tenant{
				ID:                 SystemTenantID,
				Name:               SystemTenantName,
				RegistrationNumber: SystemRegistrationNumber,
				IsActive:           true,
				CreatedAt:          now,
			})
		}
		if err != nil {
			return err
		}
		if email == "" {
			return nil
		}

		scope := TenantScope(SystemTenantID)
		existing, err := tx.Users(ctx).FindByEmail(ctx, scope, email)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
		hash, err := HashPassword(opts.AdminPassword)
		if err != nil {
			return err
		}
		display := strings.TrimSpace(opts.AdminDisplayName)
		if display == "" {
			display = "System Administrator"
		}
		admin := &User{
			ID:           ids.New(),
			TenantID:     SystemTenantID,
			Email:        email,
			DisplayName:  display,
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Users(ctx).Create(ctx, admin); err != nil {
			return err
		}
		if err := tx.Users(ctx).SetRoles(ctx, scope, admin.ID, []string{systemAdmin.ID}); err != nil {
			return err
		}
		obs.Info("system_admin_seeded", map[string]any{"user_id": admin.ID})
		return nil
	})
}
