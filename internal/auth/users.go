package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"lidar.app/internal/ids"
	"lidar.app/internal/obs"
)

// lockoutForever is the lockout end recorded for deactivated users.
var lockoutForever = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// ListUsers returns the users visible in scope. The empty scope yields none.
func (s *Service) ListUsers(ctx context.Context, scope Scope) ([]*User, error) {
	if scope.Empty() {
		return []*User{}, nil
	}
	return s.store.Users(ctx).List(ctx, scope)
}

// GetUser returns a single user visible in scope.
func (s *Service) GetUser(ctx context.Context, scope Scope, id string) (*User, error) {
	if !ids.Valid(id) {
		return nil, ErrNotFound
	}
	return s.store.Users(ctx).Find(ctx, scope, id)
}

// CreateUser adds a user to the scope's tenant. An unknown role name creates
// a role private to that tenant.
func (s *Service) CreateUser(ctx context.Context, actor Principal, scope Scope, req CreateUserRequest) (*User, error) {
	if err := RequireTenant(scope); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &User{
		ID:           ids.New(),
		TenantID:     scope.TenantID(),
		Email:        normalizeEmail(req.Email),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	roleName := strings.TrimSpace(req.RoleName)
	err = s.store.WithTx(ctx, func(tx Store) error {
		role, err := tx.Roles(ctx).Resolve(ctx, scope, roleName)
		if errors.Is(err, ErrNotFound) {
			role, err = tx.Roles(ctx).Ensure(ctx, RoleKey{Name: roleName, TenantID: scope.TenantID()})
		}
		if err != nil {
			return err
		}
		if err := assignable(scope, role); err != nil {
			return err
		}
		if err := tx.Users(ctx).Create(ctx, user); err != nil {
			return err
		}
		return tx.Users(ctx).SetRoles(ctx, scope, user.ID, []string{role.ID})
	})
	if err != nil {
		return nil, err
	}
	user.Roles = []string{roleName}
	s.record(ctx, AuditRecord{
		ActorID:    actorPtr(actor.UserID),
		TenantID:   user.TenantID,
		Action:     ActionUserCreated,
		EntityType: "User",
		EntityID:   user.ID,
		After:      snapshot(user),
	})
	return user, nil
}

// UpdateUser changes display name, password or role assignments of a user in
// the scope's tenant. Assigned roles must already be visible in scope.
func (s *Service) UpdateUser(ctx context.Context, actor Principal, scope Scope, id string, req UpdateUserRequest) (*User, error) {
	if err := RequireTenant(scope); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !ids.Valid(id) {
		return nil, ErrNotFound
	}
	var before, after []byte
	var user *User
	err := s.store.WithTx(ctx, func(tx Store) error {
		u, err := tx.Users(ctx).Find(ctx, scope, id)
		if err != nil {
			return err
		}
		before = snapshot(u)
		if req.DisplayName != nil {
			u.DisplayName = strings.TrimSpace(*req.DisplayName)
		}
		if req.Password != nil && *req.Password != "" {
			hash, err := HashPassword(*req.Password)
			if err != nil {
				return err
			}
			u.PasswordHash = hash
		}
		u.UpdatedAt = s.now().UTC()
		if err := tx.Users(ctx).Update(ctx, scope, u); err != nil {
			return err
		}
		if req.Roles != nil {
			roleIDs := make([]string, 0, len(req.Roles))
			names := make([]string, 0, len(req.Roles))
			for _, name := range req.Roles {
				name = strings.TrimSpace(name)
				role, err := tx.Roles(ctx).Resolve(ctx, scope, name)
				if errors.Is(err, ErrNotFound) {
					return &ValidationError{Fields: map[string]string{"roles": "unknown role " + name}}
				}
				if err != nil {
					return err
				}
				if err := assignable(scope, role); err != nil {
					return err
				}
				roleIDs = append(roleIDs, role.ID)
				names = append(names, role.Name)
			}
			if err := tx.Users(ctx).SetRoles(ctx, scope, u.ID, roleIDs); err != nil {
				return err
			}
			u.Roles = names
		}
		after = snapshot(u)
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, AuditRecord{
		ActorID:    actorPtr(actor.UserID),
		TenantID:   user.TenantID,
		Action:     ActionUserUpdated,
		EntityType: "User",
		EntityID:   user.ID,
		Before:     before,
		After:      after,
	})
	return user, nil
}

// DeactivateUser locks a user out and revokes every refresh token they hold.
func (s *Service) DeactivateUser(ctx context.Context, actor Principal, scope Scope, id string) (*User, error) {
	if err := RequireTenant(scope); err != nil {
		return nil, err
	}
	if !ids.Valid(id) {
		return nil, ErrNotFound
	}
	if id == actor.UserID {
		return nil, &ValidationError{Fields: map[string]string{"id": "cannot deactivate yourself"}}
	}
	var before []byte
	var u *User
	var n int
	err := s.store.WithTx(ctx, func(tx Store) error {
		found, err := tx.Users(ctx).Find(ctx, scope, id)
		if err != nil {
			return err
		}
		before = snapshot(found)
		until := lockoutForever
		found.LockoutEnabled = true
		found.LockoutUntil = &until
		found.UpdatedAt = s.now().UTC()
		if err := tx.Users(ctx).Update(ctx, scope, found); err != nil {
			return err
		}
		n, err = s.issuer.revokeAllIn(ctx, tx.RefreshTokens(ctx), found.ID)
		if err != nil {
			return fmt.Errorf("revoke refresh tokens: %w", err)
		}
		u = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	obs.Info("user_deactivated", map[string]any{"user_id": u.ID, "tenant_id": u.TenantID, "revoked_tokens": n})
	s.record(ctx, AuditRecord{
		ActorID:    actorPtr(actor.UserID),
		TenantID:   u.TenantID,
		Action:     ActionUserDeactivated,
		EntityType: "User",
		EntityID:   u.ID,
		Before:     before,
		After:      snapshot(u),
	})
	return u, nil
}

// assignable rejects roles that carry system-wide rights unless the user
// belongs to the system tenant.
func assignable(scope Scope, role *Role) error {
	if scope.TenantID() == SystemTenantID {
		return nil
	}
	if strings.EqualFold(role.Name, RoleSystemAdmin) || slices.Contains(role.Permissions, PermTenantsManage) {
		return ErrForbidden
	}
	return nil
}

// ListRoles returns global roles plus roles private to the scope's tenant.
func (s *Service) ListRoles(ctx context.Context, scope Scope) ([]*Role, error) {
	if scope.Empty() {
		return []*Role{}, nil
	}
	return s.store.Roles(ctx).List(ctx, scope)
}

// ListAudit returns the newest audit entries of the scope's tenant.
func (s *Service) ListAudit(ctx context.Context, scope Scope, limit int) ([]*AuditRecord, error) {
	if scope.Empty() {
		return []*AuditRecord{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.Audit(ctx).List(ctx, scope, limit)
}
