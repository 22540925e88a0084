package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"lidar.app/internal/auth"
	"lidar.app/internal/ids"
)

var errAbort = errors.New("abort")

func seedUser(t *testing.T, s *Store, regNo string) (*auth.Tenant, *auth.User) {
	t.Helper()
	ctx := context.Background()
	tenant := &auth.Tenant{ID: ids.New(), Name: "Tenant " + regNo, RegistrationNumber: regNo, IsActive: true}
	if err := s.Tenants(ctx).Create(ctx, tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	user := &auth.User{ID: ids.New(), TenantID: tenant.ID, Email: regNo + "@example.com", DisplayName: "Owner"}
	if err := s.Users(ctx).Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return tenant, user
}

func seedToken(t *testing.T, s *Store, key, userID string) {
	t.Helper()
	now := time.Now().UTC()
	rec := &auth.RefreshToken{ID: ids.New(), Token: key, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := s.RefreshTokens(context.Background()).Create(context.Background(), rec); err != nil {
		t.Fatalf("create token %s: %v", key, err)
	}
}

func TestFailedTxKeepsConcurrentRotation(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, user := seedUser(t, s, "R-1")
	seedToken(t, s, "T1", user.ID)

	inTx := make(chan struct{})
	rotated := make(chan struct{})
	done := make(chan error, 1)
	var sideTenant string
	go func() {
		done <- s.WithTx(ctx, func(tx auth.Store) error {
			tenant := &auth.Tenant{ID: ids.New(), Name: "Side", RegistrationNumber: "R-2", IsActive: true}
			sideTenant = tenant.ID
			if err := tx.Tenants(ctx).Create(ctx, tenant); err != nil {
				return err
			}
			close(inTx)
			<-rotated
			return errAbort
		})
	}()

	<-inTx
	now := time.Now().UTC()
	next := &auth.RefreshToken{ID: ids.New(), Token: "T2", UserID: user.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := s.RefreshTokens(ctx).Rotate(ctx, "T1", now, next); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	close(rotated)
	if err := <-done; !errors.Is(err, errAbort) {
		t.Fatalf("expected transaction error, got %v", err)
	}

	prev, err := s.RefreshTokens(ctx).Find(ctx, "T1")
	if err != nil {
		t.Fatalf("Find T1: %v", err)
	}
	if prev.RevokedAt == nil || prev.ReplacedByToken == nil || *prev.ReplacedByToken != "T2" {
		t.Fatalf("expected T1 to stay rotated, got %+v", prev)
	}
	if _, err := s.RefreshTokens(ctx).Find(ctx, "T2"); err != nil {
		t.Fatalf("expected successor to survive rollback: %v", err)
	}
	if _, err := s.Tenants(ctx).Find(ctx, auth.SystemScope(), sideTenant); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected tenant created in failed tx to be gone, got %v", err)
	}
}

func TestFailedTxRevertsItsOwnWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	tenant, user := seedUser(t, s, "R-1")
	seedToken(t, s, "T1", user.ID)
	if err := s.Roles(ctx).EnsurePermissions(ctx, auth.BuiltinPermissions); err != nil {
		t.Fatalf("EnsurePermissions: %v", err)
	}
	reader, err := s.Roles(ctx).Ensure(ctx, auth.RoleKey{Name: auth.RoleReadOnly})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := s.Roles(ctx).Grant(ctx, reader.ID, []string{auth.PermTenantRead}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	scope := auth.TenantScope(tenant.ID)

	err = s.WithTx(ctx, func(tx auth.Store) error {
		newcomer := &auth.User{ID: ids.New(), TenantID: tenant.ID, Email: "new@example.com"}
		if err := tx.Users(ctx).Create(ctx, newcomer); err != nil {
			return err
		}
		renamed := *user
		renamed.DisplayName = "Renamed"
		if err := tx.Users(ctx).Update(ctx, scope, &renamed); err != nil {
			return err
		}
		if err := tx.Users(ctx).SetRoles(ctx, scope, user.ID, []string{reader.ID}); err != nil {
			return err
		}
		if err := tx.Roles(ctx).Grant(ctx, reader.ID, []string{auth.PermReportsRead}); err != nil {
			return err
		}
		if _, err := tx.Roles(ctx).Ensure(ctx, auth.RoleKey{Name: "Teller", TenantID: tenant.ID}); err != nil {
			return err
		}
		if _, err := tx.RefreshTokens(ctx).RevokeAllForUser(ctx, user.ID, time.Now().UTC()); err != nil {
			return err
		}
		if err := tx.Audit(ctx).Append(ctx, &auth.AuditRecord{ID: ids.New(), TenantID: tenant.ID, Action: "user.updated"}); err != nil {
			return err
		}
		// Nested calls join the enclosing transaction.
		return tx.WithTx(ctx, func(inner auth.Store) error {
			return inner.Tenants(ctx).Create(ctx, &auth.Tenant{ID: ids.New(), Name: "Nested", RegistrationNumber: "R-9"})
		})
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	err = s.WithTx(ctx, func(tx auth.Store) error {
		if _, _, err := tx.Tenants(ctx).SoftDelete(ctx, auth.SystemScope(), tenant.ID); err != nil {
			return err
		}
		if _, err := tx.Users(ctx).Find(ctx, scope, user.ID); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort, got %v", err)
	}
	if _, err := s.Tenants(ctx).Find(ctx, scope, tenant.ID); err != nil {
		t.Fatalf("expected soft delete to be reverted: %v", err)
	}

	// The first transaction committed; undo a fresh set of writes on top of it.
	err = s.WithTx(ctx, func(tx auth.Store) error {
		if err := tx.Users(ctx).SetRoles(ctx, scope, user.ID, nil); err != nil {
			return err
		}
		if err := tx.Roles(ctx).Grant(ctx, reader.ID, []string{auth.PermAuditRead}); err != nil {
			return err
		}
		seedOther := &auth.RefreshToken{ID: ids.New(), Token: "T9", UserID: user.ID, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}
		if err := tx.RefreshTokens(ctx).Create(ctx, seedOther); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort, got %v", err)
	}

	got, err := s.Users(ctx).Find(ctx, scope, user.ID)
	if err != nil {
		t.Fatalf("Find user: %v", err)
	}
	if got.DisplayName != "Renamed" || len(got.Roles) != 1 || got.Roles[0] != auth.RoleReadOnly {
		t.Fatalf("expected committed update and roles, got %+v", got)
	}
	role, err := s.Roles(ctx).Resolve(ctx, scope, auth.RoleReadOnly)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(role.Permissions) != 2 || role.Permissions[0] != auth.PermReportsRead || role.Permissions[1] != auth.PermTenantRead {
		t.Fatalf("expected committed grants only, got %v", role.Permissions)
	}
	if _, err := s.RefreshTokens(ctx).Find(ctx, "T9"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected token created in failed tx to be gone, got %v", err)
	}
}

func TestFailedTxLeavesSeparateRevocationAlone(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, user := seedUser(t, s, "R-1")

	inTx := make(chan struct{})
	revoked := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTx(ctx, func(tx auth.Store) error {
			now := time.Now().UTC()
			rec := &auth.RefreshToken{ID: ids.New(), Token: "T3", UserID: user.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
			if err := tx.RefreshTokens(ctx).Create(ctx, rec); err != nil {
				return err
			}
			close(inTx)
			<-revoked
			return errAbort
		})
	}()

	<-inTx
	ok, err := s.RefreshTokens(ctx).Revoke(ctx, "T3", time.Now().UTC())
	if err != nil || !ok {
		t.Fatalf("Revoke: %v %v", ok, err)
	}
	close(revoked)
	if err := <-done; !errors.Is(err, errAbort) {
		t.Fatalf("expected abort, got %v", err)
	}
	rec, err := s.RefreshTokens(ctx).Find(ctx, "T3")
	if err != nil {
		t.Fatalf("Find T3: %v", err)
	}
	if rec.RevokedAt == nil {
		t.Fatal("expected revocation to survive rollback")
	}
}

func TestSameRoleNameInTwoTenants(t *testing.T) {
	s := New()
	ctx := context.Background()
	tenantA, _ := seedUser(t, s, "R-A")
	tenantB, _ := seedUser(t, s, "R-B")
	roles := s.Roles(ctx)
	if err := roles.EnsurePermissions(ctx, auth.BuiltinPermissions); err != nil {
		t.Fatalf("EnsurePermissions: %v", err)
	}
	global, err := roles.Ensure(ctx, auth.RoleKey{Name: auth.RoleReadOnly})
	if err != nil {
		t.Fatalf("Ensure global: %v", err)
	}
	if err := roles.Grant(ctx, global.ID, auth.BuiltinGrants[auth.RoleReadOnly]); err != nil {
		t.Fatalf("Grant global: %v", err)
	}
	privateA, err := roles.Ensure(ctx, auth.RoleKey{Name: auth.RoleReadOnly, TenantID: tenantA.ID})
	if err != nil {
		t.Fatalf("Ensure A: %v", err)
	}
	privateB, err := roles.Ensure(ctx, auth.RoleKey{Name: auth.RoleReadOnly, TenantID: tenantB.ID})
	if err != nil {
		t.Fatalf("Ensure B: %v", err)
	}
	if err := roles.Grant(ctx, privateA.ID, []string{auth.PermAuditRead}); err != nil {
		t.Fatalf("Grant A: %v", err)
	}
	if err := roles.Grant(ctx, privateB.ID, []string{auth.PermUsersManage}); err != nil {
		t.Fatalf("Grant B: %v", err)
	}

	cases := []struct {
		tenant, own, other string
		perms              []string
	}{
		{tenantA.ID, privateA.ID, privateB.ID, []string{auth.PermAuditRead, auth.PermReportsRead, auth.PermTenantRead}},
		{tenantB.ID, privateB.ID, privateA.ID, []string{auth.PermReportsRead, auth.PermTenantRead, auth.PermUsersManage}},
	}
	for _, tc := range cases {
		scope := auth.TenantScope(tc.tenant)
		list, err := roles.List(ctx, scope)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("scope %s expected global and own role, got %d", scope, len(list))
		}
		for _, r := range list {
			if r.ID == tc.other {
				t.Fatalf("scope %s listed another tenant's role", scope)
			}
		}
		resolved, err := roles.Resolve(ctx, scope, "readonly")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if resolved.ID != tc.own {
			t.Fatalf("scope %s resolved %s, want own private role %s", scope, resolved.ID, tc.own)
		}
		perms, err := roles.Permissions(ctx, scope, []string{auth.RoleReadOnly})
		if err != nil {
			t.Fatalf("Permissions: %v", err)
		}
		if len(perms) != len(tc.perms) {
			t.Fatalf("scope %s permissions %v, want %v", scope, perms, tc.perms)
		}
		for i := range perms {
			if perms[i] != tc.perms[i] {
				t.Fatalf("scope %s permissions %v, want %v", scope, perms, tc.perms)
			}
		}
	}
}
