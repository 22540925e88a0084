package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lidar.app/internal/auth"
	"lidar.app/internal/obs"
	"lidar.app/internal/store/memory"
)

const password = "Correct$Horse9"

type captured struct {
	mu      sync.Mutex
	records []auth.AuditRecord
}

func (c *captured) Record(_ context.Context, rec auth.AuditRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

func (c *captured) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r.Action)
	}
	return out
}

type fixture struct {
	svc   *auth.Service
	store *memory.Store
	audit *captured
	clock *clock
}

func newFixture(t *testing.T, opts ...auth.IssuerOption) *fixture {
	t.Helper()
	clk := newClock()
	store := memory.New()
	issuer := newIssuer(t, store, append([]auth.IssuerOption{auth.WithClock(clk.Now)}, opts...)...)
	rec := &captured{}
	svc, err := auth.NewService(store, issuer, auth.WithAuditRecorder(rec), auth.WithServiceClock(clk.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Bootstrap(context.Background(), auth.BootstrapOptions{}); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return &fixture{svc: svc, store: store, audit: rec, clock: clk}
}

func systemAdmin() auth.Principal {
	return auth.Principal{UserID: "sys", TenantID: auth.SystemTenantID, Roles: []string{auth.RoleSystemAdmin}}
}

func (f *fixture) register(t *testing.T, regNo, email string) *auth.Session {
	t.Helper()
	sess, err := f.svc.Register(context.Background(), auth.RegisterRequest{
		TenantName:         "Tenant " + regNo,
		RegistrationNumber: regNo,
		Email:              email,
		Password:           password,
		DisplayName:        "Owner",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return sess
}

func TestRegisterCreatesTenantAdminAndSession(t *testing.T) {
	f := newFixture(t)
	ctx := obs.WithRequestID(context.Background(), "req-1")
	sess, err := f.svc.Register(ctx, auth.RegisterRequest{
		TenantName:         "Umoja SACCO",
		RegistrationNumber: "CS/1234",
		Email:              " Admin@Umoja.example ",
		Password:           password,
		DisplayName:        "Jane",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if sess.User.Email != "admin@umoja.example" {
		t.Fatalf("expected normalized email, got %q", sess.User.Email)
	}
	if len(sess.User.Roles) != 1 || sess.User.Roles[0] != auth.RoleTenantAdmin {
		t.Fatalf("unexpected roles: %v", sess.User.Roles)
	}
	if sess.Audit.Action != auth.ActionRegisterTenant || sess.Audit.RequestID != "req-1" {
		t.Fatalf("unexpected audit: %+v", sess.Audit)
	}
	if sess.Audit.ActorID == nil || *sess.Audit.ActorID != sess.User.ID {
		t.Fatal("expected registering user as actor")
	}
	tenant, err := f.svc.CurrentTenant(ctx, auth.TenantScope(sess.User.TenantID))
	if err != nil || tenant.Name != "Umoja SACCO" || !tenant.IsActive {
		t.Fatalf("CurrentTenant: %+v %v", tenant, err)
	}
	claims, err := f.svc.Issuer().ParseAccessToken(sess.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.TenantID != sess.User.TenantID || claims.Email != "admin@umoja.example" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(context.Background(), auth.RegisterRequest{
		TenantName: "",
		Email:      "not-an-email",
		Password:   "short",
	})
	var verr *auth.ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, auth.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"tenantName", "registrationNumber", "email", "password", "displayName"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Fatalf("expected %s to be reported, got %v", field, verr.Fields)
		}
	}
	if len(f.audit.actions()) != 0 {
		t.Fatal("expected no audit for failed registration")
	}
}

func TestRegisterDuplicateRegistrationNumberRollsBack(t *testing.T) {
	f := newFixture(t)
	f.register(t, "DUP-1", "one@example.com")
	_, err := f.svc.Register(context.Background(), auth.RegisterRequest{
		TenantName: "Again", RegistrationNumber: "dup-1", Email: "two@example.com", Password: password, DisplayName: "Two",
	})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	users, _ := f.store.Users(context.Background()).FindByEmail(context.Background(), auth.SystemScope(), "two@example.com")
	if len(users) != 0 {
		t.Fatal("expected rollback to remove the user")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.register(t, "LOGIN-1", "user@example.com")
	ctx := context.Background()

	cases := []auth.Credentials{
		{Email: "nobody@example.com", Password: password},
		{Email: "user@example.com", Password: "Wrong$Password1"},
	}
	for _, c := range cases {
		if _, err := f.svc.Login(ctx, c); !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("Login(%s): expected invalid credentials, got %v", c.Email, err)
		}
	}
	if _, err := f.svc.Login(ctx, auth.Credentials{Email: "user@example.com"}); !errors.Is(err, auth.ErrValidation) {
		t.Fatalf("expected missing password to be a validation error, got %v", err)
	}
	sess, err := f.svc.Login(ctx, auth.Credentials{Email: "USER@example.com", Password: password})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.Audit.Action != auth.ActionLogin || sess.Audit.EntityType != "Auth" {
		t.Fatalf("unexpected audit: %+v", sess.Audit)
	}
}

func TestLoginBlockedForInactiveTenant(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "INACTIVE-1", "owner@example.com")
	ctx := context.Background()
	sysAdmin := systemAdmin()

	if _, err := f.svc.SetTenantActive(ctx, sysAdmin, sess.User.TenantID, false); err != nil {
		t.Fatalf("SetTenantActive: %v", err)
	}
	if _, err := f.svc.Login(ctx, auth.Credentials{Email: "owner@example.com", Password: password}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected login to fail for inactive tenant, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, sess.Tokens.RefreshToken); !errors.Is(err, auth.ErrInactiveToken) {
		t.Fatalf("expected refresh to fail for inactive tenant, got %v", err)
	}
	if _, err := f.svc.SetTenantActive(ctx, sysAdmin, sess.User.TenantID, true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if _, err := f.svc.Login(ctx, auth.Credentials{Email: "owner@example.com", Password: password}); err != nil {
		t.Fatalf("expected login after reactivation: %v", err)
	}
}

func TestLoginAmbiguousEmailNeedsTenant(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, "AMB-A", "shared@example.com")
	f.register(t, "AMB-B", "shared@example.com")
	ctx := context.Background()

	if _, err := f.svc.Login(ctx, auth.Credentials{Email: "shared@example.com", Password: password}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ambiguous login to fail, got %v", err)
	}
	sess, err := f.svc.Login(ctx, auth.Credentials{Email: "shared@example.com", Password: password, TenantID: a.User.TenantID})
	if err != nil {
		t.Fatalf("Login with tenant: %v", err)
	}
	if sess.User.TenantID != a.User.TenantID {
		t.Fatalf("expected tenant %s, got %s", a.User.TenantID, sess.User.TenantID)
	}
}

func TestRefreshRotatesAndRejectsReplay(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "REFRESH-1", "r@example.com")
	ctx := context.Background()

	next, err := f.svc.Refresh(ctx, reg.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.Tokens.RefreshToken == reg.Tokens.RefreshToken || next.Tokens.AccessToken == "" {
		t.Fatal("expected a new pair")
	}
	if next.Audit.Action != auth.ActionRefreshToken || len(next.Audit.Before) == 0 || len(next.Audit.After) == 0 {
		t.Fatalf("unexpected audit: %+v", next.Audit)
	}
	if _, err := f.svc.Refresh(ctx, reg.Tokens.RefreshToken); !errors.Is(err, auth.ErrTokenReplay) {
		t.Fatalf("expected replay, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, "garbage"); !errors.Is(err, auth.ErrInactiveToken) {
		t.Fatalf("expected unknown token to be inactive, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, next.Tokens.RefreshToken); err != nil {
		t.Fatalf("expected successor to refresh: %v", err)
	}
}

func TestRefreshAfterExpiry(t *testing.T) {
	f := newFixture(t, auth.WithRefreshTTL(time.Hour))
	reg := f.register(t, "EXP-1", "e@example.com")
	f.clock.Advance(2 * time.Hour)
	if _, err := f.svc.Refresh(context.Background(), reg.Tokens.RefreshToken); !errors.Is(err, auth.ErrInactiveToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "LOGOUT-1", "l@example.com")
	other := f.register(t, "LOGOUT-2", "m@example.com")
	ctx := context.Background()
	principal := auth.Principal{UserID: reg.User.ID, TenantID: reg.User.TenantID}

	if _, err := f.svc.Logout(ctx, principal, other.Tokens.RefreshToken); !errors.Is(err, auth.ErrInactiveToken) {
		t.Fatalf("expected foreign token logout to fail, got %v", err)
	}
	rec, err := f.svc.Logout(ctx, principal, reg.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if rec.Action != auth.ActionLogout || rec.TenantID != reg.User.TenantID {
		t.Fatalf("unexpected audit: %+v", rec)
	}
	if _, err := f.svc.Logout(ctx, principal, reg.Tokens.RefreshToken); !errors.Is(err, auth.ErrInactiveToken) {
		t.Fatalf("expected second logout to fail, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, other.Tokens.RefreshToken); err != nil {
		t.Fatalf("expected other session untouched: %v", err)
	}
}

func TestAuthenticateResolvesPermissions(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "AUTHN-1", "p@example.com")
	p, err := f.svc.Authenticate(context.Background(), reg.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	for _, perm := range []string{auth.PermUsersManage, auth.PermAuditRead, auth.PermTenantRead} {
		if !p.HasPermission(perm) {
			t.Fatalf("expected %s", perm)
		}
	}
	if p.HasPermission(auth.PermTenantsManage) {
		t.Fatal("tenant admin must not manage tenants")
	}

	token, _, err := f.svc.Issuer().CreateAccessToken(reg.User.ID, "", "p@example.com", []string{auth.RoleTenantAdmin}, nil)
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	noTenant, err := f.svc.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate without tenant: %v", err)
	}
	if len(noTenant.Permissions) != 0 {
		t.Fatalf("expected no permissions without tenant claim, got %v", noTenant.Permissions)
	}
	if _, err := f.svc.Authenticate(context.Background(), "nope"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestEmptyScopeSeesNothing(t *testing.T) {
	f := newFixture(t)
	f.register(t, "EMPTY-1", "x@example.com")
	ctx := context.Background()

	users, err := f.svc.ListUsers(ctx, auth.ResolveScope(auth.Principal{UserID: "u"}))
	if err != nil || len(users) != 0 {
		t.Fatalf("expected no users, got %d %v", len(users), err)
	}
	if _, err := f.svc.CurrentTenant(ctx, auth.Scope{}); !errors.Is(err, auth.ErrMissingTenantContext) {
		t.Fatalf("expected missing tenant context, got %v", err)
	}
	if _, err := f.svc.CreateUser(ctx, auth.Principal{}, auth.Scope{}, auth.CreateUserRequest{}); !errors.Is(err, auth.ErrMissingTenantContext) {
		t.Fatalf("expected missing tenant context, got %v", err)
	}
}

func TestUserManagementAudited(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "USERS-1", "owner@example.com")
	ctx := context.Background()
	scope := auth.TenantScope(reg.User.TenantID)
	admin := auth.Principal{UserID: reg.User.ID, TenantID: reg.User.TenantID}

	u, err := f.svc.CreateUser(ctx, admin, scope, auth.CreateUserRequest{
		Email: "teller@example.com", Password: password, DisplayName: "Teller", RoleName: "Teller",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	roles, err := f.svc.ListRoles(ctx, scope)
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	var private *auth.Role
	for _, r := range roles {
		if r.Name == "Teller" {
			private = r
		}
	}
	if private == nil || private.TenantID == nil || *private.TenantID != reg.User.TenantID {
		t.Fatalf("expected tenant-private Teller role, got %+v", private)
	}

	name := "Head Teller"
	updated, err := f.svc.UpdateUser(ctx, admin, scope, u.ID, auth.UpdateUserRequest{
		DisplayName: &name,
		Roles:       []string{auth.RoleFinanceUser},
	})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if updated.DisplayName != name || len(updated.Roles) != 1 || updated.Roles[0] != auth.RoleFinanceUser {
		t.Fatalf("unexpected update: %+v", updated)
	}
	if _, err := f.svc.UpdateUser(ctx, admin, scope, u.ID, auth.UpdateUserRequest{Roles: []string{"Ghost"}}); !errors.Is(err, auth.ErrValidation) {
		t.Fatalf("expected unknown role to be rejected, got %v", err)
	}
	if _, err := f.svc.DeactivateUser(ctx, admin, scope, admin.UserID); !errors.Is(err, auth.ErrValidation) {
		t.Fatalf("expected self-deactivation to be rejected, got %v", err)
	}
	if _, err := f.svc.DeactivateUser(ctx, admin, scope, u.ID); err != nil {
		t.Fatalf("DeactivateUser: %v", err)
	}

	want := []string{auth.ActionRegisterTenant, auth.ActionUserCreated, auth.ActionUserUpdated, auth.ActionUserDeactivated}
	got := f.audit.actions()
	if len(got) != len(want) {
		t.Fatalf("expected actions %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected actions %v, got %v", want, got)
		}
	}
}

func TestSystemRightsStayInSystemTenant(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "ESC-1", "owner@example.com")
	ctx := context.Background()
	scope := auth.TenantScope(reg.User.TenantID)
	owner := auth.Principal{UserID: reg.User.ID, TenantID: reg.User.TenantID, Roles: []string{auth.RoleSystemAdmin}}

	_, err := f.svc.CreateUser(ctx, owner, scope, auth.CreateUserRequest{
		Email: "mole@example.com", Password: password, DisplayName: "Mole", RoleName: "systemadmin",
	})
	if !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected system role to be refused, got %v", err)
	}
	if users, _ := f.svc.ListUsers(ctx, scope); len(users) != 1 {
		t.Fatalf("expected no user to be created, got %d users", len(users))
	}
	_, err = f.svc.UpdateUser(ctx, owner, scope, reg.User.ID, auth.UpdateUserRequest{Roles: []string{auth.RoleTenantAdmin, auth.RoleSystemAdmin}})
	if !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected system role to be refused on update, got %v", err)
	}
	if u, _ := f.svc.GetUser(ctx, scope, reg.User.ID); len(u.Roles) != 1 || u.Roles[0] != auth.RoleTenantAdmin {
		t.Fatalf("expected roles unchanged, got %v", u.Roles)
	}

	if _, err := f.svc.ListTenants(ctx, owner); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected tenant listing to be refused, got %v", err)
	}
	if _, err := f.svc.SetTenantActive(ctx, owner, reg.User.TenantID, false); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected deactivation to be refused, got %v", err)
	}
	if err := f.svc.SoftDeleteTenant(ctx, owner, reg.User.TenantID); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected soft delete to be refused, got %v", err)
	}

	ops, err := f.svc.CreateUser(ctx, systemAdmin(), auth.TenantScope(auth.SystemTenantID), auth.CreateUserRequest{
		Email: "ops@lidar.example", Password: password, DisplayName: "Ops", RoleName: auth.RoleSystemAdmin,
	})
	if err != nil {
		t.Fatalf("expected system tenant to accept a second administrator: %v", err)
	}
	if len(ops.Roles) != 1 || ops.Roles[0] != auth.RoleSystemAdmin {
		t.Fatalf("unexpected roles: %v", ops.Roles)
	}
}

var errRevokeFailed = errors.New("revoke failed")

// revokeFailingStore fails every RevokeAllForUser, inside transactions too.
type revokeFailingStore struct{ auth.Store }

func (s revokeFailingStore) RefreshTokens(ctx context.Context) auth.RefreshTokenStore {
	return revokeFailingTokens{s.Store.RefreshTokens(ctx)}
}

func (s revokeFailingStore) WithTx(ctx context.Context, fn func(auth.Store) error) error {
	return s.Store.WithTx(ctx, func(tx auth.Store) error { return fn(revokeFailingStore{tx}) })
}

type revokeFailingTokens struct{ auth.RefreshTokenStore }

func (revokeFailingTokens) RevokeAllForUser(context.Context, string, time.Time) (int, error) {
	return 0, errRevokeFailed
}

func TestDeactivateUserRollsBackWhenRevokeFails(t *testing.T) {
	clk := newClock()
	store := memory.New()
	rec := &captured{}
	svc, err := auth.NewService(revokeFailingStore{store}, newIssuer(t, store, auth.WithClock(clk.Now)),
		auth.WithAuditRecorder(rec), auth.WithServiceClock(clk.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()
	if err := svc.Bootstrap(ctx, auth.BootstrapOptions{}); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	reg, err := svc.Register(ctx, auth.RegisterRequest{
		TenantName: "Tenant REV-1", RegistrationNumber: "REV-1", Email: "owner@example.com", Password: password, DisplayName: "Owner",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	scope := auth.TenantScope(reg.User.TenantID)
	admin := auth.Principal{UserID: reg.User.ID, TenantID: reg.User.TenantID}
	teller, err := svc.CreateUser(ctx, admin, scope, auth.CreateUserRequest{
		Email: "teller@example.com", Password: password, DisplayName: "Teller", RoleName: auth.RoleFinanceUser,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	sess, err := svc.Login(ctx, auth.Credentials{Email: "teller@example.com", Password: password})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := svc.DeactivateUser(ctx, admin, scope, teller.ID); !errors.Is(err, errRevokeFailed) {
		t.Fatalf("expected revoke failure, got %v", err)
	}
	got, err := svc.GetUser(ctx, scope, teller.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.LockoutEnabled || got.LockoutUntil != nil {
		t.Fatalf("expected lockout to be rolled back, got %+v", got)
	}
	if _, err := svc.Refresh(ctx, sess.Tokens.RefreshToken); err != nil {
		t.Fatalf("expected teller session to stay usable: %v", err)
	}
	for _, action := range rec.actions() {
		if action == auth.ActionUserDeactivated {
			t.Fatal("expected no deactivation audit entry")
		}
	}
}

func TestSoftDeleteTenantIsIdempotent(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "DEL-1", "d@example.com")
	ctx := context.Background()
	sys := systemAdmin()

	if err := f.svc.SoftDeleteTenant(ctx, sys, reg.User.TenantID); err != nil {
		t.Fatalf("SoftDeleteTenant: %v", err)
	}
	if err := f.svc.SoftDeleteTenant(ctx, sys, reg.User.TenantID); err != nil {
		t.Fatalf("second SoftDeleteTenant: %v", err)
	}
	deletes := 0
	for _, a := range f.audit.actions() {
		if a == auth.ActionTenantSoftDeleted {
			deletes++
		}
	}
	if deletes != 1 {
		t.Fatalf("expected one delete audit, got %d", deletes)
	}
	if err := f.svc.SoftDeleteTenant(ctx, sys, auth.SystemTenantID); !errors.Is(err, auth.ErrValidation) {
		t.Fatalf("expected system tenant to be protected, got %v", err)
	}
	if err := f.svc.SoftDeleteTenant(ctx, sys, "01ARZ3NDEKTSV4RRFFQ69G5FAV"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected unknown tenant to be not found, got %v", err)
	}
	if _, err := f.svc.Login(ctx, auth.Credentials{Email: "d@example.com", Password: password}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected login to fail for deleted tenant, got %v", err)
	}
	tenants, err := f.svc.ListTenants(ctx, sys)
	if err != nil {
		t.Fatalf("ListTenants: %v", err)
	}
	if len(tenants) != 2 {
		t.Fatalf("expected system and deleted tenant listed, got %d", len(tenants))
	}
}

func TestBootstrapSeedsSystemAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opts := auth.BootstrapOptions{AdminEmail: "root@lidar.example", AdminPassword: password}
	for i := 0; i < 2; i++ {
		if err := f.svc.Bootstrap(ctx, opts); err != nil {
			t.Fatalf("Bootstrap #%d: %v", i, err)
		}
	}
	users, err := f.svc.ListUsers(ctx, auth.TenantScope(auth.SystemTenantID))
	if err != nil || len(users) != 1 {
		t.Fatalf("expected one system admin, got %d %v", len(users), err)
	}
	sess, err := f.svc.Login(ctx, auth.Credentials{Email: "root@lidar.example", Password: password})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	p, err := f.svc.Authenticate(ctx, sess.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !p.HasRole(auth.RoleSystemAdmin) || !p.HasPermission(auth.PermTenantsManage) {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if err := f.svc.Bootstrap(ctx, auth.BootstrapOptions{AdminEmail: "root@lidar.example", AdminPassword: "weak"}); !errors.Is(err, auth.ErrValidation) {
		t.Fatalf("expected weak admin password to be rejected, got %v", err)
	}
}
