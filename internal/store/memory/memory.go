// Package memory is an in-process implementation of auth.Store used by tests
// and by single-node development runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"lidar.app/internal/auth"
	"lidar.app/internal/ids"
)

// Store keeps every entity in maps guarded by one lock. WithTx serializes
// transactions; a failed transaction reverts only the entries it wrote.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data state
}

type state struct {
	tenants   map[string]auth.Tenant
	users     map[string]auth.User
	userRoles map[string][]string
	roles     map[string]auth.Role
	rolePerms map[string]map[string]struct{}
	perms     map[string]auth.Permission
	tokens    map[string]auth.RefreshToken
	audit     []auth.AuditRecord
}

var (
	_ auth.Store = (*Store)(nil)
	_ auth.Store = txStore{}
)

// New returns an empty store.
func New() *Store {
	return &Store{data: state{
		tenants:   map[string]auth.Tenant{},
		users:     map[string]auth.User{},
		userRoles: map[string][]string{},
		roles:     map[string]auth.Role{},
		rolePerms: map[string]map[string]struct{}{},
		perms:     map[string]auth.Permission{},
		tokens:    map[string]auth.RefreshToken{},
	}}
}

func (s *Store) Tenants(context.Context) auth.TenantStore { return tenantStore{s: s} }
func (s *Store) Users(context.Context) auth.UserStore { return userStore{s: s} }
func (s *Store) Roles(context.Context) auth.RoleStore { return roleStore{s: s} }
func (s *Store) Audit(context.Context) auth.AuditStore { return auditStore{s: s} }
func (s *Store) RefreshTokens(context.Context) auth.RefreshTokenStore { return tokenStore{s: s} }

// WithTx runs fn with exclusive transaction rights. When fn fails, every
// write made through the transaction's Store is reverted; writes made by
// other callers in the meantime are kept.
func (s *Store) WithTx(_ context.Context, fn func(auth.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	undo := &undoLog{}
	if err := fn(txStore{s: s, undo: undo}); err != nil {
		s.mu.Lock()
		undo.rollback(&s.data)
		s.mu.Unlock()
		return err
	}
	return nil
}

// txStore is the Store handed to a WithTx callback.
type txStore struct {
	s    *Store
	undo *undoLog
}

func (t txStore) Tenants(context.Context) auth.TenantStore { return tenantStore{t.s, t.undo} }
func (t txStore) Users(context.Context) auth.UserStore { return userStore{t.s, t.undo} }
func (t txStore) Roles(context.Context) auth.RoleStore { return roleStore{t.s, t.undo} }
func (t txStore) Audit(context.Context) auth.AuditStore { return auditStore{t.s, t.undo} }
func (t txStore) RefreshTokens(context.Context) auth.RefreshTokenStore {
	return tokenStore{t.s, t.undo}
}

// WithTx joins the enclosing transaction.
func (t txStore) WithTx(_ context.Context, fn func(auth.Store) error) error { return fn(t) }

// undoLog holds the inverse of each write of one transaction. A nil log
// records nothing. Steps run with mu held.
type undoLog struct{ steps []func(*state) }

func (u *undoLog) add(step func(*state)) {
	if u != nil {
		u.steps = append(u.steps, step)
	}
}

func (u *undoLog) rollback(st *state) {
	for i := len(u.steps) - 1; i >= 0; i-- {
		u.steps[i](st)
	}
}

// keep records how to put key of the map picked by field back to its
// current value. Call it with mu held, before writing key.
func keep[K comparable, V any](u *undoLog, st *state, field func(*state) map[K]V, key K) {
	if u == nil {
		return
	}
	prev, existed := field(st)[key]
	u.add(func(st *state) {
		if existed {
			field(st)[key] = prev
		} else {
			delete(field(st), key)
		}
	})
}

func tenantsOf(st *state) map[string]auth.Tenant { return st.tenants }
func usersOf(st *state) map[string]auth.User { return st.users }
func userRolesOf(st *state) map[string][]string { return st.userRoles }
func rolesOf(st *state) map[string]auth.Role { return st.roles }
func permsOf(st *state) map[string]auth.Permission { return st.perms }

// setToken writes a refresh token entry. Its undo step leaves the entry alone
// once another writer has changed its revocation, so a rollback never clears
// a revocation it did not make.
func (s *Store) setToken(u *undoLog, key string, rec auth.RefreshToken) {
	prev, existed := s.data.tokens[key]
	s.data.tokens[key] = rec
	if u == nil {
		return
	}
	wrote := rec.RevokedAt
	u.add(func(st *state) {
		cur, ok := st.tokens[key]
		if !ok || cur.RevokedAt != wrote {
			return
		}
		if existed {
			st.tokens[key] = prev
		} else {
			delete(st.tokens, key)
		}
	})
}

type tenantStore struct {
	s    *Store
	undo *undoLog
}

func (t tenantStore) Create(_ context.Context, tenant *auth.Tenant) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, exists := t.s.data.tenants[tenant.ID]; exists {
		return auth.ErrConflict
	}
	for _, existing := range t.s.data.tenants {
		if strings.EqualFold(existing.RegistrationNumber, tenant.RegistrationNumber) {
			return auth.ErrConflict
		}
	}
	keep(t.undo, &t.s.data, tenantsOf, tenant.ID)
	t.s.data.tenants[tenant.ID] = *tenant
	return nil
}

func (t tenantStore) Find(_ context.Context, scope auth.Scope, id string) (*auth.Tenant, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	tenant, ok := t.s.data.tenants[id]
	if !ok || tenant.IsDeleted || !scope.Allows(tenant.ID) {
		return nil, auth.ErrNotFound
	}
	return &tenant, nil
}

func (t tenantStore) ListAll(_ context.Context, scope auth.Scope) ([]*auth.Tenant, error) {
	if !scope.IsSystem() {
		return nil, auth.ErrForbidden
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	out := make([]*auth.Tenant, 0, len(t.s.data.tenants))
	for _, tenant := range t.s.data.tenants {
		tenant := tenant
		out = append(out, &tenant)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t tenantStore) SetActive(_ context.Context, scope auth.Scope, id string, active bool) (*auth.Tenant, error) {
	if !scope.IsSystem() {
		return nil, auth.ErrForbidden
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tenant, ok := t.s.data.tenants[id]
	if !ok || tenant.IsDeleted {
		return nil, auth.ErrNotFound
	}
	tenant.IsActive = active
	keep(t.undo, &t.s.data, tenantsOf, id)
	t.s.data.tenants[id] = tenant
	return &tenant, nil
}

func (t tenantStore) SoftDelete(_ context.Context, scope auth.Scope, id string) (*auth.Tenant, bool, error) {
	if !scope.IsSystem() {
		return nil, false, auth.ErrForbidden
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tenant, ok := t.s.data.tenants[id]
	if !ok {
		return nil, false, auth.ErrNotFound
	}
	if tenant.IsDeleted {
		return &tenant, false, nil
	}
	tenant.IsDeleted = true
	keep(t.undo, &t.s.data, tenantsOf, id)
	t.s.data.tenants[id] = tenant
	return &tenant, true, nil
}

type userStore struct {
	s    *Store
	undo *undoLog
}

func (u userStore) Create(_ context.Context, user *auth.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, ok := u.s.data.tenants[user.TenantID]; !ok {
		return auth.ErrNotFound
	}
	if _, exists := u.s.data.users[user.ID]; exists {
		return auth.ErrConflict
	}
	for _, existing := range u.s.data.users {
		if existing.TenantID == user.TenantID && existing.Email == user.Email {
			return auth.ErrConflict
		}
	}
	stored := *user
	stored.Roles = nil
	keep(u.undo, &u.s.data, usersOf, user.ID)
	u.s.data.users[user.ID] = stored
	return nil
}

func (u userStore) Find(_ context.Context, scope auth.Scope, id string) (*auth.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	user, ok := u.s.data.users[id]
	if !ok || !scope.Allows(user.TenantID) {
		return nil, auth.ErrNotFound
	}
	return u.s.withRoles(user), nil
}

func (u userStore) FindByEmail(_ context.Context, scope auth.Scope, email string) ([]*auth.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	var out []*auth.User
	for _, user := range u.s.data.users {
		if user.Email == email && scope.Allows(user.TenantID) {
			out = append(out, u.s.withRoles(user))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (u userStore) List(_ context.Context, scope auth.Scope) ([]*auth.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	out := []*auth.User{}
	for _, user := range u.s.data.users {
		if scope.Allows(user.TenantID) {
			out = append(out, u.s.withRoles(user))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (u userStore) Update(_ context.Context, scope auth.Scope, user *auth.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	existing, ok := u.s.data.users[user.ID]
	if !ok || !scope.Allows(existing.TenantID) {
		return auth.ErrNotFound
	}
	existing.DisplayName = user.DisplayName
	existing.PasswordHash = user.PasswordHash
	existing.LockoutEnabled = user.LockoutEnabled
	existing.LockoutUntil = user.LockoutUntil
	existing.UpdatedAt = user.UpdatedAt
	keep(u.undo, &u.s.data, usersOf, user.ID)
	u.s.data.users[user.ID] = existing
	return nil
}

func (u userStore) SetRoles(_ context.Context, scope auth.Scope, userID string, roleIDs []string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.data.users[userID]
	if !ok || !scope.Allows(user.TenantID) {
		return auth.ErrNotFound
	}
	assigned := make([]string, 0, len(roleIDs))
	for _, id := range roleIDs {
		role, ok := u.s.data.roles[id]
		if !ok {
			return auth.ErrNotFound
		}
		if owner := role.Key().TenantID; owner != "" && owner != user.TenantID {
			return auth.ErrNotFound
		}
		assigned = append(assigned, id)
	}
	keep(u.undo, &u.s.data, userRolesOf, userID)
	u.s.data.userRoles[userID] = assigned
	return nil
}

// withRoles must be called with mu held.
func (s *Store) withRoles(user auth.User) *auth.User {
	names := make([]string, 0, len(s.data.userRoles[user.ID]))
	for _, id := range s.data.userRoles[user.ID] {
		if role, ok := s.data.roles[id]; ok {
			names = append(names, role.Name)
		}
	}
	sort.Strings(names)
	user.Roles = names
	return &user
}

type roleStore struct {
	s    *Store
	undo *undoLog
}

func (r roleStore) Ensure(_ context.Context, key auth.RoleKey) (*auth.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, role := range r.s.data.roles {
		if role.Key() == key {
			return r.s.withPerms(role), nil
		}
	}
	role := auth.Role{ID: ids.New(), Name: key.Name, CreatedAt: time.Now().UTC()}
	if !key.Global() {
		tenantID := key.TenantID
		role.TenantID = &tenantID
	}
	keep(r.undo, &r.s.data, rolesOf, role.ID)
	r.s.data.roles[role.ID] = role
	return r.s.withPerms(role), nil
}

func (r roleStore) Resolve(_ context.Context, scope auth.Scope, name string) (*auth.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var global *auth.Role
	for _, role := range r.s.data.roles {
		if !strings.EqualFold(role.Name, name) || !scope.AllowsRole(role.Key().TenantID) {
			continue
		}
		if role.TenantID != nil {
			return r.s.withPerms(role), nil
		}
		global = r.s.withPerms(role)
	}
	if global == nil {
		return nil, auth.ErrNotFound
	}
	return global, nil
}

func (r roleStore) List(_ context.Context, scope auth.Scope) ([]*auth.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []*auth.Role{}
	for _, role := range r.s.data.roles {
		if scope.AllowsRole(role.Key().TenantID) {
			out = append(out, r.s.withPerms(role))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].TenantID == nil && out[j].TenantID != nil
	})
	return out, nil
}

func (r roleStore) Permissions(_ context.Context, scope auth.Scope, names []string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}
	set := map[string]struct{}{}
	for id, role := range r.s.data.roles {
		if _, ok := wanted[strings.ToLower(role.Name)]; !ok || !scope.AllowsRole(role.Key().TenantID) {
			continue
		}
		for p := range r.s.data.rolePerms[id] {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (r roleStore) EnsurePermissions(_ context.Context, perms []auth.Permission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range perms {
		if _, ok := r.s.data.perms[p.Key]; !ok {
			keep(r.undo, &r.s.data, permsOf, p.Key)
			r.s.data.perms[p.Key] = p
		}
	}
	return nil
}

func (r roleStore) Grant(_ context.Context, roleID string, keys []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	set := r.s.data.rolePerms[roleID]
	if r.undo != nil {
		saved := make(map[string]struct{}, len(set))
		for k := range set {
			saved[k] = struct{}{}
		}
		existed := set != nil
		r.undo.add(func(st *state) {
			if existed {
				st.rolePerms[roleID] = saved
			} else {
				delete(st.rolePerms, roleID)
			}
		})
	}
	if set == nil {
		set = map[string]struct{}{}
		r.s.data.rolePerms[roleID] = set
	}
	for _, k := range keys {
		if _, ok := r.s.data.perms[k]; !ok {
			return auth.ErrNotFound
		}
		set[k] = struct{}{}
	}
	return nil
}

// withPerms must be called with mu held.
func (s *Store) withPerms(role auth.Role) *auth.Role {
	perms := make([]string, 0, len(s.data.rolePerms[role.ID]))
	for p := range s.data.rolePerms[role.ID] {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	role.Permissions = perms
	return &role
}

type auditStore struct {
	s    *Store
	undo *undoLog
}

func (a auditStore) Append(_ context.Context, rec *auth.AuditRecord) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.data.audit = append(a.s.data.audit, *rec)
	id := rec.ID
	a.undo.add(func(st *state) {
		for i := len(st.audit) - 1; i >= 0; i-- {
			if st.audit[i].ID == id {
				st.audit = append(st.audit[:i], st.audit[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (a auditStore) List(_ context.Context, scope auth.Scope, limit int) ([]*auth.AuditRecord, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	out := []*auth.AuditRecord{}
	for i := len(a.s.data.audit) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		rec := a.s.data.audit[i]
		if scope.Allows(rec.TenantID) {
			out = append(out, &rec)
		}
	}
	return out, nil
}

type tokenStore struct {
	s    *Store
	undo *undoLog
}

func (t tokenStore) Create(_ context.Context, token *auth.RefreshToken) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.insertToken(t.undo, token)
}

func (s *Store) insertToken(u *undoLog, token *auth.RefreshToken) error {
	if _, exists := s.data.tokens[token.Token]; exists {
		return auth.ErrConflict
	}
	if _, ok := s.data.users[token.UserID]; !ok {
		return auth.ErrNotFound
	}
	s.setToken(u, token.Token, *token)
	return nil
}

func (t tokenStore) Find(_ context.Context, token string) (*auth.RefreshToken, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	rec, ok := t.s.data.tokens[token]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &rec, nil
}

func (t tokenStore) Rotate(_ context.Context, prevToken string, at time.Time, next *auth.RefreshToken) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	prev, ok := t.s.data.tokens[prevToken]
	if !ok {
		return auth.ErrNotFound
	}
	if prev.RevokedAt != nil {
		return auth.ErrTokenReplay
	}
	if err := t.s.insertToken(t.undo, next); err != nil {
		return err
	}
	replacement := next.Token
	prev.RevokedAt = &at
	prev.ReplacedByToken = &replacement
	t.s.setToken(t.undo, prevToken, prev)
	return nil
}

func (t tokenStore) Revoke(_ context.Context, token string, at time.Time) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	rec, ok := t.s.data.tokens[token]
	if !ok || rec.RevokedAt != nil {
		return false, nil
	}
	rec.RevokedAt = &at
	t.s.setToken(t.undo, token, rec)
	return true, nil
}

func (t tokenStore) RevokeChain(_ context.Context, token string, at time.Time) (int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	n := 0
	seen := map[string]bool{}
	for key := token; key != "" && !seen[key]; {
		seen[key] = true
		rec, ok := t.s.data.tokens[key]
		if !ok {
			break
		}
		if rec.RevokedAt == nil {
			rec.RevokedAt = &at
			t.s.setToken(t.undo, key, rec)
			n++
		}
		key = ""
		if rec.ReplacedByToken != nil {
			key = *rec.ReplacedByToken
		}
	}
	return n, nil
}

func (t tokenStore) RevokeAllForUser(_ context.Context, userID string, at time.Time) (int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	n := 0
	for key, rec := range t.s.data.tokens {
		if rec.UserID == userID && rec.RevokedAt == nil {
			rec.RevokedAt = &at
			t.s.setToken(t.undo, key, rec)
			n++
		}
	}
	return n, nil
}
