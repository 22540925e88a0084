package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lidar.app/internal/ids"
	"lidar.app/internal/obs"
)

// Service implements the authentication flows and tenant administration on
// top of a Store and an Issuer.
type Service struct {
	store  Store
	issuer *Issuer
	audit  AuditRecorder
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithAuditRecorder routes audit records to r.
func WithAuditRecorder(r AuditRecorder) ServiceOption {
	return func(s *Service) error {
		if r != nil {
			s.audit = r
		}
		return nil
	}
}

// WithServiceClock overrides time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service.
func NewService(store Store, issuer *Issuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if issuer == nil {
		return nil, errors.New("auth: issuer is required")
	}
	s := &Service{store: store, issuer: issuer, audit: nopRecorder{}, now: time.Now}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Issuer returns the token issuer used by the service.
func (s *Service) Issuer() *Issuer { return s.issuer }

// Session is the outcome of a flow that authenticates a caller.
type Session struct {
	Tokens TokenPair
	User   *User
	Audit  AuditRecord
}

// Register creates a tenant and its first administrator in one transaction,
// then signs the administrator in.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	tenant := &Tenant{
		ID:                 ids.New(),
		Name:               strings.TrimSpace(req.TenantName),
		RegistrationNumber: strings.TrimSpace(req.RegistrationNumber),
		IsActive:           true,
		CreatedAt:          now,
	}
	user := &User{
		ID:           ids.New(),
		TenantID:     tenant.ID,
		Email:        normalizeEmail(req.Email),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.Tenants(ctx).Create(ctx, tenant); err != nil {
			return err
		}
		role, err := tx.Roles(ctx).Ensure(ctx, RoleKey{Name: RoleTenantAdmin})
		if err != nil {
			return err
		}
		if err := tx.Users(ctx).Create(ctx, user); err != nil {
			return err
		}
		return tx.Users(ctx).SetRoles(ctx, TenantScope(tenant.ID), user.ID, []string{role.ID})
	})
	if err != nil {
		return nil, fmt.Errorf("register tenant: %w", err)
	}
	user.Roles = []string{RoleTenantAdmin}

	pair, _, err := s.issue(ctx, user, "")
	if err != nil {
		return nil, err
	}
	rec := s.record(ctx, AuditRecord{
		ActorID:    actorPtr(user.ID),
		TenantID:   tenant.ID,
		Action:     ActionRegisterTenant,
		EntityType: "Tenant",
		EntityID:   tenant.ID,
		After:      snapshot(tenant),
	})
	obs.Info("tenant_registered", map[string]any{"tenant_id": tenant.ID, "user_id": user.ID})
	return &Session{Tokens: pair, User: user, Audit: rec}, nil
}

// Login verifies credentials and issues a fresh token pair. Every failure
// mode is reported as ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, cred Credentials) (*Session, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	scope := SystemScope()
	if tenantID := strings.TrimSpace(cred.TenantID); tenantID != "" {
		scope = TenantScope(tenantID)
	}
	candidates, err := s.store.Users(ctx).FindByEmail(ctx, scope, normalizeEmail(cred.Email))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if len(candidates) == 0 {
		burnPasswordCheck(cred.Password)
		obs.LoginAttempt("unknown")
		return nil, ErrInvalidCredentials
	}

	var match *User
	for _, u := range candidates {
		if VerifyPassword(u.PasswordHash, cred.Password) != nil {
			continue
		}
		if match != nil {
			// Same email and password in several tenants; caller must pick one.
			obs.LoginAttempt("ambiguous")
			return nil, ErrInvalidCredentials
		}
		match = u
	}
	if match == nil {
		obs.LoginAttempt("bad_password")
		return nil, ErrInvalidCredentials
	}
	if err := s.checkSignIn(ctx, match); err != nil {
		obs.LoginAttempt("inactive")
		return nil, ErrInvalidCredentials
	}

	pair, _, err := s.issue(ctx, match, "")
	if err != nil {
		return nil, err
	}
	obs.LoginAttempt("ok")
	rec := s.record(ctx, AuditRecord{
		ActorID:    actorPtr(match.ID),
		TenantID:   match.TenantID,
		Action:     ActionLogin,
		EntityType: "Auth",
		EntityID:   match.ID,
	})
	return &Session{Tokens: pair, User: match, Audit: rec}, nil
}

// Refresh exchanges an active refresh token for a new pair. The presented
// token is revoked and linked to its successor; presenting it again fails
// with ErrTokenReplay.
func (s *Service) Refresh(ctx context.Context, token string) (*Session, error) {
	current, err := s.issuer.CheckRefreshToken(ctx, token)
	if err != nil {
		return nil, err
	}
	user, err := s.store.Users(ctx).Find(ctx, SystemScope(), current.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInactiveToken
	}
	if err != nil {
		return nil, err
	}
	if err := s.checkSignIn(ctx, user); err != nil {
		return nil, ErrInactiveToken
	}

	pair, next, err := s.issue(ctx, user, token)
	if err != nil {
		return nil, err
	}
	rec := s.record(ctx, AuditRecord{
		ActorID:    actorPtr(user.ID),
		TenantID:   user.TenantID,
		Action:     ActionRefreshToken,
		EntityType: "RefreshToken",
		EntityID:   next.ID,
		Before:     snapshot(map[string]string{"id": current.ID}),
		After:      snapshot(map[string]string{"id": next.ID}),
	})
	return &Session{Tokens: pair, User: user, Audit: rec}, nil
}

// Logout revokes the given refresh token. The token must belong to actor when
// actor is known. Revoking an unknown or already revoked token fails with
// ErrInactiveToken and changes nothing.
func (s *Service) Logout(ctx context.Context, actor Principal, token string) (AuditRecord, error) {
	current, err := s.issuer.GetRefreshToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return AuditRecord{}, ErrInactiveToken
	}
	if err != nil {
		return AuditRecord{}, err
	}
	if actor.UserID != "" && current.UserID != actor.UserID {
		return AuditRecord{}, ErrInactiveToken
	}
	ok, err := s.issuer.RevokeRefreshToken(ctx, token)
	if err != nil {
		return AuditRecord{}, err
	}
	if !ok {
		return AuditRecord{}, ErrInactiveToken
	}
	tenantID := actor.TenantID
	if tenantID == "" {
		if u, err := s.store.Users(ctx).Find(ctx, SystemScope(), current.UserID); err == nil {
			tenantID = u.TenantID
		}
	}
	return s.record(ctx, AuditRecord{
		ActorID:    actorPtr(current.UserID),
		TenantID:   tenantID,
		Action:     ActionLogout,
		EntityType: "Auth",
		EntityID:   current.UserID,
	}), nil
}

// Authenticate verifies a bearer access token and returns the principal with
// the permissions its roles grant inside its tenant scope.
func (s *Service) Authenticate(ctx context.Context, bearer string) (Principal, error) {
	claims, err := s.issuer.ParseAccessToken(bearer)
	if err != nil {
		return Principal{}, err
	}
	p := claims.Principal()
	perms, err := s.PermissionsFor(ctx, ResolveScope(p), p.Roles)
	if err != nil {
		return Principal{}, err
	}
	return p.WithPermissions(perms), nil
}

// PermissionsFor returns the permission keys granted by the named roles
// visible in scope.
func (s *Service) PermissionsFor(ctx context.Context, scope Scope, roles []string) ([]string, error) {
	if scope.Empty() || len(roles) == 0 {
		return nil, nil
	}
	return s.store.Roles(ctx).Permissions(ctx, scope, roles)
}

func (s *Service) checkSignIn(ctx context.Context, u *User) error {
	if u.LockedOut(s.now().UTC()) {
		return ErrInvalidCredentials
	}
	tenant, err := s.store.Tenants(ctx).Find(ctx, SystemScope(), u.TenantID)
	if err != nil {
		return err
	}
	if !tenant.IsActive || tenant.IsDeleted {
		return ErrInvalidCredentials
	}
	return nil
}

func (s *Service) issue(ctx context.Context, u *User, previous string) (TokenPair, *RefreshToken, error) {
	access, exp, err := s.issuer.CreateAccessToken(u.ID, u.TenantID, u.Email, u.Roles, nil)
	if err != nil {
		return TokenPair{}, nil, err
	}
	obs.TokenIssued("access")
	next, bearer, err := s.issuer.RotateRefreshToken(ctx, u.ID, previous)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return TokenPair{
		AccessToken:      access,
		ExpiresAt:        exp,
		RefreshToken:     bearer,
		RefreshExpiresAt: next.ExpiresAt,
	}, next, nil
}

// record fills the correlation fields and hands rec to the recorder. A
// recorder failure is logged; the mutation it describes has already committed.
func (s *Service) record(ctx context.Context, rec AuditRecord) AuditRecord {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = s.now().UTC()
	}
	if rec.RequestID == "" {
		rec.RequestID = obs.RequestIDFromContext(ctx)
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		obs.Error("audit_record_failed", map[string]any{
			"action":     rec.Action,
			"entity_id":  rec.EntityID,
			"request_id": rec.RequestID,
			"err":        err,
		})
	}
	return rec
}
