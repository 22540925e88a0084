package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"lidar.app/internal/ids"
	"lidar.app/internal/obs"
)

const (
	defaultAccessTTL  = 60 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
	defaultLeeway     = time.Minute
	maxLeeway         = time.Minute

	// MinSigningKeyLength is the shortest accepted HS256 key, in bytes.
	MinSigningKeyLength = 32
	// RefreshTokenBytes is the entropy width of a refresh token.
	RefreshTokenBytes = 64
)

// RotationMissPolicy decides what happens when the previous token presented
// for rotation does not exist.
type RotationMissPolicy int

const (
	// MissIssueFresh issues an unlinked chain head without revoking anything.
	MissIssueFresh RotationMissPolicy = iota
	// MissReject fails the rotation with ErrInactiveToken.
	MissReject
)

// ParseRotationMissPolicy maps config values ("issue", "reject") to a policy.
func ParseRotationMissPolicy(s string) (RotationMissPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "issue", "issue_fresh":
		return MissIssueFresh, nil
	case "reject":
		return MissReject, nil
	default:
		return MissIssueFresh, fmt.Errorf("auth: unknown rotation miss policy %q", s)
	}
}

// Issuer signs access tokens and manages the refresh-token rotation chain.
type Issuer struct {
	tokens RefreshTokenStore
	now    func() time.Time

	signingKey []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration

	missPolicy RotationMissPolicy
	cascade    bool
	hashTokens bool
	pepper     []byte
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer) error

// WithIssuer sets the iss claim emitted and required on verify.
func WithIssuer(issuer string) IssuerOption {
	return func(i *Issuer) error {
		i.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAudience sets the aud claim emitted and required on verify.
func WithAudience(aud string) IssuerOption {
	return func(i *Issuer) error {
		i.audience = strings.TrimSpace(aud)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if ttl > 0 {
			i.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
		return nil
	}
}

// WithLeeway sets the clock-skew tolerance used when verifying exp.
func WithLeeway(d time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if d < 0 || d > maxLeeway {
			return fmt.Errorf("auth: leeway must be between 0 and %s", maxLeeway)
		}
		i.leeway = d
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) error {
		if fn != nil {
			i.now = fn
		}
		return nil
	}
}

// WithRotationMissPolicy selects how rotation treats an unknown previous token.
func WithRotationMissPolicy(p RotationMissPolicy) IssuerOption {
	return func(i *Issuer) error {
		i.missPolicy = p
		return nil
	}
}

// WithCascadeOnReuse revokes every active descendant of a token that is
// presented again after it was rotated.
func WithCascadeOnReuse(enabled bool) IssuerOption {
	return func(i *Issuer) error {
		i.cascade = enabled
		return nil
	}
}

// WithHashedTokens stores an HMAC-SHA256 digest of each refresh token instead
// of the bearer value. An empty pepper falls back to plain SHA-256.
func WithHashedTokens(pepper string) IssuerOption {
	return func(i *Issuer) error {
		i.hashTokens = true
		i.pepper = []byte(pepper)
		return nil
	}
}

// WithPlaintextTokens stores refresh tokens verbatim.
func WithPlaintextTokens() IssuerOption {
	return func(i *Issuer) error {
		i.hashTokens = false
		i.pepper = nil
		return nil
	}
}

// NewIssuer constructs an Issuer. The signing key is required and must be at
// least MinSigningKeyLength bytes.
func NewIssuer(tokens RefreshTokenStore, signingKey string, opts ...IssuerOption) (*Issuer, error) {
	if tokens == nil {
		return nil, errors.New("auth: refresh token store is required")
	}
	if len(signingKey) < MinSigningKeyLength {
		return nil, fmt.Errorf("auth: signing key must be at least %d bytes", MinSigningKeyLength)
	}
	i := &Issuer{
		tokens:     tokens,
		now:        time.Now,
		signingKey: []byte(signingKey),
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		leeway:     defaultLeeway,
		hashTokens: true,
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	return i, nil
}

// RefreshTTL reports the persisted refresh token lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// LookupKey returns the value stored in the Token column for a bearer token.
func (i *Issuer) LookupKey(token string) string {
	if !i.hashTokens {
		return token
	}
	var sum []byte
	if len(i.pepper) > 0 {
		mac := hmac.New(sha256.New, i.pepper)
		mac.Write([]byte(token))
		sum = mac.Sum(nil)
	} else {
		digest := sha256.Sum256([]byte(token))
		sum = digest[:]
	}
	return hex.EncodeToString(sum)
}

// GetRefreshToken looks a refresh token up by its bearer value.
func (i *Issuer) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNotFound
	}
	key := i.LookupKey(token)
	rec, err := i.tokens.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	if !secureCompare(rec.Token, key) {
		return nil, ErrNotFound
	}
	return rec, nil
}

// CheckRefreshToken returns the entry for token when it is active. Unknown or
// expired tokens fail with ErrInactiveToken; a revoked token is treated as a
// replay and fails with ErrTokenReplay.
func (i *Issuer) CheckRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	rec, err := i.GetRefreshToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInactiveToken
	}
	if err != nil {
		return nil, err
	}
	now := i.now().UTC()
	if rec.Revoked() {
		i.onReplay(ctx, rec, now)
		return nil, ErrTokenReplay
	}
	if !rec.IsActive(now) {
		return nil, ErrInactiveToken
	}
	return rec, nil
}

// RotateRefreshToken issues a new refresh token for userID. When previous is
// supplied and active it is revoked and linked to the new token in the same
// store transaction. It returns the new entry and the bearer value.
func (i *Issuer) RotateRefreshToken(ctx context.Context, userID, previous string) (*RefreshToken, string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, "", errors.New("auth: userID is required")
	}
	now := i.now().UTC()
	next, bearer, err := i.newRefreshToken(userID, now)
	if err != nil {
		return nil, "", err
	}

	previous = strings.TrimSpace(previous)
	if previous == "" {
		if err := i.tokens.Create(ctx, next); err != nil {
			return nil, "", err
		}
		obs.TokenIssued("refresh")
		obs.RefreshRotated("fresh")
		return next, bearer, nil
	}

	prev, err := i.GetRefreshToken(ctx, previous)
	switch {
	case errors.Is(err, ErrNotFound):
		if i.missPolicy == MissReject {
			obs.RefreshRotated("miss_rejected")
			return nil, "", ErrInactiveToken
		}
		if err := i.tokens.Create(ctx, next); err != nil {
			return nil, "", err
		}
		obs.TokenIssued("refresh")
		obs.RefreshRotated("miss_fresh")
		return next, bearer, nil
	case err != nil:
		return nil, "", err
	}

	if prev.UserID != userID {
		obs.RefreshRotated("owner_mismatch")
		return nil, "", ErrInactiveToken
	}
	if prev.Revoked() {
		i.onReplay(ctx, prev, now)
		return nil, "", ErrTokenReplay
	}
	if !prev.IsActive(now) {
		obs.RefreshRotated("expired")
		return nil, "", ErrInactiveToken
	}

	if err := i.tokens.Rotate(ctx, prev.Token, now, next); err != nil {
		if errors.Is(err, ErrTokenReplay) {
			i.onReplay(ctx, prev, now)
		}
		return nil, "", err
	}
	obs.TokenIssued("refresh")
	obs.RefreshRotated("rotated")
	return next, bearer, nil
}

// RevokeRefreshToken revokes an active token. It returns false when the token
// is unknown or already revoked; an existing revocation time is never changed.
func (i *Issuer) RevokeRefreshToken(ctx context.Context, token string) (bool, error) {
	rec, err := i.GetRefreshToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.Revoked() {
		return false, nil
	}
	ok, err := i.tokens.Revoke(ctx, rec.Token, i.now().UTC())
	if err != nil {
		return false, err
	}
	if ok {
		obs.RefreshRevoked("logout", 1)
	}
	return ok, nil
}

// RevokeAllForUser revokes every active refresh token owned by userID.
func (i *Issuer) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	return i.revokeAllIn(ctx, i.tokens, userID)
}

// revokeAllIn is RevokeAllForUser against tokens, typically a store bound to
// an open transaction.
func (i *Issuer) revokeAllIn(ctx context.Context, tokens RefreshTokenStore, userID string) (int, error) {
	n, err := tokens.RevokeAllForUser(ctx, userID, i.now().UTC())
	if err != nil {
		return 0, err
	}
	obs.RefreshRevoked("user_deactivated", n)
	return n, nil
}

func (i *Issuer) onReplay(ctx context.Context, prev *RefreshToken, now time.Time) {
	obs.RefreshRotated("replay")
	if !i.cascade {
		return
	}
	// prev may predate the winning rotation; reload for the current successor.
	latest, err := i.tokens.Find(ctx, prev.Token)
	if err != nil || latest.ReplacedByToken == nil {
		return
	}
	n, err := i.tokens.RevokeChain(ctx, *latest.ReplacedByToken, now)
	if err != nil {
		obs.Error("refresh_cascade_failed", map[string]any{"token_id": prev.ID, "err": err})
		return
	}
	obs.RefreshRevoked("cascade", n)
}

func (i *Issuer) newRefreshToken(userID string, now time.Time) (*RefreshToken, string, error) {
	buf := make([]byte, RefreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", fmt.Errorf("auth: read random: %w", err)
	}
	bearer := base64.StdEncoding.EncodeToString(buf)
	return &RefreshToken{
		ID:        ids.New(),
		Token:     i.LookupKey(bearer),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(i.refreshTTL),
	}, bearer, nil
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
