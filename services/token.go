package services

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"tripnest/backend/system"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	defaultAccessTTL  = 1 * time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour

	tokenIssuer = "tripnest"
)

// Token validation failures, each distinguishable so the HTTP layer can
// surface a distinct machine-readable code.
var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenInvalid   = errors.New("token invalid")
	ErrTokenRevoked   = errors.New("refresh token revoked")
	ErrWrongTokenType = errors.New("wrong token type")
)

// TokenClaims are the signed claims carried by both token types.
type TokenClaims struct {
	UserID    uint   `json:"uid"`
	Email     string `json:"email"`
	Role      string `json:"role,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair is what a successful login or refresh returns.
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`         // seconds
	RefreshExpiresIn int64  `json:"refresh_expires_in"` // seconds
}

// RefreshTokenRecord is the registry entry keyed by jti. A refresh
// token is usable iff its record exists, is not revoked and has not
// expired; all three are checked at validation time.
type RefreshTokenRecord struct {
	JTI       string    `json:"jti"`
	UserID    uint      `json:"user_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

// TokenStore is the refresh-token registry. The in-memory store is the
// default; a Redis-backed store sits behind the same interface for
// multi-instance deployments.
type TokenStore interface {
	Save(rec RefreshTokenRecord) error
	Get(jti string) (RefreshTokenRecord, bool, error)
	Revoke(jti string) error
	RevokeAllForUser(userID uint) error
	PurgeExpired(now time.Time) error
}

// TokenService signs, validates, rotates and revokes token pairs. All
// signing happens server-side with a single HMAC secret.
type TokenService struct {
	secret       []byte
	issuer       string
	store        TokenStore
	roleResolver func(userID uint) (string, error)

	// Overridable for tests.
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// NewTokenService requires a signing secret. There is deliberately no
// fallback default; deployments without a secret must not start.
func NewTokenService(secret string, store TokenStore) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("token service: signing secret is required")
	}
	return &TokenService{
		secret:     []byte(secret),
		issuer:     tokenIssuer,
		store:      store,
		AccessTTL:  defaultAccessTTL,
		RefreshTTL: defaultRefreshTTL,
	}, nil
}

// IssueTokenPair creates a signed access/refresh pair and registers the
// refresh token's jti. Expired registry entries are purged on the way.
func (s *TokenService) IssueTokenPair(userID uint, email, role string) (*TokenPair, error) {
	now := time.Now()

	access, err := s.sign(TokenClaims{
		UserID:    userID,
		Email:     email,
		Role:      role,
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.issuer},
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.AccessTTL)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	jti := uuid.NewString()
	refreshExpiry := now.Add(s.RefreshTTL)
	refresh, err := s.sign(TokenClaims{
		UserID:    userID,
		Email:     email,
		TokenType: TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.issuer},
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExpiry),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	if err := s.store.Save(RefreshTokenRecord{
		JTI:       jti,
		UserID:    userID,
		Email:     email,
		CreatedAt: now,
		ExpiresAt: refreshExpiry,
	}); err != nil {
		return nil, fmt.Errorf("register refresh token: %w", err)
	}

	if err := s.store.PurgeExpired(now); err != nil {
		system.Warn("Refresh token purge failed: %v", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        int64(s.AccessTTL.Seconds()),
		RefreshExpiresIn: int64(s.RefreshTTL.Seconds()),
	}, nil
}

// ValidateAccessToken verifies signature, issuer and expiry. It never
// consults the refresh registry.
func (s *TokenService) ValidateAccessToken(token string) (*TokenClaims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// ValidateRefreshToken verifies the token and requires its jti to
// resolve to a live registry record. Both the claim expiry and the
// stored expiry are authoritative.
func (s *TokenService) ValidateRefreshToken(token string) (*TokenClaims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, ErrWrongTokenType
	}

	rec, found, err := s.store.Get(claims.ID)
	if err != nil {
		return nil, fmt.Errorf("refresh registry lookup: %w", err)
	}
	if !found {
		return nil, ErrTokenInvalid
	}
	if rec.Revoked {
		return nil, ErrTokenRevoked
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

// RefreshAccessToken rotates: the old refresh token's jti is revoked
// before the new pair is minted, so each refresh token is usable
// exactly once. Replay of a consumed token fails as revoked.
func (s *TokenService) RefreshAccessToken(refreshToken string) (*TokenPair, error) {
	claims, err := s.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	if err := s.store.Revoke(claims.ID); err != nil {
		return nil, fmt.Errorf("revoke consumed refresh token: %w", err)
	}

	role, err := s.roleFor(claims)
	if err != nil {
		return nil, err
	}
	return s.IssueTokenPair(claims.UserID, claims.Email, role)
}

// roleFor resolves the role to embed in a rotated pair. Refresh tokens
// carry no role claim; the caller may enrich via SetRoleResolver.
func (s *TokenService) roleFor(claims *TokenClaims) (string, error) {
	if s.roleResolver == nil {
		return claims.Role, nil
	}
	return s.roleResolver(claims.UserID)
}

// SetRoleResolver installs a lookup used during rotation so the new
// access token reflects the user's current role, not the one at login.
func (s *TokenService) SetRoleResolver(fn func(userID uint) (string, error)) {
	s.roleResolver = fn
}

// RevokeRefreshToken revokes a single refresh token (logout). The
// token must be structurally valid and of refresh type, but an already
// expired token is still revocable.
func (s *TokenService) RevokeRefreshToken(token string) error {
	claims, err := s.parse(token)
	if err != nil && !errors.Is(err, ErrTokenExpired) {
		return err
	}
	if claims == nil || claims.TokenType != TokenTypeRefresh {
		return ErrWrongTokenType
	}
	return s.store.Revoke(claims.ID)
}

// RevokeAllUserTokens revokes every refresh token issued to a user
// (logout-everywhere, password change, account compromise).
func (s *TokenService) RevokeAllUserTokens(userID uint) error {
	return s.store.RevokeAllForUser(userID)
}

func (s *TokenService) sign(claims TokenClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// parse verifies signature and registered claims, mapping library
// errors onto the service's sentinel errors. On expiry the parsed
// claims are still returned so revocation paths can reach the jti.
func (s *TokenService) parse(tokenString string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return claims, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Issuer != s.issuer {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
