package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultTokenTTL       = 30 * time.Minute
	defaultRevocationSize = 4096
	bearerPrefix          = "Bearer "
	// QueryTokenParameter carries the token on requests that cannot set headers (websocket upgrades).
	QueryTokenParameter = "access_token"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
	errMissingAudience      = errors.New("audience must be provided")
	errInvalidTTL           = errors.New("token ttl must be positive")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")

	// ErrMissingToken indicates the request carried no token.
	ErrMissingToken = errors.New("auth: token required")
	// ErrInvalidToken indicates the token failed signature or claim validation.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrExpiredToken indicates the token is past its expiry.
	ErrExpiredToken = errors.New("auth: token expired")
	// ErrRevokedToken indicates the token was signed out.
	ErrRevokedToken = errors.New("auth: token revoked")
)

// TokenIssuerConfig configures the backend JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret  []byte
	Issuer         string
	Audience       string
	TokenTTL       time.Duration
	RevocationSize int
	Clock          func() time.Time
}

// Claims is the validated payload of a session token.
type Claims struct {
	Subject   string
	TokenID   string
	ExpiresAt time.Time
}

// TokenIssuer issues and validates session JWTs and remembers revoked token ids until
// they would have expired anyway.
type TokenIssuer struct {
	config  TokenIssuerConfig
	clock   func() time.Time
	revoked *expirable.LRU[string, struct{}]
}

// NewTokenIssuer constructs a TokenIssuer after validating its configuration.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, errMissingAudience
	}
	if cfg.TokenTTL <= 0 {
		return nil, errInvalidTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	size := cfg.RevocationSize
	if size <= 0 {
		size = defaultRevocationSize
	}
	return &TokenIssuer{
		config: TokenIssuerConfig{
			SigningSecret:  append([]byte(nil), cfg.SigningSecret...),
			Issuer:         issuer,
			Audience:       audience,
			TokenTTL:       cfg.TokenTTL,
			RevocationSize: size,
			Clock:          clock,
		},
		clock:   clock,
		revoked: expirable.NewLRU[string, struct{}](size, nil, cfg.TokenTTL),
	}, nil
}

// IssueToken produces a signed JWT and its expiry (seconds) for the subject.
func (i *TokenIssuer) IssueToken(_ context.Context, subject string) (string, int64, error) {
	if strings.TrimSpace(subject) == "" {
		return "", 0, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TokenTTL).UTC()

	registered := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    i.config.Issuer,
		Audience:  []string{i.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the JWT is well formed, unexpired and not revoked.
func (i *TokenIssuer) ValidateToken(tokenString string) (Claims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return Claims{}, ErrMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, errMissingSubjectClaim)
	}
	if claims.ID != "" && i.revoked.Contains(claims.ID) {
		return Claims{}, ErrRevokedToken
	}

	result := Claims{Subject: claims.Subject, TokenID: claims.ID}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}
	return result, nil
}

// Revoke invalidates a validated token for the rest of its lifetime.
func (i *TokenIssuer) Revoke(claims Claims) {
	if claims.TokenID == "" {
		return
	}
	i.revoked.Add(claims.TokenID, struct{}{})
}

// ValidateRequest extracts the bearer token (or the access_token query parameter) and
// validates it.
func (i *TokenIssuer) ValidateRequest(r *http.Request) (Claims, error) {
	if r == nil {
		return Claims{}, ErrMissingToken
	}
	return i.ValidateToken(TokenFromRequest(r))
}

// TokenFromRequest returns the raw token carried by the request, or an empty string.
func TokenFromRequest(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	}
	return strings.TrimSpace(r.URL.Query().Get(QueryTokenParameter))
}
