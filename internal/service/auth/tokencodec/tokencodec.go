// Package tokencodec creates and validates signed access and refresh tokens
package tokencodec

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/models"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 14 * 24 * time.Hour
)

type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

type Claims struct {
	jwt.RegisteredClaims
	Email string    `json:"email"`
	Type  TokenType `json:"typ"`

	// Parsed subject, filled by DecodeAndValidate
	AccountID uuid.UUID `json:"-"`
}

// Who the token is issued to
type Identity struct {
	Subject uuid.UUID
	Email   string
}

// Codec config with sensible defaults
type Config struct {
	// Secret key to sign tokens
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Codec struct {
	key []byte
	alg jwt.SigningMethod

	accessTTL  time.Duration
	refreshTTL time.Duration

	now func() time.Time
}

func New(cfg Config) (*Codec, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}

	// Only symmetric algorithms: tokens are signed and checked by the same process
	alg, ok := jwt.GetSigningMethod(cfg.Alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing method %q", cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	return &Codec{
		key:        []byte(cfg.SecretKey),
		alg:        alg,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

func (c *Codec) AccessTTL() time.Duration  { return c.accessTTL }
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

func (c *Codec) CreateAccessToken(id Identity) (models.IssuedToken, error) {
	return c.create(id, TypeAccess, c.accessTTL)
}

func (c *Codec) CreateRefreshToken(id Identity) (models.IssuedToken, error) {
	return c.create(id, TypeRefresh, c.refreshTTL)
}

func (c *Codec) create(id Identity, typ TokenType, ttl time.Duration) (models.IssuedToken, error) {
	var issued models.IssuedToken
	if id.Subject == uuid.Nil {
		return issued, errors.New("token subject must not be empty")
	}

	now := c.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	token := jwt.NewWithClaims(
		c.alg,
		Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Subject:   id.Subject.String(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			Email: id.Email,
			Type:  typ,
		},
	)

	signed, err := token.SignedString(c.key)
	if err != nil {
		return issued, fmt.Errorf("error while signing %s token. Err: %w", typ, err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// DecodeAndValidate checks signature first, then expiry, then type
// Malformed token and token signed with another algorithm are reported as invalid signature
func (c *Codec) DecodeAndValidate(token string, expected TokenType) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (any, error) {
			return c.key, nil
		},
		jwt.WithValidMethods([]string{c.alg.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTokenInvalidSignature, err)
	}

	if claims.ExpiresAt == nil || !c.now().Before(claims.ExpiresAt.Time) {
		return nil, apperrors.ErrTokenExpired
	}

	if claims.Type != expected {
		return nil, fmt.Errorf("%w: want %s, got %q", apperrors.ErrTokenWrongType, expected, claims.Type)
	}

	claims.AccountID, err = uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", apperrors.ErrTokenInvalidSignature)
	}

	return claims, nil
}
