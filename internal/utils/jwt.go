package utils // package utils provides the token codec and password hashing helpers

import (
	"crypto/rand"  // secure random number generation for token nonces
	"encoding/hex" // hex encoding of nonces
	"errors"
	"fmt"
	"strconv"
	"time" // time utilities for generating expirations

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and verifying signed tokens
	"github.com/google/uuid"
)

// Token verification failures.  Callers distinguish them to choose the
// right error message; none of them carries the token itself.
var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenExpired   = errors.New("token expired")
	ErrSecrets        = errors.New("access and refresh secrets must be non-empty and distinct")
)

// refreshType is the value of the "type" claim in every refresh token.
const refreshType = "refresh"

// TokenKind selects which secret signs or verifies a token.
type TokenKind int

const (
	KindAccess TokenKind = iota
	KindRefresh
)

func (k TokenKind) String() string {
	if k == KindRefresh {
		return "refresh"
	}
	return "access"
}

// AccessClaims is the payload of an access token.  UniqueID combines the
// issue time in milliseconds with 8 random bytes so that two tokens issued
// to the same user inside one second (iat has whole-second precision) are
// never byte-identical.
type AccessClaims struct {
	UserID   uint64 `json:"userId"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	UniqueID string `json:"uniqueId"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token.  The registered ID (jti)
// is a random uuid; the unique column on refresh_tokens.token relies on it.
type RefreshClaims struct {
	UserID uint64 `json:"userId"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// RefreshToken represents a signed refresh JWT along with its expiry.  The
// same string is persisted in refresh_tokens and returned to the client.
type RefreshToken struct {
	Token string
	Exp   time.Time
}

// Codec mints and verifies both token classes.  Access and refresh tokens
// are signed with different HS256 keys so that a leaked key of one class
// cannot forge the other.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewCodec builds a Codec.  The two secrets must be non-empty and differ.
func NewCodec(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*Codec, error) {
	if accessSecret == "" || refreshSecret == "" || accessSecret == refreshSecret {
		return nil, ErrSecrets
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("token ttl must be positive (access=%s refresh=%s)", accessTTL, refreshTTL)
	}
	return &Codec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}, nil
}

// WithClock replaces the time source used for issuing and validating.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// AccessTTL returns the lifetime of access tokens.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the lifetime of refresh tokens.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// MintAccessToken builds and signs an access token for a user.
func (c *Codec) MintAccessToken(userID uint64, email, role string) (AccessToken, error) {
	now := c.now().UTC()
	nonce, err := randomHex(8)
	if err != nil {
		return AccessToken{}, fmt.Errorf("access token nonce: %w", err)
	}
	exp := now.Add(c.accessTTL)
	claims := AccessClaims{
		UserID:   userID,
		Email:    email,
		Role:     role,
		UniqueID: strconv.FormatInt(now.UnixMilli(), 10) + "-" + nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// MintRefreshToken builds and signs a refresh token for a user.
func (c *Codec) MintRefreshToken(userID uint64) (RefreshToken, error) {
	now := c.now().UTC()
	exp := now.Add(c.refreshTTL)
	claims := RefreshClaims{
		UserID: userID,
		Type:   refreshType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{Token: signed, Exp: exp}, nil
}

// VerifyAccess checks signature and expiry of an access token.
func (c *Codec) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.verify(token, KindAccess, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh checks signature and expiry of a refresh token.
func (c *Codec) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.verify(token, KindRefresh, claims); err != nil {
		return nil, err
	}
	if claims.Type != refreshType {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// Verify checks a token against the secret for kind and returns its claims.
// It has no side effects.
func (c *Codec) Verify(token string, kind TokenKind) (jwt.Claims, error) {
	if kind == KindRefresh {
		return c.VerifyRefresh(token)
	}
	return c.VerifyAccess(token)
}

func (c *Codec) verify(token string, kind TokenKind, claims jwt.Claims) error {
	secret := c.accessSecret
	if kind == KindRefresh {
		secret = c.refreshSecret
	}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		// Reject anything that is not HMAC before handing out the key.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.now), jwt.WithExpirationRequired())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenSignature
	default:
		return ErrTokenMalformed
	}
}

// Decode returns the claims of a token without verifying it, or nil when
// the token cannot be parsed.  Only for inspection; never trust the result.
func Decode(token string) map[string]interface{} {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

// randomHex returns a hex‑encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
