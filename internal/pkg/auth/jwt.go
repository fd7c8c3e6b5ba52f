// Package auth issues and validates the HS256 bearer tokens used by users
// and devices.
package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/domrelay/domrelay/internal/pkg/util"
	"github.com/domrelay/domrelay/pkg/options"
)

// Claims carry the user as subject. DeviceID is set on device tokens only.
type Claims struct {
	DeviceID string `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

// UserID is the subject of the token.
func (c *Claims) UserID() string { return c.Subject }

// IsDevice reports whether the token was issued to a device.
func (c *Claims) IsDevice() bool { return c.DeviceID != "" }

type Signer struct {
	Secret    []byte
	Issuer    string
	DeviceTTL time.Duration

	// now is replaced in tests.
	now func() time.Time
}

func NewSigner(opts *options.JWTOptions) *Signer {
	return &Signer{
		Secret:    []byte(opts.Secret),
		Issuer:    opts.Issuer,
		DeviceTTL: opts.DeviceTokenTTL,
		now:       time.Now,
	}
}

// SignUser issues a user token valid for ttl.
func (s *Signer) SignUser(userID string, ttl time.Duration) (string, time.Time, error) {
	return s.sign(Claims{}, userID, ttl)
}

// IssueDeviceToken issues a device token for deviceID owned by userID.
func (s *Signer) IssueDeviceToken(userID, deviceID string) (string, time.Time, error) {
	return s.sign(Claims{DeviceID: deviceID}, userID, s.DeviceTTL)
}

func (s *Signer) sign(claims Claims, subject string, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse validates tokenStr and returns its claims. Every failure wraps
// util.ErrUnauthenticated.
func (s *Signer) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: %w", util.ErrUnauthenticated, jwt.ErrTokenInvalidClaims)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", util.ErrUnauthenticated)
	}
	return claims, nil
}

// IsExpired reports whether err came from an expired token.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
