// ABOUTME: Read-only share-link tokens for publicly viewable agent output
// ABOUTME: HS256 JWTs scoping public access to a single backend path

package share

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors.
var (
	ErrInvalidToken = errors.New("share: invalid token")
	ErrExpiredToken = errors.New("share: token expired")
)

// DefaultTTL is how long a share link stays valid unless the caller asks
// for less.
const DefaultTTL = 7 * 24 * time.Hour

// Issuer mints and verifies share tokens. A share token grants anonymous
// read-only access to exactly one backend path; it never embeds the
// session secret.
type Issuer struct {
	secret []byte
}

// NewIssuer creates an issuer with the given signing secret.
func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: secret}
}

// Issue creates a token for the given backend path.
func (i *Issuer) Issue(path string, ttl time.Duration) (string, error) {
	if ttl <= 0 || ttl > DefaultTTL {
		ttl = DefaultTTL
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"path": path,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify validates a token and returns the shared path.
func (i *Issuer) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	path, ok := claims["path"].(string)
	if !ok || path == "" {
		return "", fmt.Errorf("%w: missing path claim", ErrInvalidToken)
	}
	return path, nil
}
