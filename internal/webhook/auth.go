package webhook

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/user/liftcoach/internal/types"
)

var (
	ErrAuthDisabled = errors.New("jwt auth is not configured")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims identify the lifter a token was issued to.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HMAC-signed user tokens.
type Signer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewSigner returns a Signer for secret. A non-positive expiry issues tokens
// that never expire.
func NewSigner(secret string, expiry time.Duration) *Signer {
	return &Signer{secret: []byte(secret), expiry: expiry, now: time.Now}
}

// Issue signs a token whose subject is userID.
func (s *Signer) Issue(userID, name string) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id required")
	}
	now := s.now()
	claims := Claims{
		Name: strings.TrimSpace(name),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.expiry))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses token and returns the principal it names. The principal ID
// carries the same "http:" prefix as unsigned API callers.
func (s *Signer) Verify(token string) (*types.Principal, error) {
	if s == nil || len(s.secret) == 0 {
		return nil, ErrAuthDisabled
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &types.Principal{ID: "http:" + claims.Subject, Name: claims.Name}, nil
}
