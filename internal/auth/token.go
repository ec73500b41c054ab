package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const (
	RoleAdmin   = "ADMIN"
	RoleStudent = "STUDENT"
)

var ErrUnauthorized = errors.New("unauthorized")

type User struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name,omitempty"`
	Role string    `json:"role"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 bearer tokens issued by the platform's identity
// service. The subject claim carries the user id.
type TokenVerifier struct {
	secret []byte
	leeway time.Duration
}

func NewTokenVerifier(secret string, leeway time.Duration) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), leeway: leeway}
}

func (v *TokenVerifier) Verify(raw string) (*User, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(v.secret) == 0 {
		return nil, ErrUnauthorized
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !tok.Valid {
		if !v.withinLeeway(err, claims) {
			return nil, ErrUnauthorized
		}
	}

	id, err := uuid.Parse(strings.TrimSpace(claims.Subject))
	if err != nil {
		return nil, ErrUnauthorized
	}
	role := strings.ToUpper(strings.TrimSpace(claims.Role))
	if role != RoleAdmin && role != RoleStudent {
		return nil, ErrUnauthorized
	}
	return &User{ID: id, Name: claims.Name, Role: role}, nil
}

// Issue signs a token for u. The platform's identity service is the normal
// issuer; this exists for tooling and tests.
func (v *TokenVerifier) Issue(u User, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Name: u.Name,
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// withinLeeway accepts a token whose only defect is an expiry less than the
// configured leeway ago.
func (v *TokenVerifier) withinLeeway(err error, claims *Claims) bool {
	var ve *jwt.ValidationError
	if v.leeway <= 0 || !errors.As(err, &ve) || ve.Errors != jwt.ValidationErrorExpired {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return time.Since(claims.ExpiresAt.Time) <= v.leeway
}
