// Package auth carries the caller identity through a request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind tags which variant of caller a principal is
type Kind int

const (
	KindGuest Kind = iota
	KindUser
	KindAdmin
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindAdmin:
		return "admin"
	}
	return "guest"
}

// Principal is the caller identity, decided once at authentication time
type Principal struct {
	Kind   Kind
	UserID int64
}

func Guest() Principal { return Principal{Kind: KindGuest} }
func User(id int64) Principal { return Principal{Kind: KindUser, UserID: id} }
func Admin(id int64) Principal { return Principal{Kind: KindAdmin, UserID: id} }
func (p Principal) IsAdmin() bool { return p.Kind == KindAdmin }
func (p Principal) IsGuest() bool { return p.Kind == KindGuest }
func (p Principal) Authenticated() bool { return p.Kind != KindGuest }

// Actor is the name recorded in audit rows.
func (p Principal) Actor() string {
	if p.IsGuest() {
		return "guest"
	}
	return fmt.Sprintf("%s:%d", p.Kind, p.UserID)
}

// CanAccessUser reports whether p may see resources owned by userID.
func (p Principal) CanAccessUser(userID int64) bool {
	return p.IsAdmin() || (p.Kind == KindUser && p.UserID == userID)
}

type ctxKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored in ctx, or a guest.
func FromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(ctxKey{}).(Principal); ok {
		return p
	}
	return Guest()
}

const (
	roleUser  = "user"
	roleAdmin = "admin"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims issued by the auth service
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// ParseToken validates an HS256 token and returns the principal it names.
func ParseToken(tokenString string, key []byte) (Principal, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Guest(), fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Guest(), fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}

	switch claims.Role {
	case roleAdmin:
		return Admin(id), nil
	case roleUser, "":
		return User(id), nil
	}
	return Guest(), fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
}

// IssueToken signs a token for p. Used by operator tooling and tests; the
// auth service owns token issuance for real users.
func IssueToken(p Principal, expire time.Duration, key []byte) (string, error) {
	if p.IsGuest() {
		return "", errors.New("cannot issue a token for a guest")
	}
	role := roleUser
	if p.IsAdmin() {
		role = roleAdmin
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.UserID, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expire)),
		},
		Role: role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}
