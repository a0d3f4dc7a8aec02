package gateway

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/princevash/openclaw-mt/internal/rpc"
)

var (
	// ErrJWTDisabled indicates no operator JWT secret is configured
	ErrJWTDisabled = errors.New("operator JWT auth not configured")

	// ErrInvalidJWT indicates the token failed validation
	ErrInvalidJWT = errors.New("invalid operator token")
)

// operatorClaims are the custom claims carried by gateway-issued operator
// tokens.
type operatorClaims struct {
	Role   string   `json:"role"`
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// ParseOperatorToken validates an HS256 operator token and returns its role
// and scopes. Only HMAC signatures are accepted.
func ParseOperatorToken(secret, tokenString string) (rpc.Role, []string, error) {
	if secret == "" {
		return "", nil, ErrJWTDisabled
	}

	claims := &operatorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", nil, ErrInvalidJWT
	}

	role := rpc.Role(claims.Role)
	if role != rpc.RoleOperator && role != rpc.RoleNode {
		return "", nil, ErrInvalidJWT
	}
	return role, claims.Scopes, nil
}

// MintOperatorToken issues an HS256 operator token. Used by the CLI and by
// tests.
func MintOperatorToken(secret string, role rpc.Role, scopes []string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrJWTDisabled
	}
	now := time.Now()
	claims := &operatorClaims{
		Role:   string(role),
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
