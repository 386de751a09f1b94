package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification failures, distinguishable so the gateway can log them apart.
// All of them surface to the client as the same 401.
var (
	ErrTokenMissing = errors.New("authentication token required")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")
)

// Claims is the access-token payload issued by the notes backend.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
}

// Verifier produces a verified user identity from a bearer credential.
// The rest of the service treats it as opaque; tests substitute their own.
type Verifier interface {
	UserFromToken(token string) (int64, error)
}

// JWTVerifier validates HS256 access tokens against a shared secret.
// Revocation checks live with the token issuer, not here.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
// leeway absorbs clock skew between issuer and this service.
func NewJWTVerifier(secret string, leeway time.Duration) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(leeway),
			jwt.WithExpirationRequired(),
		),
	}
}

// UserFromToken parses and validates token and returns the user id it
// carries.
func (v *JWTVerifier) UserFromToken(token string) (int64, error) {
	if token == "" {
		return 0, ErrTokenMissing
	}

	claims := Claims{}
	_, err := v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return 0, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	if claims.UserID == 0 {
		return 0, fmt.Errorf("%w: missing user_id claim", ErrTokenInvalid)
	}
	return claims.UserID, nil
}
