package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "market-chat/errors"
)

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Authenticator resolves a bearer credential to a stable numeric user id.
// It is the single authentication step performed at connection accept time;
// protocol handlers receive an already-resolved identity and never touch
// credentials themselves.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Resolve parses and validates the signature and expiration of a JWT
// credential, returning the user id it carries. Any failure maps to
// ErrInvalidCredential: callers only need to know the identity could not
// be established.
func (a *Authenticator) Resolve(credential string) (int64, error) {
	token, err := jwt.ParseWithClaims(credential, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperrors.ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.UserID <= 0 {
		return 0, apperrors.ErrInvalidCredential
	}
	return claims.UserID, nil
}

// Mint creates a signed JWT for a specific user, used by tests and local
// tooling.
func (a *Authenticator) Mint(userID int64, duration time.Duration) (string, error) {
	claims := &CustomClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(duration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "market-chat",
		},
	}
	// HS256: HMAC with SHA256, same scheme the rest of the platform uses
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
