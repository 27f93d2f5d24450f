package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
)

// Claims are the access token claims issued by the hosted auth provider.
type Claims struct {
	Email        string       `json:"email"`
	UserMetadata UserMetadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

// UserMetadata carries profile fields set at sign-up.
type UserMetadata struct {
	FullName string `json:"full_name"`
}

// Verifier validates HS256 access tokens.
type Verifier struct {
	secret []byte
	opts   []jwt.ParserOption
}

// NewVerifier builds a verifier. Empty issuer or audience are not checked.
func NewVerifier(secret, issuer, audience string) *Verifier {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &Verifier{secret: []byte(secret), opts: opts}
}

// Verify parses and validates a bearer token returning its claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing token")
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, v.opts...)
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "token expired"
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, msg)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}
