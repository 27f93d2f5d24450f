package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/school-admin-api/pkg/errors"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims() Claims {
	now := time.Now()
	return Claims{
		Email:        "ani@school.id",
		UserMetadata: UserMetadata{FullName: "Ani"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

type staticPermissions struct {
	names []string
	err   error
}

func (s staticPermissions) PermissionNames(context.Context, string) ([]string, error) {
	return s.names, s.err
}

func TestVerifierAcceptsValidToken(t *testing.T) {
	v := NewVerifier(testSecret, "", "authenticated")
	claims, err := v.Verify(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "Ani", claims.UserMetadata.FullName)
}

func TestVerifierRejects(t *testing.T) {
	v := NewVerifier(testSecret, "", "authenticated")

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"anon"}
	noSubject := validClaims()
	noSubject.Subject = ""

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not.a.token",
		"wrong secret":   signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims()),
		"wrong method":   signToken(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims()),
		"expired":        signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired),
		"wrong audience": signToken(t, jwt.SigningMethodHS256, []byte(testSecret), wrongAudience),
		"no subject":     signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noSubject),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
		})
	}
}

func TestResolverBuildsSession(t *testing.T) {
	r := NewResolver(NewVerifier(testSecret, "", ""), staticPermissions{names: []string{"reports.view"}}, nil)
	sess, err := r.Resolve(context.Background(), signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", sess.UserID)
	assert.Equal(t, "ani@school.id", sess.Email)
	assert.True(t, sess.Has("reports.view"))
	assert.False(t, sess.Has("reports.view", "users.manage"))
}

func TestResolverPermissionFailure(t *testing.T) {
	r := NewResolver(NewVerifier(testSecret, "", ""), staticPermissions{err: appErrors.ErrInternal}, nil)
	_, err := r.Resolve(context.Background(), signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims()))
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
}

func TestSessionContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithSession(context.Background(), &Session{UserID: "u1"})
	sess, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", sess.UserID)

	var nilSession *Session
	assert.False(t, nilSession.Has("reports.view"))
}
