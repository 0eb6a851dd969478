package idtoken

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockVerifier struct {
	verifyFunc func(tokenString string) error
}

func (m *mockVerifier) Verify(tokenString string) error {
	if m.verifyFunc != nil {
		return m.verifyFunc(tokenString)
	}
	return nil
}

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("upstream-secret"))
	require.NoError(t, err)
	return signed
}

func TestExtract(t *testing.T) {
	svc := NewService(nil, nil)

	tokenString := signToken(t, Claims{
		Username:   "steve",
		Email:      "steve@example.com",
		PlayerUUID: "c06f8906-4c8a-4911-9c29-ea1d8c2e2b55",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "idp-subject-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := svc.Extract(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "steve", claims.Username)
	assert.Equal(t, "steve@example.com", claims.Email)
	assert.Equal(t, "c06f8906-4c8a-4911-9c29-ea1d8c2e2b55", claims.PlayerUUID)
	assert.Equal(t, "idp-subject-1", claims.Subject)
}

func TestExtract_Malformed(t *testing.T) {
	svc := NewService(nil, nil)

	_, err := svc.Extract("not.a.jwt")
	assert.ErrorIs(t, err, ErrMalformedToken)

	_, err = svc.Extract("")
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestExtract_Expired(t *testing.T) {
	svc := NewService(nil, nil)

	tokenString := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "idp-subject-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := svc.Extract(tokenString)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestExtract_VerifierRejects(t *testing.T) {
	verifyErr := errors.New("bad signature")
	svc := NewService(&mockVerifier{
		verifyFunc: func(string) error { return verifyErr },
	}, nil)

	tokenString := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "idp-subject-1"},
	})

	_, err := svc.Extract(tokenString)
	assert.ErrorIs(t, err, verifyErr)
}

func TestSubject(t *testing.T) {
	svc := NewService(nil, nil)

	tokenString := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "idp-subject-1"},
	})

	subject, err := svc.Subject(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "idp-subject-1", subject)
}
