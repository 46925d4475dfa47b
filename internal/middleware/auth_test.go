package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveWithToken(t *testing.T, m *AuthMiddleware, header string, next http.Handler) *http.Response {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if header != "" {
		r.Header.Set("Authorization", header)
	}
	m.Middleware(next).ServeHTTP(w, r)
	return w.Result()
}

func TestAuthMiddleware_WithValidToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	token, err := m.SignToken("alice.near")
	require.NoError(t, err)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		account, ok := GetAccountFromContext(r.Context())
		require.True(t, ok, "account not in context")
		assert.Equal(t, "alice.near", account)
	})

	res := serveWithToken(t, m, "Bearer "+token, next)
	defer res.Body.Close()

	assert.True(t, nextCalled, "next handler was not called")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	other := NewAuthMiddleware("other-secret")

	foreign, err := other.SignToken("alice.near")
	require.NoError(t, err)

	expiredSigner := NewAuthMiddleware("test-secret")
	expiredSigner.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	expired, err := expiredSigner.SignToken("alice.near")
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   "alice.near",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   "Alice Near!",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{name: "no header", header: ""},
		{name: "wrong scheme", header: "Basic YWxpY2U6cHc="},
		{name: "empty token", header: "Bearer "},
		{name: "garbage", header: "Bearer not-a-jwt"},
		{name: "foreign secret", header: "Bearer " + foreign},
		{name: "expired", header: "Bearer " + expired},
		{name: "alg none", header: "Bearer " + unsigned},
		{name: "invalid subject", header: "Bearer " + badSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})
			res := serveWithToken(t, m, tt.header, next)
			defer res.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
		})
	}
}

func TestSignToken_InvalidAccount(t *testing.T) {
	m := NewAuthMiddleware("")
	for _, account := range []string{"", "Alice", "-alice.near", "a"} {
		_, err := m.SignToken(account)
		require.Error(t, err, account)
	}
}
