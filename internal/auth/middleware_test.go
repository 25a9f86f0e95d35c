package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte("irrelevant"))
	require.NoError(t, err)
	return s
}

func TestParseUnverified(t *testing.T) {
	raw := signedToken(t, jwt.MapClaims{
		"sub":                   "user-1",
		"email":                 "a@example.com",
		"email_verified":        true,
		"phone_number":          "+22670000000",
		"phone_number_verified": false,
		"realm_access":          map[string]interface{}{"roles": []string{"ADMIN"}},
	})

	identity, err := ParseUnverified(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.Subject)
	assert.Equal(t, "a@example.com", identity.VerifiedEmail())
	assert.Empty(t, identity.VerifiedPhone())
	assert.True(t, identity.HasRole("admin"))
	assert.False(t, identity.HasRole("SCANNER"))

	_, err = ParseUnverified(signedToken(t, jwt.MapClaims{"email": "x@example.com"}))
	assert.Error(t, err)
}

func TestMiddlewareAndRequireRole(t *testing.T) {
	var seen string
	handler := Middleware(InsecureVerifier{})(RequireRole("SCANNER")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("Authorization", "Bearer "+signedToken(t, jwt.MapClaims{"sub": "u1"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req.Header.Set("Authorization", "Bearer "+signedToken(t, jwt.MapClaims{"sub": "u1", "roles": []string{"SCANNER"}}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", seen)
}
