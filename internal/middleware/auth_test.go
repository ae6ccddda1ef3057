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

const testSecret = "test-secret"

func echoUserHandler(t *testing.T) (http.Handler, *string) {
	t.Helper()
	var gotUser string
	handler := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return handler, &gotUser
}

func TestAuth(t *testing.T) {
	t.Run("Should accept a minted bearer token", func(t *testing.T) {
		token, err := MintToken(testSecret, "u1", time.Hour)
		require.NoError(t, err)

		handler, gotUser := echoUserHandler(t)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/1", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "u1", *gotUser)
	})

	t.Run("Should accept the token via the access_token query parameter", func(t *testing.T) {
		token, err := MintToken(testSecret, "u2", time.Hour)
		require.NoError(t, err)

		handler, gotUser := echoUserHandler(t)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/1/stream?access_token="+token, nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "u2", *gotUser)
	})

	t.Run("Should reject a missing token", func(t *testing.T) {
		handler, _ := echoUserHandler(t)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/1", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Should reject a token signed with another secret", func(t *testing.T) {
		token, err := MintToken("other-secret", "u1", time.Hour)
		require.NoError(t, err)

		handler, _ := echoUserHandler(t)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/1", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Should reject an expired token", func(t *testing.T) {
		token, err := MintToken(testSecret, "u1", -time.Minute)
		require.NoError(t, err)

		handler, _ := echoUserHandler(t)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/1", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireScope(t *testing.T) {
	scoped := func(scope string) http.Handler {
		return Auth(testSecret)(RequireScope(scope)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))
	}

	mintScoped := func(t *testing.T, scopes ...string) string {
		t.Helper()
		now := time.Now()
		claims := &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "u1",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
			Scopes: scopes,
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		return token
	}

	t.Run("Should pass a token carrying the scope", func(t *testing.T) {
		token, err := MintToken(testSecret, "u1", time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		scoped("tasks:write").ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Should reject a read-only token on a write route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", nil)
		req.Header.Set("Authorization", "Bearer "+mintScoped(t, "tasks:read"))
		rec := httptest.NewRecorder()

		scoped("tasks:write").ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestValidateTaskID(t *testing.T) {
	t.Run("Should accept snowflake-style decimal IDs", func(t *testing.T) {
		assert.NoError(t, ValidateTaskID("17241800000001234"))
	})

	t.Run("Should reject non-decimal IDs", func(t *testing.T) {
		assert.Error(t, ValidateTaskID("abc123"))
		assert.Error(t, ValidateTaskID("12-34"))
	})

	t.Run("Should reject empty and oversized IDs", func(t *testing.T) {
		assert.Error(t, ValidateTaskID(""))
		assert.Error(t, ValidateTaskID("1234567890123456789012345"))
	})
}
