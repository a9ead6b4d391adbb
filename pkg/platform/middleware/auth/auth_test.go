package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"procflow/pkg/requestcontext"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (s stubValidator) ValidateToken(string) (*JWTClaims, error) { return s.claims, s.err }

func TestRequireAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var seen *http.Request
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("missing header", func(t *testing.T) {
		rr := httptest.NewRecorder()
		RequireAuth(stubValidator{}, logger)(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), `"error":"unauthorized"`)
	})

	t.Run("invalid token calls failure hook", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rr := httptest.NewRecorder()
		var hookErr error
		hook := WithFailureHook(func(_ *http.Request, err error) { hookErr = err })
		RequireAuth(stubValidator{err: errors.New("bad")}, logger, hook)(next).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.ErrorContains(t, hookErr, "bad")
		assert.NotContains(t, rr.Body.String(), "bad")
	})

	t.Run("valid token sets identity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer ok")
		rr := httptest.NewRecorder()
		v := stubValidator{claims: &JWTClaims{UserID: "M1", Name: "Mia", Roles: []string{"admin"}}}
		RequireAuth(v, logger)(next).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		ctx := seen.Context()
		assert.Equal(t, "M1", requestcontext.UserID(ctx).String())
		assert.Equal(t, "Mia", requestcontext.UserName(ctx))
		assert.True(t, requestcontext.HasRole(ctx, "admin"))
	})
}
