package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "procflow/pkg/domain"
	dErrors "procflow/pkg/domain-errors"
	"procflow/pkg/platform/httputil"
	"procflow/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	UserID string
	Name   string
	Roles  []string
}

// FailureHook observes rejected authentication attempts.
type FailureHook func(r *http.Request, err error)

type Option func(*options)

type options struct {
	onFailure FailureHook
}

// WithFailureHook calls hook for every request rejected with 401.
func WithFailureHook(hook FailureHook) Option {
	return func(o *options) {
		o.onFailure = hook
	}
}

// RequireAuth rejects requests without a valid bearer token and puts the
// caller's identity on the context.
func RequireAuth(validator JWTValidator, logger *slog.Logger, opts ...Option) func(http.Handler) http.Handler {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	reject := func(w http.ResponseWriter, r *http.Request, err error) {
		if o.onFailure != nil {
			o.onFailure(r, err)
		}
		httputil.WriteError(w, err)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				reject(w, r, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				reject(w, r, dErrors.Wrap(err, dErrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}
			userID, err := id.ParseUserID(claims.UserID)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - bad subject",
					"error", err,
					"request_id", requestID,
				)
				reject(w, r, dErrors.Wrap(err, dErrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, userID, claims.Name, claims.Roles)))
		})
	}
}

// WithIdentity places an authenticated caller on ctx.
// Useful for handler tests that don't run the full middleware chain.
func WithIdentity(ctx context.Context, userID id.UserID, name string, roles []string) context.Context {
	ctx = requestcontext.WithUserID(ctx, userID)
	ctx = requestcontext.WithUserName(ctx, name)
	return requestcontext.WithRoles(ctx, roles)
}
