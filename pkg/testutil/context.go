package testutil

import (
	"net/http"

	id "procflow/pkg/domain"
	authmw "procflow/pkg/platform/middleware/auth"
	"procflow/pkg/requestcontext"
)

// WithUser adds an authenticated caller to the request context.
// This simulates what the auth middleware would do for authenticated requests.
func WithUser(req *http.Request, userID, name string, roles ...string) *http.Request {
	ctx := authmw.WithIdentity(req.Context(), id.UserID(userID), name, roles)
	return req.WithContext(ctx)
}

// WithClient adds the client IP and User-Agent the metadata middleware would set.
func WithClient(req *http.Request, ip, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, userAgent))
}
