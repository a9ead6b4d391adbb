package audit

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"procflow/pkg/requestcontext"
)

// Context is the caller identity and request metadata for one audited call.
// It is built once at the entry boundary and passed explicitly.
type Context struct {
	ActorID   string
	ActorName string
	Roles     []string
	TraceID   string
	IPAddress string
	UserAgent string
	Request   *HTTPRequest
}

// HTTPRequest is the inbound request as seen by the transport.
type HTTPRequest struct {
	Method  string
	Path    string
	Params  map[string][]string
	Body    []byte
	Headers map[string][]string
}

// HasRole reports whether the actor carries role.
func (c Context) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// NewContext builds an audit context for actor, taking the trace id from the
// active span when there is one.
func NewContext(ctx context.Context, actorID, actorName string) Context {
	return Context{
		ActorID:   actorID,
		ActorName: actorName,
		TraceID:   TraceIDFrom(ctx),
	}
}

// FromRequestContext reads the values the HTTP middleware placed on ctx.
func FromRequestContext(ctx context.Context) Context {
	ac := NewContext(ctx, requestcontext.UserID(ctx).String(), requestcontext.UserName(ctx))
	ac.Roles = requestcontext.Roles(ctx)
	ac.IPAddress = requestcontext.ClientIP(ctx)
	ac.UserAgent = requestcontext.UserAgent(ctx)
	return ac
}

// System returns a context for background jobs acting under a service identity.
func System(ctx context.Context, name string, roles ...string) Context {
	ac := NewContext(ctx, "system:"+name, name)
	ac.Roles = roles
	return ac
}

// TraceIDFrom returns the OpenTelemetry trace id of ctx, then the request id,
// then a fresh random id.
func TraceIDFrom(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	if rid := requestcontext.RequestID(ctx); rid != "" {
		return rid
	}
	return uuid.NewString()
}
