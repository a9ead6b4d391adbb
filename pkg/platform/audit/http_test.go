package audit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procflow/pkg/requestcontext"
)

func TestFromHTTPRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/requests?dry=1", strings.NewReader(`{"kind":"leave"}`))
	req.Header.Set("Authorization", "Bearer abc")
	ctx := requestcontext.WithUserID(req.Context(), "E1")
	ctx = requestcontext.WithClientMetadata(ctx, "192.0.2.1", "curl/8.0")
	req = req.WithContext(ctx)

	ac := FromHTTPRequest(req)
	assert.Equal(t, "E1", ac.ActorID)
	assert.Equal(t, "192.0.2.1", ac.IPAddress)
	require.NotNil(t, ac.Request)
	assert.Equal(t, "/requests", ac.Request.Path)
	assert.Equal(t, []string{"1"}, ac.Request.Params["dry"])
	assert.JSONEq(t, `{"kind":"leave"}`, string(ac.Request.Body))

	// the handler still sees the whole body
	rest, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"kind":"leave"}`, string(rest))
}
