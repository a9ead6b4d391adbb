package audit

import (
	"bytes"
	"io"
	"net/http"
)

// maxCapturedBody bounds how much of a request body an entry keeps.
const maxCapturedBody = 64 << 10

// FromHTTPRequest builds the audit context of an inbound request. The body is
// read and put back so the handler can still decode it; bodies larger than
// maxCapturedBody are not captured.
func FromHTTPRequest(r *http.Request) Context {
	ac := FromRequestContext(r.Context())
	req := &HTTPRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Params:  r.URL.Query(),
		Headers: r.Header.Clone(),
	}
	if r.Body != nil && r.Body != http.NoBody {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxCapturedBody+1))
		r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(raw), r.Body), Closer: r.Body}
		if err == nil && len(raw) <= maxCapturedBody {
			req.Body = raw
		}
	}
	ac.Request = req
	return ac
}

type readCloser struct {
	io.Reader
	io.Closer
}
