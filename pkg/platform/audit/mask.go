package audit

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// MaskMarker replaces sensitive values.
const MaskMarker = "***"

// maxFieldLength bounds every serialized request/response field.
const maxFieldLength = 4096

// DefaultSensitiveFields are masked when an operation names none.
var DefaultSensitiveFields = []string{"password", "token", "secret", "key"}

// headers that always carry credentials regardless of configuration
var credentialHeaders = []string{"authorization", "cookie", "setcookie", "proxyauthorization"}

// Masker redacts sensitive keys at any depth. Keys match case-insensitively
// with '_' and '-' ignored, either exactly or as a suffix, so "api_key" and
// "accessToken" are caught by "key" and "token".
type Masker struct {
	fields []string
}

func NewMasker(fields []string) Masker {
	if len(fields) == 0 {
		fields = DefaultSensitiveFields
	}
	normalized := make([]string, 0, len(fields))
	for _, f := range fields {
		if n := normalizeKey(strings.TrimSpace(f)); n != "" && !slices.Contains(normalized, n) {
			normalized = append(normalized, n)
		}
	}
	return Masker{fields: normalized}
}

func normalizeKey(k string) string {
	k = strings.ToLower(k)
	k = strings.ReplaceAll(k, "_", "")
	return strings.ReplaceAll(k, "-", "")
}

// IsSensitive reports whether key should be masked.
func (m Masker) IsSensitive(key string) bool {
	n := normalizeKey(key)
	for _, f := range m.fields {
		if n == f || strings.HasSuffix(n, f) {
			return true
		}
	}
	return false
}

// Value returns a masked deep copy of a JSON-shaped value.
func (m Masker) Value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if m.IsSensitive(k) {
				out[k] = MaskMarker
				continue
			}
			out[k] = m.Value(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = m.Value(val)
		}
		return out
	default:
		return v
	}
}

// Any serializes an arbitrary Go value through JSON and masks it.
func (m Masker) Any(v any) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("[unserializable %T]", v)
	}
	return m.JSON(raw)
}

// JSON masks a raw JSON document. Non-JSON input is not stored verbatim.
func (m Masker) JSON(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Sprintf("[non-json body: %d bytes]", len(raw))
	}
	out, err := json.Marshal(m.Value(decoded))
	if err != nil {
		return ""
	}
	return truncate(string(out))
}

// Params masks a query-parameter map. Single-valued keys are flattened.
func (m Masker) Params(params map[string][]string) string {
	if len(params) == 0 {
		return ""
	}
	flat := make(map[string]any, len(params))
	for k, vals := range params {
		switch {
		case m.IsSensitive(k):
			flat[k] = MaskMarker
		case len(vals) == 1:
			flat[k] = vals[0]
		default:
			list := make([]any, len(vals))
			for i, v := range vals {
				list[i] = v
			}
			flat[k] = list
		}
	}
	out, err := json.Marshal(flat)
	if err != nil {
		return ""
	}
	return truncate(string(out))
}

// Headers masks request headers, always hiding credential-bearing ones.
func (m Masker) Headers(headers map[string][]string) string {
	if len(headers) == 0 {
		return ""
	}
	flat := make(map[string]string, len(headers))
	for k, vals := range headers {
		if m.IsSensitive(k) || isCredentialHeader(k) {
			flat[k] = MaskMarker
			continue
		}
		flat[k] = strings.Join(vals, ", ")
	}
	out, err := json.Marshal(flat)
	if err != nil {
		return ""
	}
	return truncate(string(out))
}

func isCredentialHeader(k string) bool {
	n := normalizeKey(k)
	for _, h := range credentialHeaders {
		if n == h {
			return true
		}
	}
	return false
}

func truncate(s string) string {
	if len(s) <= maxFieldLength {
		return s
	}
	n := maxFieldLength
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "...(truncated)"
}
