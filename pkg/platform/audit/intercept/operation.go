package intercept

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	audit "procflow/pkg/platform/audit"
)

// Args are the named inputs of an audited call.
type Args map[string]any

// Extractor derives a string from the call's arguments or its result.
type Extractor func(args Args, result any) (string, error)

// Operation configures how one call is audited. The zero value records an
// async entry with params and body captured and default masking.
type Operation struct {
	Type        audit.OperationType
	Name        string
	Description string
	Module      audit.Module
	TargetType  string
	Risk        audit.RiskLevel

	// SensitiveFields replaces the interceptor defaults when set.
	SensitiveFields []string

	Sync            bool
	SkipParams      bool
	SkipBody        bool
	IncludeHeaders  bool
	IncludeResponse bool

	TargetID   Extractor
	TargetName Extractor
	// Describe falls back to Description when it fails or is unset.
	Describe Extractor
}

// ArgString returns the named argument as a string.
func ArgString(name string) Extractor {
	return func(args Args, _ any) (string, error) {
		v, ok := args[name]
		if !ok {
			return "", fmt.Errorf("argument %q not present", name)
		}
		return stringify(v)
	}
}

// ArgField returns a field of the named argument. path is dot separated and
// uses JSON field names, e.g. "payload.amount".
func ArgField(name, path string) Extractor {
	return func(args Args, _ any) (string, error) {
		v, ok := args[name]
		if !ok {
			return "", fmt.Errorf("argument %q not present", name)
		}
		return field(v, path)
	}
}

// ResultField returns a field of the call's result.
func ResultField(path string) Extractor {
	return func(_ Args, result any) (string, error) {
		return field(result, path)
	}
}

// Static always yields s.
func Static(s string) Extractor {
	return func(Args, any) (string, error) { return s, nil }
}

func field(v any, path string) (string, error) {
	if v == nil {
		return "", fmt.Errorf("cannot read %q from nil", path)
	}
	cur, err := asTree(v)
	if err != nil {
		return "", err
	}
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", fmt.Errorf("cannot read %q: not an object", part)
		}
		if cur, ok = obj[part]; !ok {
			return "", fmt.Errorf("field %q not present", part)
		}
	}
	return stringify(cur)
}

func asTree(v any) (any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	if a, ok := v.(Args); ok {
		return map[string]any(a), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return tree, nil
}

func stringify(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", fmt.Errorf("value is null")
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	case fmt.Stringer:
		return t.String(), nil
	case map[string]any, []any:
		return "", fmt.Errorf("value is not scalar")
	default:
		return fmt.Sprint(t), nil
	}
}
