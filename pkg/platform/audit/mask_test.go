package audit

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasker_NestedBody(t *testing.T) {
	m := NewMasker(nil)
	body := []byte(`{"user":{"name":"a","credentials":{"password":"p"}},"items":[{"apiKey":"k","qty":2}],"note":"ok"}`)

	masked := m.JSON(body)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(masked), &got))
	user := got["user"].(map[string]any)
	assert.Equal(t, "a", user["name"])
	assert.Equal(t, MaskMarker, user["credentials"].(map[string]any)["password"])
	item := got["items"].([]any)[0].(map[string]any)
	assert.Equal(t, MaskMarker, item["apiKey"])
	assert.Equal(t, float64(2), item["qty"])
	assert.Equal(t, "ok", got["note"])
	assert.NotContains(t, masked, `"p"`)
}

func TestMasker_TruncatesOnRuneBoundary(t *testing.T) {
	body, err := json.Marshal(map[string]string{"reason": strings.Repeat("请假", 1000)})
	require.NoError(t, err)

	masked := NewMasker(nil).JSON(body)

	assert.True(t, utf8.ValidString(masked))
	assert.True(t, strings.HasSuffix(masked, "...(truncated)"))
	assert.LessOrEqual(t, len(masked), maxFieldLength+len("...(truncated)"))
}

func TestMasker_KeyMatching(t *testing.T) {
	m := NewMasker([]string{" Password ", "token", "token"})

	for _, key := range []string{"password", "PASSWORD", "new_password", "access-token", "refreshToken"} {
		assert.True(t, m.IsSensitive(key), key)
	}
	for _, key := range []string{"comment", "passwordHint", "days"} {
		assert.False(t, m.IsSensitive(key), key)
	}
}

func TestMasker_ParamsAndHeaders(t *testing.T) {
	m := NewMasker(nil)

	params := m.Params(map[string][]string{"token": {"abc"}, "page": {"2"}, "tag": {"a", "b"}})
	assert.JSONEq(t, `{"token":"***","page":"2","tag":["a","b"]}`, params)

	headers := m.Headers(map[string][]string{"Authorization": {"Bearer xyz"}, "X-Request-Id": {"r1"}})
	assert.JSONEq(t, `{"Authorization":"***","X-Request-Id":"r1"}`, headers)
}

func TestMasker_NonJSONBodyIsNotStored(t *testing.T) {
	m := NewMasker(nil)
	out := m.JSON([]byte("password=hunter2"))
	assert.NotContains(t, out, "hunter2")
	assert.Equal(t, "", m.JSON(nil))
}

func TestMasker_AnyStruct(t *testing.T) {
	type login struct {
		Username string `json:"username"`
		Secret   string `json:"client_secret"`
	}
	out := NewMasker(nil).Any(login{Username: "alice", Secret: "s3"})
	assert.JSONEq(t, `{"username":"alice","client_secret":"***"}`, out)
}
