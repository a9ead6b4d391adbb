package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches outer code", func(t *testing.T) {
		err := New(CodeNotFound, "request not found")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("matches wrapped code", func(t *testing.T) {
		inner := New(CodeConflict, "version mismatch")
		err := Wrap(inner, CodeInvalidState, "request changed concurrently")
		assert.True(t, HasCode(err, CodeInvalidState))
		assert.True(t, HasCode(err, CodeConflict))
	})

	t.Run("sees through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", New(CodeForbidden, "nope"))
		assert.True(t, Is(err, CodeForbidden))
	})

	t.Run("foreign errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeWorkflowStart, "could not start process")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "could not start process: connection refused", err.Error())
	assert.Equal(t, "could not start process", MessageOf(err))
	assert.Nil(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(CodeWorkflowCompletion, "x")))
	assert.True(t, Retryable(New(CodePersistence, "x")))
	assert.False(t, Retryable(New(CodeValidation, "x")))
	assert.False(t, Retryable(errors.New("x")))
}
