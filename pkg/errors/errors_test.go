package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(ErrorTypeValidation, "name is required")
	assert.Equal(t, "validation: name is required", err.Error())
	assert.NotEmpty(t, err.Stack)
}

func TestWrap(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	err := Wrap(cause, ErrorTypeConnection, "failed to connect")

	assert.Contains(t, err.Error(), "failed to connect")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "context"))
}

func TestWrap_PreservesOriginalStack(t *testing.T) {
	inner := New(ErrorTypeQuery, "bad token")
	outer := Wrap(inner, ErrorTypeData, "parse failed")
	assert.Equal(t, inner.Stack, outer.Stack)
}

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorType{
		ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeConnection,
		ErrorTypeTransient, ErrorTypeInternal, ErrorTypeData, ErrorTypeQuery,
	}
	for _, et := range retryable {
		assert.True(t, IsRetryable(New(et, "x")), "%s should be retryable", et)
	}

	terminal := []ErrorType{
		ErrorTypeConfig, ErrorTypeValidation, ErrorTypeQualityGate,
		ErrorTypeAuthentication, ErrorTypeNotFound,
	}
	for _, et := range terminal {
		assert.False(t, IsRetryable(New(et, "x")), "%s should not be retryable", et)
		assert.True(t, IsTerminal(New(et, "x")), "%s should be terminal", et)
	}

	// Unclassified errors get the benefit of the doubt
	assert.True(t, IsRetryable(stderrors.New("plain")))
	assert.False(t, IsTerminal(stderrors.New("plain")))
}

func TestIsType_ThroughWrapping(t *testing.T) {
	err := New(ErrorTypeQualityGate, "3 violations")
	wrapped := fmt.Errorf("run aborted: %w", err)

	assert.True(t, IsType(wrapped, ErrorTypeQualityGate))
	assert.False(t, IsType(wrapped, ErrorTypeTimeout))
	assert.Equal(t, ErrorTypeQualityGate, TypeOf(wrapped))
}

func TestTypeOf_ForeignError(t *testing.T) {
	assert.Equal(t, ErrorTypeInternal, TypeOf(stderrors.New("plain")))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeData, "row rejected").
		WithDetail("row", 17).
		WithDetail("column", "email")

	require.NotNil(t, err.Details)
	assert.Equal(t, 17, err.Details["row"])
	assert.Equal(t, "email", err.Details["column"])
}
