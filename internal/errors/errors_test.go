package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_FormatsKindAndDetails(t *testing.T) {
	err := New(KindSessionNotFound, "session missing").
		WithDetail("session_id", "abc")

	msg := err.Error()
	assert.Contains(t, msg, "[session_not_found]")
	assert.Contains(t, msg, "session missing")
	assert.Contains(t, msg, "session_id=abc")
}

func TestError_IsMatchesByKind(t *testing.T) {
	err := BudgetExceeded("s1", 100, 100)

	assert.True(t, stderrors.Is(err, New(KindBudgetExceeded, "")))
	assert.False(t, stderrors.Is(err, New(KindSessionNotFound, "")))
}

func TestError_UnwrapChain(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(KindStorage, "failed to write blob", cause)

	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("plain error")))
	assert.Equal(t, KindContentMissing, KindOf(ContentMissing("deadbeef")))

	// Wrapped structured errors are still classified.
	wrapped := fmt.Errorf("outer: %w", SpanNotFound("sp-1"))
	assert.Equal(t, KindSpanNotFound, KindOf(wrapped))
}

func TestBudgetExceeded_CarriesCounts(t *testing.T) {
	err := BudgetExceeded("s1", 42, 50)

	require.NotNil(t, err.Details)
	assert.Equal(t, "42", err.Details["used"])
	assert.Equal(t, "50", err.Details["limit"])
	assert.Contains(t, err.Message, "42/50")
}
