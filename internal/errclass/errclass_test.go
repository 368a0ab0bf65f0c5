package errclass

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapPreservesUnderlyingMessage(t *testing.T) {
	base := errors.New("socket reset by peer")
	wrapped := Wrap(Timeout, base)

	require.ErrorIs(t, wrapped, ErrTimeout)
	require.Contains(t, wrapped.Error(), base.Error())
}

func TestWrapNilFallsBackToSentinel(t *testing.T) {
	wrapped := Wrap(AuthError, nil)
	require.ErrorIs(t, wrapped, ErrAuthError)
}

func TestClassOfUnwrapsNestedErrors(t *testing.T) {
	wrapped := Wrap(RateLimit, errors.New("429 too many requests"))
	outer := errors.New("send failed: " + wrapped.Error())

	require.Equal(t, Other, ClassOf(outer), "a plain wrapping string should not be mistaken for a classified error")
	require.Equal(t, RateLimit, ClassOf(wrapped))

	nested := fmt.Errorf("send failed: %w", wrapped)
	require.Equal(t, RateLimit, ClassOf(nested))
}

func TestRetryableAndFallback(t *testing.T) {
	require.False(t, InvalidPhone.Retryable())
	require.False(t, AuthError.Retryable())
	require.False(t, TemplateNotSupported.Retryable())
	require.True(t, Timeout.Retryable())
	require.True(t, ServerError.Retryable())

	allTriggers := Triggers{Timeout: true, RateLimit: true, TemplateError: true, ServerError: true}
	require.True(t, Timeout.TriggersFallback(allTriggers))
	require.True(t, RateLimit.TriggersFallback(allTriggers))
	require.False(t, InvalidPhone.TriggersFallback(allTriggers))
	require.False(t, AuthError.TriggersFallback(allTriggers))

	noTriggers := Triggers{}
	require.False(t, Timeout.TriggersFallback(noTriggers))
}
