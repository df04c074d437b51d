package gatewayerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_Retryable(t *testing.T) {
	retryable := []Kind{KindRateLimit, KindTimeout, KindProviderUnavailable}
	for _, k := range retryable {
		assert.Truef(t, k.Retryable(), "%s should be retryable", k)
	}

	terminal := []Kind{KindAuth, KindBadRequest, KindValidationFailed, KindCircuitOpen, KindHumanReviewRequired, KindCancelled, KindInternal}
	for _, k := range terminal {
		assert.Falsef(t, k.Retryable(), "%s should not be retryable", k)
	}
}

func TestError_Error_WithoutCause(t *testing.T) {
	err := New(KindBadRequest, "missing field")
	assert.Equal(t, "bad_request: missing field", err.Error())
}

func TestError_Error_WithCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(KindProviderUnavailable, "upstream unreachable", cause)
	assert.Equal(t, "provider_unavailable: upstream unreachable: dial tcp: timeout", err.Error())
}

func TestError_Unwrap_ReturnsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindInternal, "wrapped", cause)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestError_Unwrap_NilCauseIsNilUnwrap(t *testing.T) {
	err := New(KindInternal, "no cause")
	assert.Nil(t, errors.Unwrap(err))
}

func TestAs_ExtractsDirectError(t *testing.T) {
	err := New(KindAuth, "bad key")
	ge, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KindAuth, ge.Kind)
}

func TestAs_ExtractsWrappedError(t *testing.T) {
	inner := New(KindTimeout, "slow provider")
	outer := fmt.Errorf("request failed: %w", inner)
	ge, ok := As(outer)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, ge.Kind)
}

func TestAs_ReturnsFalseForUnrelatedError(t *testing.T) {
	_, ok := As(errors.New("plain error"))
	assert.False(t, ok)
}

func TestAs_ReturnsFalseForNil(t *testing.T) {
	_, ok := As(nil)
	assert.False(t, ok)
}

func TestKindOf_ReturnsKindForGatewayError(t *testing.T) {
	assert.Equal(t, KindRateLimit, KindOf(New(KindRateLimit, "slow down")))
}

func TestKindOf_DefaultsToInternalForUnrelatedError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain error")))
}

func TestKindOf_DefaultsToInternalForNil(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(nil))
}
