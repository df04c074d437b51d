package cliproxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiter_AllowsUpToBurstThenDenies(t *testing.T) {
	l := NewLocalLimiter(0, 2)
	ctx := context.Background()

	ok, err := l.Allow(ctx, "claude")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "claude")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "claude")
	require.NoError(t, err)
	assert.False(t, ok, "burst of 2 should be exhausted on the third call")
}

func TestLocalLimiter_KeysAreIndependent(t *testing.T) {
	l := NewLocalLimiter(0, 1)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "claude")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "gpt")
	assert.True(t, ok, "a different key must have its own independent bucket")
}

func TestNewLocalLimiter_ZeroBurstDefaultsToOne(t *testing.T) {
	l := NewLocalLimiter(0, 0)
	ok, err := l.Allow(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, ok)
}
