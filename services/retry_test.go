package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second, Multiplier: 2.0, MaxDelay: 60 * time.Second}

	require.Equal(t, time.Duration(0), p.Delay(1))
	require.Equal(t, 2*time.Second, p.Delay(2))
	require.Equal(t, 4*time.Second, p.Delay(3))
	require.Equal(t, 8*time.Second, p.Delay(4))
}

func TestRetryPolicyDelayCapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: 2 * time.Second, Multiplier: 2.0, MaxDelay: 5 * time.Second}

	require.Equal(t, 2*time.Second, p.Delay(2))
	require.Equal(t, 4*time.Second, p.Delay(3))
	require.Equal(t, 5*time.Second, p.Delay(4))
	require.Equal(t, 5*time.Second, p.Delay(9))
}

func TestRetryPolicyWaitCancelled(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute, Multiplier: 2.0, MaxDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Versuch 1 wartet nie, auch nicht bei Cancel
	require.NoError(t, p.Wait(ctx, 1))
	require.ErrorIs(t, p.Wait(ctx, 2), context.Canceled)
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	require.Equal(t, 3, p.MaxAttempts)
	require.Equal(t, 2*time.Second, p.BaseDelay)
	require.Equal(t, 60*time.Second, p.MaxDelay)
}
