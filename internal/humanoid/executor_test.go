package humanoid

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestRealExecutor_Sleep(t *testing.T) {
	defer goleak.VerifyNone(t)
	exec := NewRealExecutor()

	start := time.Now()
	require.NoError(t, exec.Sleep(context.Background(), 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, exec.Sleep(ctx, time.Hour), context.Canceled)

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, exec.Sleep(ctx, time.Hour), context.DeadlineExceeded)

	assert.NoError(t, exec.Sleep(context.Background(), 0))
}

func TestVirtualExecutor(t *testing.T) {
	exec := NewVirtualExecutor(epoch)
	var hooked []time.Duration
	exec.OnSleep = func(d time.Duration) { hooked = append(hooked, d) }

	require.NoError(t, exec.Sleep(context.Background(), time.Second))
	require.NoError(t, exec.Sleep(context.Background(), 2*time.Second))
	exec.Advance(time.Minute)

	assert.Equal(t, epoch.Add(time.Minute+3*time.Second), exec.Now())
	assert.Equal(t, 3*time.Second, exec.TotalSlept())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, hooked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, exec.Sleep(ctx, time.Second), context.Canceled)
	assert.Len(t, exec.Sleeps(), 2, "cancelled sleeps are not recorded")
}
