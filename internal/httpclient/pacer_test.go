package httpclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacerDrawsWithinBounds(t *testing.T) {
	t.Parallel()

	for i := 0; i < 200; i++ {
		d := uniformDuration(2*time.Second, 5*time.Second)
		require.GreaterOrEqual(t, d, 2*time.Second)
		require.LessOrEqual(t, d, 5*time.Second)
	}
	assert.Equal(t, time.Second, uniformDuration(time.Second, time.Second))
}

func TestPacerSerializesDelay(t *testing.T) {
	t.Parallel()

	p := NewPacer(PacerConfig{MinDelay: 20 * time.Millisecond, MaxDelay: 20 * time.Millisecond})
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Wait(context.Background()))
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestPacerCancellation(t *testing.T) {
	t.Parallel()

	p := NewPacer(PacerConfig{MinDelay: time.Hour, MaxDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)
}

func TestPacerRateLimit(t *testing.T) {
	t.Parallel()

	p := NewPacer(PacerConfig{RequestsPerSecond: 20, Burst: 1})
	ctx := context.Background()
	require.NoError(t, p.Wait(ctx))
	start := time.Now()
	require.NoError(t, p.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestNilPacer(t *testing.T) {
	t.Parallel()

	var p *Pacer
	require.NoError(t, p.Wait(context.Background()))
}
