package backoff

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponential(t *testing.T) {
	assert.Equal(t, 10*time.Millisecond, Exponential(10*time.Millisecond, 0))
	assert.Equal(t, 40*time.Millisecond, Exponential(10*time.Millisecond, 2))
	assert.Equal(t, 10*time.Millisecond, Exponential(10*time.Millisecond, -3))
	assert.Equal(t, time.Duration(0), Exponential(0, 4))
	assert.Equal(t, time.Duration(math.MaxInt64), Exponential(time.Hour, 200))
}

func TestPolicyDelayIncreasesAndCaps(t *testing.T) {
	p := Policy{Base: 50 * time.Millisecond, Max: 150 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, p.Delay(1))
	assert.Equal(t, 100*time.Millisecond, p.Delay(2))
	assert.Equal(t, 150*time.Millisecond, p.Delay(3))
	assert.Equal(t, 150*time.Millisecond, p.Delay(9))
}

func TestFullJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := FullJitter(time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), FullJitter(-time.Second))
}

func TestPolicyDelaySaturatedWithJitter(t *testing.T) {
	p := Policy{Base: time.Hour, Jitter: true}
	require.NotPanics(t, func() {
		d := p.Delay(200)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	})
	assert.GreaterOrEqual(t, FullJitter(time.Duration(math.MaxInt64)), time.Duration(0))
}

func TestSleepWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepWithContext(ctx, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	require.NoError(t, SleepWithContext(context.Background(), time.Millisecond))
}
