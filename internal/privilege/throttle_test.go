package privilege

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chartgate/chartgate/internal/clock"
)

func TestThrottle_Allow(t *testing.T) {
	t.Run("allows the burst then blocks", func(t *testing.T) {
		clk := clock.NewManual(testNow)
		th := NewThrottle(0.2, 3, WithThrottleClock(clk))

		for i := 0; i < 3; i++ {
			assert.True(t, th.Allow("1.2.3.4"), "attempt %d should be allowed", i+1)
		}
		assert.False(t, th.Allow("1.2.3.4"))
	})

	t.Run("refills over time", func(t *testing.T) {
		clk := clock.NewManual(testNow)
		th := NewThrottle(0.2, 1, WithThrottleClock(clk))

		assert.True(t, th.Allow("1.2.3.4"))
		assert.False(t, th.Allow("1.2.3.4"))

		clk.Advance(5 * time.Second)
		assert.True(t, th.Allow("1.2.3.4"))
	})

	t.Run("keys are independent", func(t *testing.T) {
		clk := clock.NewManual(testNow)
		th := NewThrottle(0.2, 1, WithThrottleClock(clk))

		assert.True(t, th.Allow("a"))
		assert.True(t, th.Allow("b"))
		assert.False(t, th.Allow("a"))
	})

	t.Run("non-positive rate disables throttling", func(t *testing.T) {
		th := NewThrottle(0, 0)

		for i := 0; i < 100; i++ {
			assert.True(t, th.Allow("a"))
		}
	})
}

func TestThrottle_Cleanup(t *testing.T) {
	clk := clock.NewManual(testNow)
	th := NewThrottle(1, 1, WithThrottleClock(clk), WithIdleTTL(time.Minute))

	th.Allow("old")
	clk.Advance(2 * time.Minute)
	th.Allow("fresh")

	th.Cleanup()

	assert.Equal(t, 1, th.size())
}

func TestThrottle_StartJanitor(t *testing.T) {
	clk := clock.NewManual(testNow)
	th := NewThrottle(1, 1, WithThrottleClock(clk), WithIdleTTL(time.Minute))

	th.Allow("old")
	clk.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	th.StartJanitor(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return th.size() == 0 }, time.Second, 10*time.Millisecond)
}
