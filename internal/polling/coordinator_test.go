package polling

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/medflow/internal/media"
)

// clocked returns a coordinator driven by a manual clock.
func clocked(cooldown time.Duration) (*Coordinator, *time.Time) {
	c := NewCoordinator(cooldown)
	current := time.Date(2025, 6, 5, 14, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }
	return c, &current
}

func TestNoEntryAllowsCheck(t *testing.T) {
	t.Parallel()

	c, _ := clocked(10 * time.Second)
	assert.True(t, c.CanCheckStatus("42", media.TypeVideo))
	assert.Equal(t, 0, c.RemainingCooldownSeconds("42", media.TypeVideo))
}

func TestCooldownAfterRecordedCheck(t *testing.T) {
	t.Parallel()

	c, now := clocked(10 * time.Second)
	c.RecordStatusCheck("42", media.TypeVideo)

	assert.False(t, c.CanCheckStatus("42", media.TypeVideo))
	remaining := c.RemainingCooldownSeconds("42", media.TypeVideo)
	assert.GreaterOrEqual(t, remaining, 1)
	assert.LessOrEqual(t, remaining, 10)

	// Strictly decreasing as time advances.
	*now = now.Add(3 * time.Second)
	later := c.RemainingCooldownSeconds("42", media.TypeVideo)
	assert.Less(t, later, remaining)

	*now = now.Add(8 * time.Second)
	assert.Equal(t, 0, c.RemainingCooldownSeconds("42", media.TypeVideo))
	assert.True(t, c.CanCheckStatus("42", media.TypeVideo))
}

func TestRemainingIsCeiled(t *testing.T) {
	t.Parallel()

	c, now := clocked(10 * time.Second)
	c.RecordStatusCheck("42", media.TypeDocument)

	// 9.2s remaining rounds up to 10.
	*now = now.Add(800 * time.Millisecond)
	assert.Equal(t, 10, c.RemainingCooldownSeconds("42", media.TypeDocument))

	// 200ms remaining clamps to the floor of 1.
	*now = now.Add(9 * time.Second)
	assert.Equal(t, 1, c.RemainingCooldownSeconds("42", media.TypeDocument))
}

func TestMediaTypesDoNotShareCooldowns(t *testing.T) {
	t.Parallel()

	c, _ := clocked(10 * time.Second)
	c.RecordStatusCheck("42", media.TypeVideo)

	assert.False(t, c.CanCheckStatus("42", media.TypeVideo))
	assert.True(t, c.CanCheckStatus("42", media.TypeDocument))
	assert.Equal(t, 0, c.RemainingCooldownSeconds("42", media.TypeDocument))
	assert.True(t, c.CanCheckStatus("43", media.TypeVideo))
}

func TestSweepDropsStaleEntries(t *testing.T) {
	t.Parallel()

	c, now := clocked(10 * time.Second)
	c.RecordStatusCheck("stale", media.TypeVideo)

	*now = now.Add(2 * time.Minute)
	c.RecordStatusCheck("fresh", media.TypeVideo)

	removed := c.Sweep()
	assert.Equal(t, 1, removed)

	// Fresh entry still enforces its cooldown.
	assert.False(t, c.CanCheckStatus("fresh", media.TypeVideo))
	assert.True(t, c.CanCheckStatus("stale", media.TypeVideo))
}

func TestDefaultCooldownApplied(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(0)
	require.Equal(t, DefaultCooldown, c.Cooldown())
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordStatusCheck("shared", media.TypeVideo)
			c.CanCheckStatus("shared", media.TypeVideo)
			c.RemainingCooldownSeconds("shared", media.TypeVideo)
			c.Sweep()
		}()
	}
	wg.Wait()
}
