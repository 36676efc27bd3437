package synthetic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurallap/companion/internal/source"
	"github.com/neurallap/companion/internal/timeutil"
)

// cycleStart is a whole multiple of the cue period.
var cycleStart = time.Unix(1_500_000_000, 0)

func TestAt_Deterministic(t *testing.T) {
	ts := cycleStart.Add(1234 * time.Millisecond)
	assert.Equal(t, At(ts), At(ts))
}

func TestAt_Bounded(t *testing.T) {
	for i := 0; i < 3000; i++ {
		r := At(cycleStart.Add(time.Duration(i) * 37 * time.Millisecond))

		assert.GreaterOrEqual(t, r.Speed, 0.0)
		assert.LessOrEqual(t, r.Speed, 60.0)
		assert.InDelta(t, 5000, r.RPM, 3000)
		assert.GreaterOrEqual(t, r.Gear, 1)
		assert.LessOrEqual(t, r.Gear, 7)
		assert.GreaterOrEqual(t, r.Throttle, 0.0)
		assert.LessOrEqual(t, r.Throttle, 1.0)
		assert.GreaterOrEqual(t, r.Brake, 0.0)
		assert.LessOrEqual(t, r.Brake, 1.0)
		assert.GreaterOrEqual(t, r.LapDistPct, 0.0)
		assert.Less(t, r.LapDistPct, 1.0)
		assert.Greater(t, r.FuelLevel, 0.0)
	}
}

func TestAt_CueCycle(t *testing.T) {
	at := func(sec float64) *source.Cues {
		r := At(cycleStart.Add(time.Duration(sec * float64(time.Second))))
		require.NotNil(t, r.Cues)
		return r.Cues
	}

	c := at(1)
	assert.False(t, c.SpotterLeft || c.SpotterRight || c.BrakeActive || c.ApexActive || c.GhostActive)

	assert.True(t, at(3).SpotterLeft)

	c = at(6.5)
	assert.True(t, c.BrakeActive)
	assert.InDelta(t, 75, c.BrakeDistance, 1e-3)
	assert.InDelta(t, 0.5, c.BrakeUrgency, 1e-3)

	c = at(9)
	assert.True(t, c.SpotterRight)
	assert.True(t, c.ApexActive)
	assert.Equal(t, "right", c.ApexDirection)

	c = at(12)
	assert.True(t, c.GhostActive)
	assert.InDelta(t, 7, c.GhostDistance, 1e-3)
}

func TestAt_SpotterCarAlongside(t *testing.T) {
	r := At(cycleStart.Add(3 * time.Second))
	require.Len(t, r.Vehicles, 1)
	assert.Equal(t, -3.0, r.Vehicles[0].Position.X)
}

func TestGenerator_UsesClock(t *testing.T) {
	clock := timeutil.NewMockClock(cycleStart.Add(6500 * time.Millisecond))
	g := New(clock)

	assert.Equal(t, source.KindSynthetic, g.Kind())
	assert.True(t, g.Probe())

	r, err := g.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, At(clock.Now()), r)
	assert.NoError(t, g.Close())
}
