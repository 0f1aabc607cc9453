package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimelineIsDeterministic(t *testing.T) {
	p := DefaultSafeZonePolicy
	assert.Equal(t, p.Timeline(10), p.Timeline(10))
	assert.Equal(t, p.Timeline(40), p.Timeline(40))
}

func TestTimelineScalesWithPlayerCount(t *testing.T) {
	small := DefaultSafeZonePolicy.Timeline(10)
	large := DefaultSafeZonePolicy.Timeline(40)

	require.Len(t, small, 4)
	require.Len(t, large, 5)
	assert.GreaterOrEqual(t, len(large), len(small))
	assert.Less(t, small[0].Radius, large[0].Radius)
	assert.Less(t, small[len(small)-1].DamagePerTick, large[len(large)-1].DamagePerTick)

	assert.Equal(t, 500.0, small[0].Radius)
	assert.Equal(t, 60.0, small[0].ShrinkSeconds)
	assert.Equal(t, 1.0, small[0].DamagePerTick)
	assert.InDelta(t, 300.0, small[1].Radius, 1e-9)
	assert.InDelta(t, 48.0, small[1].ShrinkSeconds, 1e-9)
	assert.InDelta(t, 1.5, small[1].DamagePerTick, 1e-9)
	assert.InDelta(t, 1000*0.6*0.6*0.6*0.6, large[4].Radius, 1e-9)
	assert.InDelta(t, 2.0*1.5*1.5*1.5*1.5, large[4].DamagePerTick, 1e-9)
}

func TestTimelineBoundaryAndMonotonicity(t *testing.T) {
	assert.Len(t, DefaultSafeZonePolicy.Timeline(20), 4)
	assert.Len(t, DefaultSafeZonePolicy.Timeline(21), 5)
	assert.Len(t, DefaultSafeZonePolicy.Timeline(1), 4)

	for _, players := range []int{1, 20, 21, 100} {
		stages := DefaultSafeZonePolicy.Timeline(players)
		for i := 1; i < len(stages); i++ {
			assert.LessOrEqual(t, stages[i].Radius, stages[i-1].Radius)
			assert.GreaterOrEqual(t, stages[i].DamagePerTick, stages[i-1].DamagePerTick)
			assert.Positive(t, stages[i].ShrinkSeconds)
		}
	}
}

func TestSafeZonePolicyValidate(t *testing.T) {
	require.NoError(t, DefaultSafeZonePolicy.Validate())

	cases := map[string]func(*SafeZonePolicy){
		"zero radius":      func(p *SafeZonePolicy) { p.Small.Radius = 0 },
		"no stages":        func(p *SafeZonePolicy) { p.Large.Stages = 0 },
		"growing radius":   func(p *SafeZonePolicy) { p.RadiusFactor = 1.1 },
		"zero duration":    func(p *SafeZonePolicy) { p.DurationFactor = 0 },
		"shrinking damage": func(p *SafeZonePolicy) { p.DamageFactor = 0.9 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := DefaultSafeZonePolicy
			mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}
