package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPlanner_DelayDoublesUpToCeiling(t *testing.T) {
	p := NewPlanner(PlannerConfig{Base: 30 * time.Second, Ceiling: 10 * time.Minute})

	require.Equal(t, 30*time.Second, p.Delay(1))
	require.Equal(t, 1*time.Minute, p.Delay(2))
	require.Equal(t, 2*time.Minute, p.Delay(3))
	require.Equal(t, 4*time.Minute, p.Delay(4))
	require.Equal(t, 8*time.Minute, p.Delay(5))
	require.Equal(t, 10*time.Minute, p.Delay(6))
	require.Equal(t, 10*time.Minute, p.Delay(20))
}

func TestPlanner_DefaultsWhenZero(t *testing.T) {
	p := NewPlanner(PlannerConfig{})
	def := DefaultPlannerConfig()
	require.Equal(t, def.Base, p.Delay(1))
}

func TestPlanner_CeilingNeverBelowBase(t *testing.T) {
	p := NewPlanner(PlannerConfig{Base: time.Minute, Ceiling: time.Second})
	require.Equal(t, time.Minute, p.Delay(1))
	require.Equal(t, time.Minute, p.Delay(5))
}
