package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulationSteps(t *testing.T) {
	day := time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC)

	steps := simulationSteps(day, 40*time.Minute, 18)
	require.Len(t, steps, 28)
	assert.Equal(t, day, steps[0])
	assert.Equal(t, time.Date(2025, 7, 31, 18, 0, 0, 0, time.UTC), steps[len(steps)-1])

	steps = simulationSteps(day, 7*time.Hour, 18)
	assert.Equal(t, []time.Time{day, day.Add(7 * time.Hour), day.Add(14 * time.Hour)}, steps)

	assert.Empty(t, simulationSteps(day, 0, 18))
}

func TestDayBounds(t *testing.T) {
	start, end, err := dayBounds(time.UTC, "2025-07-31")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), end)

	_, _, err = dayBounds(time.UTC, "31/07/2025")
	require.Error(t, err)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "once", "simulate", "config", "journal", "data", "version"} {
		assert.True(t, names[want], want)
	}
}
