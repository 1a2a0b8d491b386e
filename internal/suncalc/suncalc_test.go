package suncalc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTimes(t *testing.T) {
	t.Parallel()
	c := New()

	times, err := c.EventTimes(testLatitude, testLongitude, midsummerNoon())
	require.NoError(t, err)

	require.False(t, times.CivilDawn.IsZero())
	require.False(t, times.Sunrise.IsZero())
	require.False(t, times.Sunset.IsZero())
	require.False(t, times.CivilDusk.IsZero())

	// The solar day is ordered: dawn, sunrise, sunset, dusk.
	assert.True(t, times.CivilDawn.Before(times.Sunrise))
	assert.True(t, times.Sunrise.Before(times.Sunset))
	assert.True(t, times.Sunset.Before(times.CivilDusk))
}

func TestEventTimes_Cached(t *testing.T) {
	t.Parallel()
	c := New()

	first, err := c.EventTimes(testLatitude, testLongitude, midsummerNoon())
	require.NoError(t, err)

	// A different instant on the same date must hit the same entry.
	later := midsummerNoon().Add(9 * time.Hour)
	second, err := c.EventTimes(testLatitude, testLongitude, later)
	require.NoError(t, err)

	assert.True(t, first.Sunrise.Equal(second.Sunrise))
	assert.True(t, first.Sunset.Equal(second.Sunset))

	c.mu.RLock()
	entries := len(c.cache)
	c.mu.RUnlock()
	assert.Equal(t, 1, entries, "same coordinate and date should share one cache entry")
}

func TestEventTimes_DistinctCoordinates(t *testing.T) {
	t.Parallel()
	c := New()

	madrid, err := c.EventTimes(testLatitude, testLongitude, midsummerNoon())
	require.NoError(t, err)

	// Dar es Salaam, a malaria surveillance site well east of Madrid.
	dar, err := c.EventTimes(-6.7924, 39.2083, midsummerNoon())
	require.NoError(t, err)

	assert.False(t, madrid.Sunrise.Equal(dar.Sunrise),
		"sites 40 degrees of longitude apart cannot share a sunrise")
}

func TestPeriodAt(t *testing.T) {
	t.Parallel()
	c := New()

	times, err := c.EventTimes(testLatitude, testLongitude, midsummerNoon())
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		want Period
	}{
		{"midnight", time.Date(2024, 6, 21, 0, 30, 0, 0, time.UTC), PeriodNight},
		{"before_civil_dawn", times.CivilDawn.Add(-time.Minute), PeriodNight},
		{"after_civil_dawn", times.CivilDawn.Add(time.Minute), PeriodDawn},
		{"midday", midsummerNoon(), PeriodDay},
		{"after_sunset", times.Sunset.Add(time.Minute), PeriodDusk},
		{"after_civil_dusk", times.CivilDusk.Add(time.Minute), PeriodNight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := c.PeriodAt(testLatitude, testLongitude, tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPeriodAt_PolarMidsummer(t *testing.T) {
	t.Parallel()
	c := New()

	// Longyearbyen in June has no civil dusk; classification must
	// refuse rather than guess.
	_, err := c.PeriodAt(78.2232, 15.6267, midsummerNoon())
	require.Error(t, err)
}
