package suncalc

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// FuzzPeriodAt exercises arbitrary coordinates and instants. The
// classifier may refuse polar dates but must never panic, and a
// successful classification must be one of the four periods.
func FuzzPeriodAt(f *testing.F) {
	f.Add(testLatitude, testLongitude, int64(1718971200)) // Madrid, midsummer noon
	f.Add(-6.7924, 39.2083, int64(1718971200))            // Dar es Salaam
	f.Add(71.0, 25.0, int64(1718971200))                  // Arctic midnight sun
	f.Add(-71.0, 0.0, int64(1718971200))                  // Antarctic polar night
	f.Add(0.0, 0.0, int64(0))                             // Null Island, epoch
	f.Add(90.0, 0.0, int64(1718971200))                   // North Pole
	f.Add(91.0, 181.0, int64(1718971200))                 // Out of range

	f.Fuzz(func(t *testing.T, lat, lon float64, unixSec int64) {
		if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
			return
		}
		if unixSec < -62135596800 || unixSec > 253402300799 {
			return
		}

		c := New()
		period, err := c.PeriodAt(lat, lon, time.Unix(unixSec, 0).UTC())
		if err != nil {
			return
		}
		require.Contains(t, []Period{PeriodDawn, PeriodDay, PeriodDusk, PeriodNight}, period)
	})
}
