package suncalc

import "time"

// Madrid coordinates, matching the observation fixtures used across
// the service tests.
const (
	testLatitude  = 40.4168
	testLongitude = -3.7038
)

// midsummerNoon returns June 21, 2024 12:00 UTC, comfortably inside
// daylight at the test coordinates.
func midsummerNoon() time.Time {
	return time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC)
}
