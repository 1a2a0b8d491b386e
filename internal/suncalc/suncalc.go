// Package suncalc computes solar event times and classifies instants
// into solar periods. Mosquito activity is strongly crepuscular, so
// observations are enriched with the period they fall in.
package suncalc

import (
	"fmt"
	"sync"
	"time"

	"github.com/sj14/astral/pkg/astral"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

// Period classifies an instant relative to the local solar day.
type Period string

const (
	PeriodDawn  Period = "dawn"  // civil dawn up to sunrise
	PeriodDay   Period = "day"   // sunrise up to sunset
	PeriodDusk  Period = "dusk"  // sunset up to civil dusk
	PeriodNight Period = "night" // civil dusk to next civil dawn
)

// MetadataKey is the observation metadata entry enrichment writes.
const MetadataKey = "solar_period"

// SunEventTimes holds the solar event instants for one date, in UTC.
type SunEventTimes struct {
	CivilDawn time.Time
	Sunrise   time.Time
	Sunset    time.Time
	CivilDusk time.Time
}

// Calculator computes and caches solar event times. Observations carry
// their own coordinates, so the observer is a call argument and the
// cache is keyed by coordinate and date.
type Calculator struct {
	mu    sync.RWMutex
	cache map[string]SunEventTimes
}

// New creates an empty Calculator.
func New() *Calculator {
	return &Calculator{cache: make(map[string]SunEventTimes)}
}

// cacheKey rounds coordinates to roughly 100 m; solar event times do
// not move measurably within that distance.
func cacheKey(lat, lon float64, t time.Time) string {
	return fmt.Sprintf("%.3f|%.3f|%s", lat, lon, t.UTC().Format("2006-01-02"))
}

// EventTimes returns the solar event times at the given coordinates for
// the UTC date of t, using the cache when the date was seen before.
func (c *Calculator) EventTimes(lat, lon float64, t time.Time) (SunEventTimes, error) {
	key := cacheKey(lat, lon, t)

	c.mu.RLock()
	times, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return times, nil
	}

	times, err := calculate(lat, lon, t.UTC())
	if err != nil {
		return SunEventTimes{}, err
	}

	c.mu.Lock()
	c.cache[key] = times
	c.mu.Unlock()
	return times, nil
}

// PeriodAt classifies the instant t at the given coordinates. Polar
// dates where a civil dawn or dusk never occurs return an error; the
// caller skips enrichment rather than guessing.
func (c *Calculator) PeriodAt(lat, lon float64, t time.Time) (Period, error) {
	times, err := c.EventTimes(lat, lon, t)
	if err != nil {
		return "", err
	}

	u := t.UTC()
	switch {
	case u.Before(times.CivilDawn):
		return PeriodNight, nil
	case u.Before(times.Sunrise):
		return PeriodDawn, nil
	case u.Before(times.Sunset):
		return PeriodDay, nil
	case u.Before(times.CivilDusk):
		return PeriodDusk, nil
	default:
		return PeriodNight, nil
	}
}

func calculate(lat, lon float64, date time.Time) (SunEventTimes, error) {
	observer := astral.Observer{Latitude: lat, Longitude: lon}

	civilDawn, err := astral.Dawn(observer, date, astral.DepressionCivil)
	if err != nil {
		return SunEventTimes{}, solarError(err, "civil_dawn", lat, lon, date)
	}
	sunrise, err := astral.Sunrise(observer, date)
	if err != nil {
		return SunEventTimes{}, solarError(err, "sunrise", lat, lon, date)
	}
	sunset, err := astral.Sunset(observer, date)
	if err != nil {
		return SunEventTimes{}, solarError(err, "sunset", lat, lon, date)
	}
	civilDusk, err := astral.Dusk(observer, date, astral.DepressionCivil)
	if err != nil {
		return SunEventTimes{}, solarError(err, "civil_dusk", lat, lon, date)
	}

	return SunEventTimes{
		CivilDawn: civilDawn.UTC(),
		Sunrise:   sunrise.UTC(),
		Sunset:    sunset.UTC(),
		CivilDusk: civilDusk.UTC(),
	}, nil
}

func solarError(err error, event string, lat, lon float64, date time.Time) error {
	return errors.New(err).
		Component("suncalc").
		Category(errors.CategoryProcessing).
		Context("event", event).
		Context("latitude", lat).
		Context("longitude", lon).
		Context("date", date.Format("2006-01-02")).
		Build()
}
