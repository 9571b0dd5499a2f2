/*
Package shift infers the work shift a meal token request belongs to.

PURPOSE:
  Each location runs a Day kiosk and a Night kiosk. The classifier turns
  (request time, kiosk shift, consumption history) into one of five shift
  labels for costing, and rejects requests made on the wrong kiosk while
  still letting overtime and crossover patterns through.

TIME BANDS:
  Day       [07:00, 19:00)
  Extended  [19:00, 22:15)
  Night     [22:15, 24:00) and [00:00, 07:00)

HISTORY:
  Today: the person's consumptions on the request date
  Last:  the person's most recent consumption in the trailing 13 hours

RULE TABLE:
  The decision is a flat list of rules (band x device x history predicate
  -> shift or reject). The first matching rule wins. Every branch is a row
  in Rules and can be tested on its own.

SEE ALSO:
  - issuance/issuer.go: Loads history and freezes the result into the record
  - meal/errors.go: WrongDeviceError
*/
package shift

import (
	"time"

	"github.com/warp/meal-token-engine/meal"
)

var (
	DayStart       = meal.Clock(7, 0)
	DayEnd         = meal.Clock(19, 0)
	ExtendedDayEnd = meal.Clock(22, 15)
)

// LookBack is how far History.Last may reach behind the request.
const LookBack = 13 * time.Hour

// =============================================================================
// BANDS
// =============================================================================

type Band int

const (
	BandDay Band = iota
	BandExtended
	BandNight
)

func (b Band) String() string {
	switch b {
	case BandDay:
		return "day"
	case BandExtended:
		return "extended"
	}
	return "night"
}

// BandOf returns the band containing t. The bands partition the day.
func BandOf(t meal.TimeOfDay) Band {
	switch {
	case t >= DayStart && t < DayEnd:
		return BandDay
	case t >= DayEnd && t < ExtendedDayEnd:
		return BandExtended
	}
	return BandNight
}

// =============================================================================
// HISTORY PREDICATES
// =============================================================================

type History struct {
	Today []meal.Consumption
	Last  *meal.Consumption
}

// Facts are the history predicates the rules are written against.
type Facts struct {
	HadDayShiftMeal          bool // day band meal, day family
	HadNightShiftMeal        bool // meal outside the day band, night family
	HadEarlyMorningNightMeal bool // meal before 07:00, night family
	HadDayShiftExtendedMeal  bool // extended band meal, DayShiftExtended or DayAndNightShift
	LastDayFamily            bool
	LastNightFamily          bool
}

func Derive(h History) Facts {
	var f Facts
	for _, c := range h.Today {
		band := BandOf(c.Time)
		switch {
		case band == BandDay && c.Shift.IsDayFamily():
			f.HadDayShiftMeal = true
		case band != BandDay && c.Shift.IsNightFamily():
			f.HadNightShiftMeal = true
			if c.Time < DayStart {
				f.HadEarlyMorningNightMeal = true
			}
		}
		if band == BandExtended && (c.Shift == meal.ShiftDayExtended || c.Shift == meal.ShiftDayAndNight) {
			f.HadDayShiftExtendedMeal = true
		}
	}
	if h.Last != nil {
		f.LastDayFamily = h.Last.Shift.IsDayFamily()
		f.LastNightFamily = h.Last.Shift.IsNightFamily()
	}
	return f
}

func (f Facts) nightHistory() bool { return f.HadNightShiftMeal || f.LastNightFamily }

func (f Facts) dayHistory() bool {
	return f.HadDayShiftMeal || f.HadDayShiftExtendedMeal || f.LastDayFamily
}

// =============================================================================
// RULES
// =============================================================================

// Rule yields Shift, or rejects with Require when Require is set.
// A nil When always matches.
type Rule struct {
	Name    string
	Band    Band
	Device  meal.DeviceShift
	When    func(Facts) bool
	Shift   meal.Shift
	Require meal.DeviceShift
}

func (r Rule) matches(b Band, d meal.DeviceShift, f Facts) bool {
	return r.Band == b && r.Device == d && (r.When == nil || r.When(f))
}

func earlyMorningNight(f Facts) bool { return f.HadEarlyMorningNightMeal }

// Rules is evaluated top to bottom, bands in order day, extended, night.
var Rules = []Rule{
	{Name: "day/day-device/continuing-night", Band: BandDay, Device: meal.DeviceDay, When: Facts.nightHistory, Shift: meal.ShiftNightAndDay},
	{Name: "day/day-device", Band: BandDay, Device: meal.DeviceDay, Shift: meal.ShiftDay},
	{Name: "day/night-device/continuing-night", Band: BandDay, Device: meal.DeviceNight, When: Facts.nightHistory, Shift: meal.ShiftNightAndDay},
	{Name: "day/night-device", Band: BandDay, Device: meal.DeviceNight, Require: meal.DeviceDay},

	{Name: "extended/day-device/after-day", Band: BandExtended, Device: meal.DeviceDay, When: Facts.dayHistory, Shift: meal.ShiftDayExtended},
	{Name: "extended/day-device", Band: BandExtended, Device: meal.DeviceDay, Shift: meal.ShiftDayExtended},
	{Name: "extended/night-device", Band: BandExtended, Device: meal.DeviceNight, Shift: meal.ShiftNight},

	// Night band device columns are transposed from the decision table as
	// written: the Night kiosk issues and the Day kiosk is sent to NIGHT.
	{Name: "night/night-device/crossing-from-day", Band: BandNight, Device: meal.DeviceNight, When: Facts.dayHistory, Shift: meal.ShiftDayAndNight},
	{Name: "night/night-device", Band: BandNight, Device: meal.DeviceNight, Shift: meal.ShiftNight},
	{Name: "night/day-device/crossing-from-day", Band: BandNight, Device: meal.DeviceDay, When: Facts.dayHistory, Shift: meal.ShiftDayAndNight},
	{Name: "night/day-device/early-morning-night", Band: BandNight, Device: meal.DeviceDay, When: earlyMorningNight, Require: meal.DeviceNight},
	{Name: "night/day-device", Band: BandNight, Device: meal.DeviceDay, Require: meal.DeviceNight},
}

// =============================================================================
// CLASSIFY
// =============================================================================

// Decision is the outcome of Classify, with the rule that produced it.
type Decision struct {
	Shift meal.Shift
	Rule  string
	Band  Band
	Facts Facts
}

// Classify runs the rule table. It is pure: history is passed in and
// nothing is written. An unknown device shift takes the fallback.
func Classify(t meal.TimeOfDay, device meal.DeviceShift, h History) (Decision, error) {
	band := BandOf(t)
	facts := Derive(h)
	for _, r := range Rules {
		if !r.matches(band, device, facts) {
			continue
		}
		d := Decision{Shift: r.Shift, Rule: r.Name, Band: band, Facts: facts}
		if r.Require != "" {
			return d, &meal.WrongDeviceError{Used: device, Required: r.Require}
		}
		return d, nil
	}
	return Decision{Shift: fallback(band), Rule: "fallback", Band: band, Facts: facts}, nil
}

func fallback(b Band) meal.Shift {
	if b == BandDay {
		return meal.ShiftDay
	}
	return meal.ShiftNight
}
