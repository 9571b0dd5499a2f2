package shift_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/meal-token-engine/meal"
	"github.com/warp/meal-token-engine/shift"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func ate(at string, s meal.Shift) meal.Consumption {
	return meal.Consumption{Time: meal.MustParseTimeOfDay(at), Shift: s}
}

func today(cs ...meal.Consumption) shift.History { return shift.History{Today: cs} }

func last(at string, s meal.Shift) shift.History {
	c := ate(at, s)
	return shift.History{Last: &c}
}

// =============================================================================
// BANDS
// =============================================================================

func TestBandOf_Boundaries(t *testing.T) {
	cases := map[string]shift.Band{
		"00:00": shift.BandNight,
		"06:59": shift.BandNight,
		"07:00": shift.BandDay,
		"18:59": shift.BandDay,
		"19:00": shift.BandExtended,
		"22:14": shift.BandExtended,
		"22:15": shift.BandNight,
		"23:59": shift.BandNight,
	}
	for at, want := range cases {
		assert.Equal(t, want, shift.BandOf(meal.MustParseTimeOfDay(at)), at)
	}
}

// =============================================================================
// RULE TABLE
// =============================================================================

func TestClassify_RuleTable(t *testing.T) {
	tests := []struct {
		name     string
		at       string
		device   meal.DeviceShift
		history  shift.History
		want     meal.Shift
		rule     string
		required meal.DeviceShift
	}{
		{
			name:   "day band, day device, no history",
			at:     "12:30",
			device: meal.DeviceDay,
			want:   meal.ShiftDay,
			rule:   "day/day-device",
		},
		{
			name:    "day band, day device, after night meal this morning",
			at:      "08:00",
			device:  meal.DeviceDay,
			history: today(ate("03:00", meal.ShiftNight)),
			want:    meal.ShiftNightAndDay,
			rule:    "day/day-device/continuing-night",
		},
		{
			name:    "day band, day device, last meal was last night",
			at:      "07:30",
			device:  meal.DeviceDay,
			history: last("23:30", meal.ShiftNight),
			want:    meal.ShiftNightAndDay,
			rule:    "day/day-device/continuing-night",
		},
		{
			name:     "day band, night device, no history",
			at:       "12:30",
			device:   meal.DeviceNight,
			rule:     "day/night-device",
			required: meal.DeviceDay,
		},
		{
			name:    "day band, night device, continuing night",
			at:      "07:15",
			device:  meal.DeviceNight,
			history: today(ate("02:00", meal.ShiftNight)),
			want:    meal.ShiftNightAndDay,
			rule:    "day/night-device/continuing-night",
		},
		{
			name:    "extended band, day device, after day meal",
			at:      "20:00",
			device:  meal.DeviceDay,
			history: today(ate("12:30", meal.ShiftDay)),
			want:    meal.ShiftDayExtended,
			rule:    "extended/day-device/after-day",
		},
		{
			name:   "extended band, day device, no history",
			at:     "19:00",
			device: meal.DeviceDay,
			want:   meal.ShiftDayExtended,
			rule:   "extended/day-device",
		},
		{
			name:    "extended band, night device starts night early",
			at:      "21:00",
			device:  meal.DeviceNight,
			history: today(ate("12:30", meal.ShiftDay)),
			want:    meal.ShiftNight,
			rule:    "extended/night-device",
		},
		{
			name:    "night band, night device, after day meal",
			at:      "23:00",
			device:  meal.DeviceNight,
			history: today(ate("12:30", meal.ShiftDay)),
			want:    meal.ShiftDayAndNight,
			rule:    "night/night-device/crossing-from-day",
		},
		{
			name:    "night band, night device, after extended meal",
			at:      "23:00",
			device:  meal.DeviceNight,
			history: today(ate("20:00", meal.ShiftDayExtended)),
			want:    meal.ShiftDayAndNight,
			rule:    "night/night-device/crossing-from-day",
		},
		{
			name:   "night band, night device, no history",
			at:     "23:00",
			device: meal.DeviceNight,
			want:   meal.ShiftNight,
			rule:   "night/night-device",
		},
		{
			name:    "night band, day device, after day meal",
			at:      "22:30",
			device:  meal.DeviceDay,
			history: today(ate("12:30", meal.ShiftDay)),
			want:    meal.ShiftDayAndNight,
			rule:    "night/day-device/crossing-from-day",
		},
		{
			name:     "night band, day device, early morning with night history",
			at:       "05:00",
			device:   meal.DeviceDay,
			history:  today(ate("01:00", meal.ShiftNight)),
			rule:     "night/day-device/early-morning-night",
			required: meal.DeviceNight,
		},
		{
			name:     "night band, day device, no history",
			at:       "23:00",
			device:   meal.DeviceDay,
			rule:     "night/day-device",
			required: meal.DeviceNight,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := shift.Classify(meal.MustParseTimeOfDay(tt.at), tt.device, tt.history)

			assert.Equal(t, tt.rule, d.Rule)
			if tt.required != "" {
				var wrong *meal.WrongDeviceError
				require.ErrorAs(t, err, &wrong)
				assert.Equal(t, tt.required, wrong.Required)
				assert.ErrorIs(t, err, meal.ErrWrongDevice)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Shift)
		})
	}
}

func TestClassify_EveryRuleReachable(t *testing.T) {
	// GIVEN: The rule table
	// WHEN: Checking names
	// THEN: Names are unique so decisions can be traced to one row

	seen := make(map[string]bool)
	for _, r := range shift.Rules {
		assert.False(t, seen[r.Name], "duplicate rule %s", r.Name)
		seen[r.Name] = true
		assert.True(t, r.Shift != "" || r.Require != "", "rule %s yields nothing", r.Name)
	}
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestClassify_DayBandWithoutNightHistory(t *testing.T) {
	// GIVEN: No night history
	// WHEN: Requesting anywhere in the day band
	// THEN: Day device gives DayShift, Night device is rejected

	for m := shift.DayStart; m < shift.DayEnd; m += 17 {
		d, err := shift.Classify(m, meal.DeviceDay, shift.History{})
		require.NoError(t, err, m.String())
		assert.Equal(t, meal.ShiftDay, d.Shift, m.String())

		_, err = shift.Classify(m, meal.DeviceNight, shift.History{})
		assert.ErrorIs(t, err, meal.ErrWrongDevice, m.String())
	}
}

func TestClassify_DayMealThenExtendedOnDayDevice(t *testing.T) {
	// GIVEN: A DayShift meal at lunch
	// WHEN: Requesting in [19:00, 22:15) on a Day device
	// THEN: DayShiftExtended

	h := today(ate("12:00", meal.ShiftDay))
	for m := shift.DayEnd; m < shift.ExtendedDayEnd; m += 15 {
		d, err := shift.Classify(m, meal.DeviceDay, h)
		require.NoError(t, err)
		assert.Equal(t, meal.ShiftDayExtended, d.Shift, m.String())
	}
}

func TestClassify_DayMealThenNightOnNightDevice(t *testing.T) {
	// GIVEN: A DayShift or DayShiftExtended meal today
	// WHEN: Requesting in the night band on a Night device
	// THEN: DayAndNightShift, never plain NightShift

	for _, h := range []shift.History{
		today(ate("12:00", meal.ShiftDay)),
		today(ate("20:30", meal.ShiftDayExtended)),
	} {
		for _, at := range []string{"22:15", "23:30", "23:59"} {
			d, err := shift.Classify(meal.MustParseTimeOfDay(at), meal.DeviceNight, h)
			require.NoError(t, err)
			assert.Equal(t, meal.ShiftDayAndNight, d.Shift, at)
		}
	}
}

func TestClassify_UnknownDeviceFallsBack(t *testing.T) {
	d, err := shift.Classify(meal.Clock(12, 0), meal.DeviceShift("Lobby"), shift.History{})
	require.NoError(t, err)
	assert.Equal(t, meal.ShiftDay, d.Shift)
	assert.Equal(t, "fallback", d.Rule)

	d, err = shift.Classify(meal.Clock(2, 0), meal.DeviceShift("Lobby"), shift.History{})
	require.NoError(t, err)
	assert.Equal(t, meal.ShiftNight, d.Shift)
}

// =============================================================================
// HISTORY PREDICATES
// =============================================================================

func TestDerive_Predicates(t *testing.T) {
	f := shift.Derive(today(
		ate("02:00", meal.ShiftNight),
		ate("12:00", meal.ShiftDay),
		ate("20:00", meal.ShiftDayExtended),
	))
	assert.True(t, f.HadNightShiftMeal)
	assert.True(t, f.HadEarlyMorningNightMeal)
	assert.True(t, f.HadDayShiftMeal)
	assert.True(t, f.HadDayShiftExtendedMeal)
	assert.False(t, f.LastDayFamily)

	// Night-family tag inside the day band is not night history.
	f = shift.Derive(today(ate("08:00", meal.ShiftNightAndDay)))
	assert.False(t, f.HadNightShiftMeal)
	assert.False(t, f.HadDayShiftMeal)

	c := ate("23:00", meal.ShiftDayAndNight)
	f = shift.Derive(shift.History{Last: &c})
	assert.True(t, f.LastDayFamily)
	assert.True(t, f.LastNightFamily)
}
