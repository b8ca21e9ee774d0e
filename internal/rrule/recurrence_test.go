package rrule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBetweenDaily(t *testing.T) {
	rec, err := New(Rule{Freq: Daily, Dtstart: date(2025, 4, 15), AllowInfinite: true})
	require.NoError(t, err)

	got := rec.Between(date(2025, 4, 15), date(2025, 4, 18), true)
	assert.Equal(t, []time.Time{
		date(2025, 4, 15), date(2025, 4, 16), date(2025, 4, 17), date(2025, 4, 18),
	}, got)

	got = rec.Between(date(2025, 4, 15), date(2025, 4, 18), false)
	assert.Equal(t, []time.Time{date(2025, 4, 16), date(2025, 4, 17), date(2025, 4, 18)}, got)
}

func TestBetweenInterval(t *testing.T) {
	rec, err := New(Rule{Freq: Daily, Dtstart: date(2025, 4, 15), Interval: 2, AllowInfinite: true})
	require.NoError(t, err)

	got := rec.Between(date(2025, 4, 15), date(2025, 4, 20), true)
	assert.Equal(t, []time.Time{date(2025, 4, 15), date(2025, 4, 17), date(2025, 4, 19)}, got)
}

func TestBetweenWeekdays(t *testing.T) {
	rec, err := New(Rule{
		Freq:          Weekly,
		Dtstart:       date(2025, 4, 14),
		ByWeekday:     []Weekday{Monday, Wednesday, Friday},
		AllowInfinite: true,
	})
	require.NoError(t, err)

	got := rec.Between(date(2025, 4, 14), date(2025, 4, 21), true)
	assert.Equal(t, []time.Time{
		date(2025, 4, 14), date(2025, 4, 16), date(2025, 4, 18), date(2025, 4, 21),
	}, got)
}

func TestBetweenBiweeklyWeekdays(t *testing.T) {
	rec, err := New(Rule{
		Freq:          Weekly,
		Interval:      2,
		Dtstart:       date(2025, 4, 14),
		ByWeekday:     []Weekday{Monday, Thursday},
		AllowInfinite: true,
	})
	require.NoError(t, err)

	got := rec.Between(date(2025, 4, 14), date(2025, 5, 1), true)
	assert.Equal(t, []time.Time{
		date(2025, 4, 14), date(2025, 4, 17), date(2025, 4, 28), date(2025, 5, 1),
	}, got)
}

func TestBetweenMonthDays(t *testing.T) {
	rec, err := New(Rule{
		Freq:       Monthly,
		Dtstart:    date(2025, 1, 1),
		ByMonthDay: []int{1, -1},
		Count:      intPtr(4),
	})
	require.NoError(t, err)

	got := rec.Between(date(2025, 1, 1), date(2025, 12, 31), true)
	assert.Equal(t, []time.Time{
		date(2025, 1, 1), date(2025, 1, 31), date(2025, 2, 1), date(2025, 2, 28),
	}, got)
}

func TestBetweenEmptyWindow(t *testing.T) {
	rec, err := New(Rule{Freq: Daily, Dtstart: date(2025, 4, 15), AllowInfinite: true})
	require.NoError(t, err)

	assert.Empty(t, rec.Between(date(2025, 4, 20), date(2025, 4, 18), true))
	assert.Empty(t, rec.Between(date(2025, 1, 1), date(2025, 4, 14), true))
}

func TestBetweenSortedUnique(t *testing.T) {
	rules := []Rule{
		{Freq: Daily, Dtstart: date(2025, 1, 1), Interval: 3, AllowInfinite: true},
		{Freq: Weekly, Dtstart: date(2025, 1, 1), ByWeekday: []Weekday{Sunday, Monday, Saturday}, AllowInfinite: true},
		{Freq: Monthly, Dtstart: date(2025, 1, 1), ByMonthDay: []int{1, 15, 28, -1}, AllowInfinite: true},
		{Freq: Yearly, Dtstart: date(2020, 2, 29), AllowInfinite: true},
	}
	for _, r := range rules {
		rec, err := New(r)
		require.NoError(t, err)

		got := rec.Between(date(2025, 1, 1), date(2027, 1, 1), true)
		for i := 1; i < len(got); i++ {
			assert.True(t, got[i].After(got[i-1]), "%s: %v !> %v", r.String(), got[i], got[i-1])
		}
	}
}

func TestAfter(t *testing.T) {
	rec, err := New(Rule{Freq: Daily, Dtstart: date(2025, 4, 15), Count: intPtr(3)})
	require.NoError(t, err)

	next := rec.After(date(2025, 4, 15), false)
	require.NotNil(t, next)
	assert.Equal(t, date(2025, 4, 16), *next)

	next = rec.After(date(2025, 4, 15), true)
	require.NotNil(t, next)
	assert.Equal(t, date(2025, 4, 15), *next)

	assert.Nil(t, rec.After(date(2025, 4, 17), false))
}

func TestTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	rec, err := New(Rule{
		Freq:          Daily,
		Dtstart:       time.Date(2025, 3, 8, 9, 0, 0, 0, loc),
		Timezone:      "America/New_York",
		AllowInfinite: true,
	})
	require.NoError(t, err)

	got := rec.Between(time.Date(2025, 3, 8, 0, 0, 0, 0, loc), time.Date(2025, 3, 10, 23, 0, 0, 0, loc), true)
	require.Len(t, got, 3)
	for _, occ := range got {
		assert.Equal(t, 9, occ.In(loc).Hour())
	}
	assert.Equal(t, 23*time.Hour, got[1].Sub(got[0]))
}

func TestUpcoming(t *testing.T) {
	rec, err := New(Rule{Freq: Daily, Dtstart: date(2025, 4, 15), Count: intPtr(5)})
	require.NoError(t, err)

	assert.Equal(t, []time.Time{date(2025, 4, 17), date(2025, 4, 18)}, rec.Upcoming(date(2025, 4, 16), 2, false))
	assert.Len(t, rec.Upcoming(date(2025, 4, 16), 10, false), 3)

	assert.Equal(t, []time.Time{date(2025, 4, 15), date(2025, 4, 16)}, rec.Upcoming(date(2025, 4, 15), 2, true))
	assert.Len(t, rec.Upcoming(date(2025, 4, 15), 10, true), 5)
}

func TestSubSecondStart(t *testing.T) {
	start := time.Date(2025, 4, 15, 9, 0, 0, 123456000, time.UTC)
	rec, err := New(Rule{Freq: Daily, Dtstart: start, Count: intPtr(3)})
	require.NoError(t, err)

	first := time.Date(2025, 4, 15, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, first, rec.Rule().Dtstart)

	next := rec.After(rec.Rule().Dtstart, true)
	require.NotNil(t, next)
	assert.Equal(t, first, *next)
	assert.Len(t, rec.Between(rec.Rule().Dtstart, date(2025, 5, 1), true), 3)
}
