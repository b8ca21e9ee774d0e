package repository

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hray3182/followup/internal/rrule"
	"github.com/hray3182/followup/internal/schedule"
)

type fakeRow struct {
	values []any
}

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		case **int:
			if v != nil {
				n := v.(int)
				*d = &n
			}
		case **time.Time:
			if v != nil {
				t := v.(time.Time)
				*d = &t
			}
		case *[]string:
			*d = v.([]string)
		case *[]int32:
			*d = v.([]int32)
		case *map[string]any:
			if v != nil {
				*d = v.(map[string]any)
			}
		default:
			return fmt.Errorf("scan: unsupported destination %T", dest[i])
		}
	}
	return nil
}

func TestScanGenerator(t *testing.T) {
	created := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	dtstart := time.Date(2025, 4, 14, 9, 0, 0, 0, time.UTC)
	next := time.Date(2025, 4, 16, 9, 0, 0, 0, time.UTC)

	row := fakeRow{values: []any{
		"g1", "owner", "hook", "water", "drink", created,
		"m1", "drink water", "d1", map[string]any{"cups": 2.0},
		"WEEKLY", dtstart, "Asia/Taipei", 1, 10, nil, []string{"MO", "WE"}, []int32{},
		false, nil, next, 9, false, "all",
	}}

	g, err := scanGenerator(row)
	require.NoError(t, err)

	assert.Equal(t, "g1", g.ID)
	assert.Equal(t, "owner", g.OwnerID)
	assert.Equal(t, "hook", g.HookID)
	assert.Equal(t, "drink water", g.Message.Body)
	assert.Equal(t, 2.0, g.Data.Payload["cups"])
	assert.Equal(t, rrule.Weekly, g.Rule.Freq)
	assert.Equal(t, dtstart, g.Rule.Dtstart)
	assert.Equal(t, []rrule.Weekday{rrule.Monday, rrule.Wednesday}, g.Rule.ByWeekday)
	assert.Empty(t, g.Rule.ByMonthDay)
	require.NotNil(t, g.Rule.Count)
	assert.Equal(t, 10, *g.Rule.Count)
	assert.Nil(t, g.Rule.Until)
	assert.Nil(t, g.State.LastRun)
	assert.Equal(t, next, *g.State.NextRun)
	assert.Equal(t, 9, *g.State.Remaining)
	assert.Equal(t, schedule.PastEventsAll, g.State.PastEvents)

	_, err = g.Tracker()
	assert.NoError(t, err)
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505"}
	assert.True(t, isUniqueViolation(dup))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", dup)))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}

func TestConversions(t *testing.T) {
	assert.Equal(t, []string{"MO", "FR"}, weekdayStrings([]rrule.Weekday{rrule.Monday, rrule.Friday}))
	assert.Equal(t, []string{}, weekdayStrings(nil))
	assert.Equal(t, []int32{1, -1}, monthDays32([]int{1, -1}))
	assert.Equal(t, map[string]any{}, payloadOrEmpty(nil))
}
