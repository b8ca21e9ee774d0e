package rrule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// ErrInvalidRule is returned when a rule cannot describe a valid recurrence.
var ErrInvalidRule = errors.New("invalid recurrence rule")

type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

type Weekday string

const (
	Monday    Weekday = "MO"
	Tuesday   Weekday = "TU"
	Wednesday Weekday = "WE"
	Thursday  Weekday = "TH"
	Friday    Weekday = "FR"
	Saturday  Weekday = "SA"
	Sunday    Weekday = "SU"
)

var freqMap = map[Frequency]rrule.Frequency{
	Daily:   rrule.DAILY,
	Weekly:  rrule.WEEKLY,
	Monthly: rrule.MONTHLY,
	Yearly:  rrule.YEARLY,
}

var dayMap = map[Weekday]rrule.Weekday{
	Monday:    rrule.MO,
	Tuesday:   rrule.TU,
	Wednesday: rrule.WE,
	Thursday:  rrule.TH,
	Friday:    rrule.FR,
	Saturday:  rrule.SA,
	Sunday:    rrule.SU,
}

// weekdays is indexed by rrule.Weekday.Day().
var weekdays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

const untilLayout = "20060102T150405Z"

// Rule defines an occurrence pattern. It carries no run state.
type Rule struct {
	Freq          Frequency  `json:"freq"`
	Dtstart       time.Time  `json:"dtstart"`
	Timezone      string     `json:"timezone,omitempty"`
	Interval      int        `json:"interval"`
	Count         *int       `json:"count,omitempty"`
	Until         *time.Time `json:"until,omitempty"`
	ByWeekday     []Weekday  `json:"byweekday,omitempty"`
	ByMonthDay    []int      `json:"bymonthday,omitempty"`
	AllowInfinite bool       `json:"allow_infinite"`
}

// NewRule normalizes and validates r. Dtstart and Until are truncated to
// whole seconds, the resolution occurrences are generated at.
func NewRule(r Rule) (Rule, error) {
	if r.Interval == 0 {
		r.Interval = 1
	}
	r.Dtstart = r.Dtstart.Truncate(time.Second)
	if r.Until != nil {
		u := r.Until.Truncate(time.Second)
		r.Until = &u
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func (r Rule) Validate() error {
	if _, ok := freqMap[r.Freq]; !ok {
		return fmt.Errorf("%w: unsupported frequency %q", ErrInvalidRule, r.Freq)
	}
	if r.Dtstart.IsZero() {
		return fmt.Errorf("%w: start time is required", ErrInvalidRule)
	}
	if r.Interval < 1 {
		return fmt.Errorf("%w: interval must be at least 1", ErrInvalidRule)
	}
	if r.Count != nil && *r.Count < 1 {
		return fmt.Errorf("%w: count must be at least 1", ErrInvalidRule)
	}
	if r.Until != nil && r.Until.IsZero() {
		return fmt.Errorf("%w: until must not be zero", ErrInvalidRule)
	}
	for _, d := range r.ByWeekday {
		if _, ok := dayMap[d]; !ok {
			return fmt.Errorf("%w: unknown weekday %q", ErrInvalidRule, d)
		}
	}
	for _, d := range r.ByMonthDay {
		if d == 0 || d < -31 || d > 31 {
			return fmt.Errorf("%w: month day %d out of range", ErrInvalidRule, d)
		}
	}
	if _, err := r.Location(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	if !r.AllowInfinite && r.Count == nil && r.Until == nil {
		return fmt.Errorf("%w: count or until is required unless the rule is unbounded", ErrInvalidRule)
	}
	return nil
}

// Location resolves the rule timezone. An empty name means UTC.
func (r Rule) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", r.Timezone, err)
	}
	return loc, nil
}

// Extend returns a copy of r with addCount more occurrences and/or a new until.
func (r Rule) Extend(addCount *int, until *time.Time) (Rule, error) {
	if addCount == nil && until == nil {
		return Rule{}, fmt.Errorf("%w: nothing to extend", ErrInvalidRule)
	}
	out := r.clone()
	if addCount != nil {
		if out.Count == nil {
			return Rule{}, fmt.Errorf("%w: rule has no count to extend", ErrInvalidRule)
		}
		n := *out.Count + *addCount
		out.Count = &n
	}
	if until != nil {
		u := until.Truncate(time.Second)
		out.Until = &u
	}
	if err := out.Validate(); err != nil {
		return Rule{}, err
	}
	return out, nil
}

func (r Rule) clone() Rule {
	out := r
	if r.Count != nil {
		c := *r.Count
		out.Count = &c
	}
	if r.Until != nil {
		u := *r.Until
		out.Until = &u
	}
	out.ByWeekday = append([]Weekday(nil), r.ByWeekday...)
	out.ByMonthDay = append([]int(nil), r.ByMonthDay...)
	return out
}

func (r Rule) options() (rrule.ROption, error) {
	loc, err := r.Location()
	if err != nil {
		return rrule.ROption{}, err
	}
	opt := rrule.ROption{
		Freq:     freqMap[r.Freq],
		Interval: r.Interval,
		Dtstart:  r.Dtstart.In(loc),
	}
	if r.Count != nil {
		opt.Count = *r.Count
	}
	if r.Until != nil {
		opt.Until = r.Until.In(loc)
	}
	for _, d := range r.ByWeekday {
		opt.Byweekday = append(opt.Byweekday, dayMap[d])
	}
	if len(r.ByMonthDay) > 0 {
		opt.Bymonthday = append([]int(nil), r.ByMonthDay...)
	}
	return opt, nil
}

// String renders the rule as an RFC 5545 RRULE value (without DTSTART).
func (r Rule) String() string {
	parts := []string{"FREQ=" + string(r.Freq)}

	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if len(r.ByWeekday) > 0 {
		days := make([]string, len(r.ByWeekday))
		for i, d := range r.ByWeekday {
			days[i] = string(d)
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}
	if len(r.ByMonthDay) > 0 {
		days := make([]string, len(r.ByMonthDay))
		for i, d := range r.ByMonthDay {
			days[i] = strconv.Itoa(d)
		}
		parts = append(parts, "BYMONTHDAY="+strings.Join(days, ","))
	}
	if r.Count != nil {
		parts = append(parts, "COUNT="+strconv.Itoa(*r.Count))
	}
	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.Until.UTC().Format(untilLayout))
	}
	return strings.Join(parts, ";")
}

// ParseRule builds a Rule from an RRULE string. Only FREQ, INTERVAL, COUNT,
// UNTIL, BYDAY and BYMONTHDAY are accepted.
func ParseRule(ruleStr string, dtstart time.Time, timezone string, allowInfinite bool) (Rule, error) {
	ruleStr = strings.TrimPrefix(strings.TrimSpace(ruleStr), "RRULE:")

	loc, err := Rule{Timezone: timezone}.Location()
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	opt, err := rrule.StrToROptionInLocation(ruleStr, loc)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	if len(opt.Bysetpos) > 0 || len(opt.Bymonth) > 0 || len(opt.Byyearday) > 0 ||
		len(opt.Byweekno) > 0 || len(opt.Byhour) > 0 || len(opt.Byminute) > 0 ||
		len(opt.Bysecond) > 0 || len(opt.Byeaster) > 0 {
		return Rule{}, fmt.Errorf("%w: unsupported BY* part in %q", ErrInvalidRule, ruleStr)
	}

	r := Rule{
		Dtstart:       dtstart,
		Timezone:      timezone,
		Interval:      opt.Interval,
		AllowInfinite: allowInfinite,
		ByMonthDay:    opt.Bymonthday,
	}
	for f, rf := range freqMap {
		if rf == opt.Freq {
			r.Freq = f
		}
	}
	if r.Freq == "" {
		return Rule{}, fmt.Errorf("%w: unsupported frequency in %q", ErrInvalidRule, ruleStr)
	}
	if opt.Count > 0 {
		c := opt.Count
		r.Count = &c
	}
	if !opt.Until.IsZero() {
		u := opt.Until
		r.Until = &u
	}
	for _, d := range opt.Byweekday {
		if d.N() != 0 {
			return Rule{}, fmt.Errorf("%w: ordinal weekdays are not supported", ErrInvalidRule)
		}
		r.ByWeekday = append(r.ByWeekday, weekdays[d.Day()])
	}
	return NewRule(r)
}

var freqUnits = map[Frequency]string{
	Daily:   "day",
	Weekly:  "week",
	Monthly: "month",
	Yearly:  "year",
}

var dayNames = map[Weekday]string{
	Monday:    "Mon",
	Tuesday:   "Tue",
	Wednesday: "Wed",
	Thursday:  "Thu",
	Friday:    "Fri",
	Saturday:  "Sat",
	Sunday:    "Sun",
}

// Describe returns a short English summary such as
// "every 2 weeks on Mon, Fri, 10 times".
func Describe(r Rule) string {
	var b strings.Builder

	unit := freqUnits[r.Freq]
	if r.Interval > 1 {
		fmt.Fprintf(&b, "every %d %ss", r.Interval, unit)
	} else {
		b.WriteString("every " + unit)
	}

	if len(r.ByWeekday) > 0 {
		names := make([]string, len(r.ByWeekday))
		for i, d := range r.ByWeekday {
			names[i] = dayNames[d]
		}
		b.WriteString(" on " + strings.Join(names, ", "))
	}
	if len(r.ByMonthDay) > 0 {
		days := make([]string, len(r.ByMonthDay))
		for i, d := range r.ByMonthDay {
			days[i] = strconv.Itoa(d)
		}
		b.WriteString(" on day " + strings.Join(days, ", "))
	}

	if r.Count != nil {
		if *r.Count == 1 {
			b.WriteString(", once")
		} else {
			fmt.Fprintf(&b, ", %d times", *r.Count)
		}
	}
	if r.Until != nil {
		loc, err := r.Location()
		if err != nil {
			loc = time.UTC
		}
		b.WriteString(", until " + r.Until.In(loc).Format("2006-01-02 15:04"))
	}
	if r.Timezone != "" {
		b.WriteString(" (" + r.Timezone + ")")
	}
	return b.String()
}
