package rrule

import (
	"time"

	"github.com/teambition/rrule-go"
)

// Recurrence enumerates the occurrences of a Rule. It is stateless and safe
// for concurrent use.
type Recurrence struct {
	rule Rule
	rr   *rrule.RRule
}

func New(r Rule) (*Recurrence, error) {
	r, err := NewRule(r)
	if err != nil {
		return nil, err
	}
	opt, err := r.options()
	if err != nil {
		return nil, err
	}
	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, err
	}
	return &Recurrence{rule: r, rr: rr}, nil
}

func (r *Recurrence) Rule() Rule {
	return r.rule.clone()
}

// Between returns the ascending occurrences in [from, until], or in
// (from, until] when inclusive is false.
func (r *Recurrence) Between(from, until time.Time, inclusive bool) []time.Time {
	if from.After(until) {
		return nil
	}
	out := r.rr.Between(from, until, true)
	if !inclusive {
		for len(out) > 0 && !out[0].After(from) {
			out = out[1:]
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// After returns the first occurrence after t (at or after t when inclusive),
// or nil when the rule yields nothing more.
func (r *Recurrence) After(t time.Time, inclusive bool) *time.Time {
	next := r.rr.After(t, inclusive)
	if next.IsZero() {
		return nil
	}
	return &next
}

// Upcoming returns up to n occurrences after t (at or after t when
// inclusive).
func (r *Recurrence) Upcoming(t time.Time, n int, inclusive bool) []time.Time {
	var out []time.Time
	next := r.rr.Iterator()
	for len(out) < n {
		occ, ok := next()
		if !ok {
			break
		}
		if occ.After(t) || (inclusive && occ.Equal(t)) {
			out = append(out, occ)
		}
	}
	return out
}
