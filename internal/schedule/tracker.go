package schedule

import (
	"time"

	"github.com/hray3182/followup/internal/rrule"
)

// Tracker applies ticks of a Recurrence to a RunState. It is not safe for
// concurrent use; each run cycle builds its own.
type Tracker struct {
	rule  rrule.Rule
	rec   *rrule.Recurrence
	state RunState
}

func New(rule rrule.Rule, state RunState) (*Tracker, error) {
	rec, err := rrule.New(rule)
	if err != nil {
		return nil, err
	}
	if state.PastEvents == "" {
		state.PastEvents = PastEventsLastOnly
	}
	return &Tracker{rule: rec.Rule(), rec: rec, state: state.clone()}, nil
}

// Schedule consumes every occurrence due up to and including until and
// returns the ones selected by the past events policy. The state always
// advances over the full set.
func (t *Tracker) Schedule(until time.Time) []time.Time {
	var found []time.Time
	if t.state.LastRun != nil {
		found = t.rec.Between(*t.state.LastRun, until, false)
	} else {
		found = t.rec.Between(t.rule.Dtstart, until, true)
	}

	if len(found) == 0 {
		if t.state.NextRun == nil {
			t.advance(t.firstCandidate())
		}
		return nil
	}

	if t.state.Remaining != nil {
		n := max(*t.state.Remaining-len(found), 0)
		t.state.Remaining = &n
	}
	last := found[len(found)-1]
	t.state.LastRun = &last
	t.advance(t.rec.After(last, false))

	return t.state.PastEvents.filter(found)
}

// Prime computes next_run without consuming anything.
func (t *Tracker) Prime() *time.Time {
	if t.state.NextRun == nil {
		t.advance(t.firstCandidate())
	}
	return t.NextRun()
}

// Extend widens the rule by addCount occurrences and/or a new until, and
// recomputes next_run against the new bounds.
func (t *Tracker) Extend(addCount *int, until *time.Time) error {
	rule, err := t.rule.Extend(addCount, until)
	if err != nil {
		return err
	}
	rec, err := rrule.New(rule)
	if err != nil {
		return err
	}
	t.rule, t.rec = rule, rec

	if addCount != nil && t.state.Remaining != nil {
		n := max(*t.state.Remaining+*addCount, 0)
		t.state.Remaining = &n
	}
	t.state.NextRun = nil
	t.advance(t.firstCandidate())
	return nil
}

// IsExhausted reports whether the rule can no longer fire at or after at.
func (t *Tracker) IsExhausted(at time.Time) bool {
	if t.state.Remaining != nil && *t.state.Remaining <= 0 {
		return true
	}
	return t.rule.Until != nil && at.After(*t.rule.Until)
}

func (t *Tracker) firstCandidate() *time.Time {
	if t.state.LastRun != nil {
		return t.rec.After(*t.state.LastRun, false)
	}
	return t.rec.After(t.rule.Dtstart, true)
}

func (t *Tracker) advance(candidate *time.Time) {
	if candidate == nil || t.IsExhausted(*candidate) {
		t.state.NextRun = nil
		return
	}
	cur := t.state.NextRun
	consumed := cur != nil && t.state.LastRun != nil && !cur.After(*t.state.LastRun)
	if cur == nil || consumed || cur.After(*candidate) {
		t.state.NextRun = candidate
	}
}

func (t *Tracker) State() RunState {
	return t.state.clone()
}

func (t *Tracker) Rule() rrule.Rule {
	return t.rec.Rule()
}

func (t *Tracker) NextRun() *time.Time {
	if t.state.NextRun == nil {
		return nil
	}
	n := *t.state.NextRun
	return &n
}
