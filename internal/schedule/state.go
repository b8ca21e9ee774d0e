package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/hray3182/followup/internal/rrule"
)

// PastEvents selects which newly due occurrences are handed out by a tick.
type PastEvents string

const (
	PastEventsAll      PastEvents = "all"
	PastEventsLastOnly PastEvents = "lastonly"
	PastEventsNone     PastEvents = "none"
)

func ParsePastEvents(s string) (PastEvents, error) {
	switch pe := PastEvents(strings.ToLower(strings.TrimSpace(s))); pe {
	case PastEventsAll, PastEventsLastOnly, PastEventsNone:
		return pe, nil
	case "":
		return PastEventsLastOnly, nil
	default:
		return "", fmt.Errorf("unknown past events policy %q", s)
	}
}

func (p PastEvents) filter(found []time.Time) []time.Time {
	switch p {
	case PastEventsAll:
		return found
	case PastEventsNone:
		return nil
	default:
		if len(found) == 0 {
			return nil
		}
		return found[len(found)-1:]
	}
}

// RunState is the mutable progress of one generator.
type RunState struct {
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	Remaining  *int       `json:"remaining,omitempty"`
	PastEvents PastEvents `json:"past_events"`
}

// NewState returns the initial state for rule.
func NewState(rule rrule.Rule, pe PastEvents) RunState {
	s := RunState{PastEvents: pe}
	if rule.Count != nil {
		n := *rule.Count
		s.Remaining = &n
	}
	return s
}

func (s RunState) clone() RunState {
	out := s
	if s.LastRun != nil {
		t := *s.LastRun
		out.LastRun = &t
	}
	if s.NextRun != nil {
		t := *s.NextRun
		out.NextRun = &t
	}
	if s.Remaining != nil {
		n := *s.Remaining
		out.Remaining = &n
	}
	return out
}
