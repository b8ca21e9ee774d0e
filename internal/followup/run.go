package followup

import (
	"context"
	"fmt"
	"time"

	"github.com/hray3182/followup/internal/models"
)

// Run executes one cycle for ownerID at the current time.
func (s *Service) Run(ctx context.Context, ownerID string) (*time.Time, error) {
	return s.RunAt(ctx, ownerID, time.Time{})
}

// RunAt generates the follow-ups due for ownerID up to ts (now when zero),
// persists them and the new run state, delivers them, and returns the
// owner's earliest next_run.
func (s *Service) RunAt(ctx context.Context, ownerID string, ts time.Time) (next *time.Time, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordRun(time.Since(start), err) }()

	if ts.IsZero() {
		ts = s.now()
	}
	log := s.log.With().Str("owner_id", ownerID).Time("ts", ts).Logger()

	gens, err := s.generators.List(ctx, ownerID, true)
	if err != nil {
		return nil, fmt.Errorf("load generators: %w", err)
	}

	var (
		followups []*models.FollowUp
		updates   = make([]models.StateUpdate, 0, len(gens))
	)
	for _, g := range gens {
		tracker, err := g.Tracker()
		if err != nil {
			log.Error().Err(err).Str("generator_id", g.ID).Msg("skipping generator with invalid rule")
			continue
		}

		for _, at := range tracker.Schedule(ts) {
			followups = append(followups, models.NewFollowUp(g, at))
		}

		st := tracker.State()
		exhausted := tracker.IsExhausted(ts) || st.NextRun == nil
		updates = append(updates, models.StateUpdate{
			GeneratorID: g.ID,
			Exhausted:   exhausted,
			Remaining:   st.Remaining,
			LastRun:     st.LastRun,
			NextRun:     st.NextRun,
		})

		if !exhausted && (next == nil || st.NextRun.Before(*next)) {
			next = st.NextRun
		}
	}

	followups, err = s.followups.Add(ctx, followups)
	if err != nil {
		return nil, fmt.Errorf("persist followups: %w", err)
	}
	if err := s.generators.BatchUpdateState(ctx, updates); err != nil {
		return nil, fmt.Errorf("persist run state: %w", err)
	}
	s.metrics.AddGenerated(len(followups))

	if len(followups) > 0 {
		if err := s.sender.Send(ctx, followups); err != nil {
			return nil, fmt.Errorf("deliver followups: %w", err)
		}
		if err := s.followups.SaveResponses(ctx, followups); err != nil {
			log.Warn().Err(err).Msg("failed to save delivery responses")
		}
	}

	ev := log.Info().Int("generators", len(gens)).Int("followups", len(followups))
	if next != nil {
		ev = ev.Time("next_run", *next)
	}
	ev.Msg("run finished")
	return next, nil
}
