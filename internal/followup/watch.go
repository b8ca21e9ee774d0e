package followup

import (
	"context"
	"errors"
	"time"

	"github.com/hray3182/followup/internal/scheduler"
)

// arm asks the runner to wake ownerID no later than at.
func (s *Service) arm(ownerID string, at time.Time) {
	if s.runner == nil {
		return
	}
	if err := s.runner.Ensure(ownerID, at); err != nil {
		if errors.Is(err, scheduler.ErrNotStarted) {
			s.log.Debug().Str("owner_id", ownerID).Msg("runner not started, owner left for sync")
			return
		}
		s.log.Error().Err(err).Str("owner_id", ownerID).Msg("failed to arm owner")
	}
}

// Sync arms every owner that has a pending next_run and returns how many
// owners were seen.
func (s *Service) Sync(ctx context.Context) (int, error) {
	wakes, err := s.generators.ActiveOwners(ctx)
	if err != nil {
		return 0, err
	}
	for _, w := range wakes {
		s.arm(w.OwnerID, w.NextRun)
	}
	return len(wakes), nil
}

// Notify triggers an immediate sync. Non-blocking if one is already pending.
func (s *Service) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// Watch syncs at start, on every interval tick and on Notify, until ctx is
// done.
func (s *Service) Watch(ctx context.Context) {
	s.log.Info().Dur("interval", s.syncInterval).Msg("watch started")
	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	s.sync(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("watch stopped")
			return
		case <-ticker.C:
			s.sync(ctx)
		case <-s.notifyCh:
			s.sync(ctx)
		}
	}
}

func (s *Service) sync(ctx context.Context) {
	n, err := s.Sync(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error().Err(err).Msg("sync failed")
		}
		return
	}
	s.log.Debug().Int("owners", n).Msg("sync finished")
}
