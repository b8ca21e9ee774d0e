// Package followup implements the generator use cases and the per-owner run
// cycle that turns due occurrences into delivered follow-ups.
package followup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hray3182/followup/internal/delivery"
	"github.com/hray3182/followup/internal/metrics"
	"github.com/hray3182/followup/internal/models"
	"github.com/hray3182/followup/internal/rrule"
	"github.com/hray3182/followup/internal/schedule"
)

type GeneratorStore interface {
	Create(ctx context.Context, g *models.FollowupGenerator) error
	List(ctx context.Context, ownerID string, active bool) ([]*models.FollowupGenerator, error)
	GetByID(ctx context.Context, id string) (*models.FollowupGenerator, error)
	FindID(ctx context.Context, ownerID, name string) (string, bool, error)
	BatchUpdateState(ctx context.Context, updates []models.StateUpdate) error
	UpdateExhaustionRule(ctx context.Context, id string, apply func(*models.FollowupGenerator) error) (*models.FollowupGenerator, error)
	Delete(ctx context.Context, id string) error
	ActiveOwners(ctx context.Context) ([]models.OwnerWake, error)
}

// FollowUpStore persists follow-ups. Add returns the follow-ups actually
// stored, leaving out those whose generator no longer exists.
type FollowUpStore interface {
	Add(ctx context.Context, followups []*models.FollowUp) ([]*models.FollowUp, error)
	SaveResponses(ctx context.Context, followups []*models.FollowUp) error
}

// Armer is the part of the task runner the service drives.
type Armer interface {
	Ensure(ownerID string, runAt time.Time) error
}

type Service struct {
	generators GeneratorStore
	followups  FollowUpStore
	sender     delivery.Sender
	runner     Armer
	metrics    *metrics.Metrics
	log        zerolog.Logger
	now        func() time.Time

	syncInterval time.Duration
	notifyCh     chan struct{}
}

func NewService(generators GeneratorStore, followups FollowUpStore, sender delivery.Sender, log zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		generators:   generators,
		followups:    followups,
		sender:       sender,
		metrics:      m,
		log:          log.With().Str("component", "followup").Logger(),
		now:          time.Now,
		syncInterval: time.Minute,
		notifyCh:     make(chan struct{}, 1),
	}
}

// UseRunner makes create and extend arm the owner's timer.
func (s *Service) UseRunner(r Armer) {
	s.runner = r
}

func (s *Service) SetSyncInterval(d time.Duration) {
	if d > 0 {
		s.syncInterval = d
	}
}

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrValidation, fmt.Sprintf(format, args...))
}

func ruleError(err error) error {
	if errors.Is(err, rrule.ErrInvalidRule) {
		return fmt.Errorf("%w: %w", models.ErrValidation, err)
	}
	return err
}

// Create validates in, computes the first next_run and stores the generator.
func (s *Service) Create(ctx context.Context, in models.GeneratorInput) (*models.Created, error) {
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	in.Name = strings.TrimSpace(in.Name)
	if in.OwnerID == "" {
		return nil, validation("owner id is required")
	}
	if in.Name == "" {
		return nil, validation("name is required")
	}

	channels := make([]models.Channel, len(in.Channels))
	for i, ch := range in.Channels {
		if ch.Type == "" {
			return nil, validation("channel %d has no type", i)
		}
		if ch.ID == "" {
			ch.ID = uuid.NewString()
		}
		channels[i] = ch
	}

	rule, err := rrule.NewRule(in.Rule)
	if err != nil {
		return nil, ruleError(err)
	}
	pe, err := schedule.ParsePastEvents(string(in.PastEvents))
	if err != nil {
		return nil, validation("%v", err)
	}

	tracker, err := schedule.New(rule, schedule.NewState(rule, pe))
	if err != nil {
		return nil, ruleError(err)
	}
	next := tracker.Prime()
	exhausted := next == nil || tracker.IsExhausted(s.now())
	state := tracker.State()
	if exhausted {
		state.NextRun, next = nil, nil
	}

	g := &models.FollowupGenerator{
		ID:          uuid.NewString(),
		OwnerID:     in.OwnerID,
		HookID:      in.HookID,
		Name:        in.Name,
		Description: in.Description,
		Channels:    channels,
		Message:     models.Message{ID: uuid.NewString(), Body: in.Message},
		Data:        models.Data{ID: uuid.NewString(), Payload: in.Data},
		Rule:        rule,
		State:       state,
		Exhausted:   exhausted,
	}
	if err := s.generators.Create(ctx, g); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("generator_id", g.ID).
		Str("owner_id", g.OwnerID).
		Str("rule", rule.String()).
		Bool("exhausted", exhausted).
		Msg("generator created")

	if next != nil {
		s.arm(g.OwnerID, *next)
	}
	return &models.Created{ID: g.ID, NextRun: next, Exhausted: exhausted, CreatedAt: g.CreatedAt}, nil
}

func (s *Service) List(ctx context.Context, ownerID string, active bool) ([]*models.FollowupGenerator, error) {
	if ownerID == "" {
		return nil, validation("owner id is required")
	}
	return s.generators.List(ctx, ownerID, active)
}

func (s *Service) Get(ctx context.Context, id string) (*models.FollowupGenerator, error) {
	return s.generators.GetByID(ctx, id)
}

// DeleteTarget names a generator by id, or by owner and name.
type DeleteTarget struct {
	ID      string
	OwnerID string
	Name    string
}

// Delete removes a generator and returns its id.
func (s *Service) Delete(ctx context.Context, target DeleteTarget) (string, error) {
	id := target.ID
	if id == "" {
		if target.OwnerID == "" || target.Name == "" {
			return "", validation("generator id or owner and name are required")
		}
		found, ok, err := s.generators.FindID(ctx, target.OwnerID, target.Name)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%w: generator %q of owner %q", models.ErrNotFound, target.Name, target.OwnerID)
		}
		id = found
	}

	if err := s.generators.Delete(ctx, id); err != nil {
		return "", err
	}
	s.log.Info().Str("generator_id", id).Msg("generator deleted")
	return id, nil
}

// UpdateExhaustionRule adds addCount occurrences and/or moves until, then
// recomputes next_run and the exhaustion flag.
func (s *Service) UpdateExhaustionRule(ctx context.Context, id string, addCount *int, until *time.Time) (*models.FollowupGenerator, error) {
	if addCount == nil && until == nil {
		return nil, validation("add count or until is required")
	}
	if addCount != nil && *addCount < 1 {
		return nil, validation("add count must be positive")
	}

	now := s.now()
	g, err := s.generators.UpdateExhaustionRule(ctx, id, func(g *models.FollowupGenerator) error {
		tracker, err := g.Tracker()
		if err != nil {
			return ruleError(err)
		}
		if err := tracker.Extend(addCount, until); err != nil {
			return ruleError(err)
		}
		g.Rule = tracker.Rule()
		g.State = tracker.State()
		g.Exhausted = tracker.IsExhausted(now) || g.State.NextRun == nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("generator_id", g.ID).
		Str("rule", g.Rule.String()).
		Bool("exhausted", g.Exhausted).
		Msg("exhaustion rule updated")

	if !g.Exhausted && g.State.NextRun != nil {
		s.arm(g.OwnerID, *g.State.NextRun)
	}
	return g, nil
}
