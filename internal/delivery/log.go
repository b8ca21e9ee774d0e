package delivery

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hray3182/followup/internal/metrics"
	"github.com/hray3182/followup/internal/models"
)

// LogSender writes follow-ups to the logger. Useful for dry runs.
type LogSender struct {
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewLogSender(log zerolog.Logger, m *metrics.Metrics) *LogSender {
	return &LogSender{log: log.With().Str("channel", TypeLog).Logger(), metrics: m}
}

func (s *LogSender) Send(ctx context.Context, followups []*models.FollowUp) error {
	return deliverEach(ctx, TypeLog, followups, s.log, s.metrics,
		func(_ context.Context, f *models.FollowUp, ch models.Channel) (int, string, error) {
			s.log.Info().
				Str("followup_id", f.ID).
				Str("generator_id", f.GeneratorID).
				Str("owner_id", f.OwnerID).
				Str("channel_id", ch.ID).
				Time("date", f.Date).
				Msg(f.Message)
			return 0, "", nil
		})
}
