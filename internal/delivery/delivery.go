// Package delivery sends follow-ups through their channels and records each
// channel's response on the follow-up.
package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hray3182/followup/internal/metrics"
	"github.com/hray3182/followup/internal/models"
)

const (
	TypeHTTP     = "http"
	TypeTelegram = "telegram"
	TypeRedis    = "redis"
	TypeLog      = "log"
)

// Sender delivers follow-ups. Implementations handle only the channels of
// their own type and ignore the rest.
type Sender interface {
	Send(ctx context.Context, followups []*models.FollowUp) error
}

// Fanout hands the same follow-ups to every sender concurrently.
type Fanout struct {
	senders []Sender
}

func NewFanout(senders ...Sender) *Fanout {
	return &Fanout{senders: senders}
}

func (f *Fanout) Send(ctx context.Context, followups []*models.FollowUp) error {
	if len(followups) == 0 || len(f.senders) == 0 {
		return nil
	}

	errs := make([]error, len(f.senders))
	var wg sync.WaitGroup
	for i, s := range f.senders {
		wg.Add(1)
		go func(i int, s Sender) {
			defer wg.Done()
			errs[i] = s.Send(ctx, followups)
		}(i, s)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// payload is the JSON body shared by the http and redis channels.
type payload struct {
	FollowUpID  string         `json:"followup_id"`
	GeneratorID string         `json:"generator_id"`
	OwnerID     string         `json:"owner_id"`
	ChannelID   string         `json:"channel_id"`
	Msg         string         `json:"msg"`
	Data        map[string]any `json:"data,omitempty"`
	Date        time.Time      `json:"date"`
}

func newPayload(f *models.FollowUp, ch models.Channel) payload {
	return payload{
		FollowUpID:  f.ID,
		GeneratorID: f.GeneratorID,
		OwnerID:     f.OwnerID,
		ChannelID:   ch.ID,
		Msg:         f.Message,
		Data:        f.Data,
		Date:        f.Date,
	}
}

type deliverFunc func(ctx context.Context, f *models.FollowUp, ch models.Channel) (code int, body string, err error)

// deliverEach calls fn for every channel of type typ and stores the outcome
// as that channel's response. A failed channel does not stop the batch.
func deliverEach(ctx context.Context, typ string, followups []*models.FollowUp, log zerolog.Logger, m *metrics.Metrics, fn deliverFunc) error {
	for _, f := range followups {
		for _, ch := range f.ChannelsOfType(typ) {
			if err := ctx.Err(); err != nil {
				return err
			}

			code, body, err := fn(ctx, f, ch)
			resp := models.Response{
				ChannelID:   ch.ID,
				ChannelType: typ,
				Status:      models.ResponseSent,
				Code:        code,
				Body:        body,
				At:          time.Now(),
			}
			if err != nil {
				resp.Status = models.ResponseFailed
				resp.Error = err.Error()
				log.Warn().Err(err).
					Str("followup_id", f.ID).
					Str("channel_id", ch.ID).
					Msg("delivery failed")
			}
			f.SetResponse(resp)
			m.RecordDelivery(typ, err == nil)
		}
	}
	return nil
}

func configString(ch models.Channel, key string) string {
	s, _ := ch.Config[key].(string)
	return s
}
