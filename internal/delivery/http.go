package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hray3182/followup/internal/metrics"
	"github.com/hray3182/followup/internal/models"
)

const maxResponseBody = 4 << 10

// HTTPSender POSTs each follow-up as JSON to the channel's "url". Optional
// "headers" are added to the request.
type HTTPSender struct {
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewHTTPSender(client *http.Client, ratePerSec int, log zerolog.Logger, m *metrics.Metrics) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	return &HTTPSender{
		client:  client,
		limiter: limiter,
		log:     log.With().Str("channel", TypeHTTP).Logger(),
		metrics: m,
	}
}

func (s *HTTPSender) Send(ctx context.Context, followups []*models.FollowUp) error {
	return deliverEach(ctx, TypeHTTP, followups, s.log, s.metrics, s.post)
}

func (s *HTTPSender) post(ctx context.Context, f *models.FollowUp, ch models.Channel) (int, string, error) {
	url := configString(ch, "url")
	if url == "" {
		return 0, "", fmt.Errorf("channel %s has no url", ch.ID)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, "", err
	}

	body, err := json.Marshal(newPayload(f, ch))
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := ch.Config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if hv, ok := v.(string); ok {
				req.Header.Set(k, hv)
			}
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, "", err
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, string(respBody), fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.StatusCode, string(respBody), nil
}
