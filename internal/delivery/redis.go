package delivery

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hray3182/followup/internal/metrics"
	"github.com/hray3182/followup/internal/models"
)

const DefaultRedisKey = "followups"

// Pusher is satisfied by *redis.Client.
type Pusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisSender appends each follow-up as JSON to the list named by the
// channel's "key", or DefaultRedisKey.
type RedisSender struct {
	client  Pusher
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewRedisSender(client Pusher, log zerolog.Logger, m *metrics.Metrics) *RedisSender {
	return &RedisSender{
		client:  client,
		log:     log.With().Str("channel", TypeRedis).Logger(),
		metrics: m,
	}
}

// NewRedisClient connects to url, e.g. redis://localhost:6379/0.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func (s *RedisSender) Send(ctx context.Context, followups []*models.FollowUp) error {
	return deliverEach(ctx, TypeRedis, followups, s.log, s.metrics, s.push)
}

func (s *RedisSender) push(ctx context.Context, f *models.FollowUp, ch models.Channel) (int, string, error) {
	key := configString(ch, "key")
	if key == "" {
		key = DefaultRedisKey
	}
	data, err := json.Marshal(newPayload(f, ch))
	if err != nil {
		return 0, "", err
	}
	n, err := s.client.RPush(ctx, key, data).Result()
	if err != nil {
		return 0, "", err
	}
	return 0, strconv.FormatInt(n, 10), nil
}
