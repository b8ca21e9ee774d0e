package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hray3182/followup/internal/config"
	"github.com/hray3182/followup/internal/database"
	"github.com/hray3182/followup/internal/delivery"
	"github.com/hray3182/followup/internal/followup"
	"github.com/hray3182/followup/internal/logger"
	"github.com/hray3182/followup/internal/metrics"
	"github.com/hray3182/followup/internal/repository"
)

// app holds the wiring shared by every command that touches the database.
type app struct {
	cfg        *config.Config
	log        zerolog.Logger
	db         *database.DB
	generators *repository.GeneratorRepository
	followups  *repository.FollowUpRepository
	metrics    *metrics.Metrics
	svc        *followup.Service
	closers    []func()
}

func newApp(ctx context.Context, reg prometheus.Registerer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if cfg.DatabaseURI == "" {
		return nil, errors.New("DATABASE_URI is required")
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cfg.LogOutput})
	if err != nil {
		return nil, err
	}

	db, err := database.New(ctx, cfg.DatabaseURI, log)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a := &app{cfg: cfg, log: log, db: db, closers: []func(){db.Close}}

	if err := db.Migrate(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	a.metrics = metrics.New("followupd", reg)
	a.generators = repository.NewGeneratorRepository(db, log)
	a.followups = repository.NewFollowUpRepository(db, log)

	sender, err := a.buildSender(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.svc = followup.NewService(a.generators, a.followups, sender, log, a.metrics)
	a.svc.SetSyncInterval(cfg.SyncInterval)
	return a, nil
}

// buildSender wires every channel type the configuration enables. The log
// and http channels are always available.
func (a *app) buildSender(ctx context.Context) (delivery.Sender, error) {
	senders := []delivery.Sender{
		delivery.NewLogSender(a.log, a.metrics),
		delivery.NewHTTPSender(&http.Client{Timeout: a.cfg.HTTPTimeout}, a.cfg.HTTPRatePerSec, a.log, a.metrics),
	}

	if a.cfg.TelegramToken != "" {
		api, err := tgbotapi.NewBotAPI(a.cfg.TelegramToken)
		if err != nil {
			return nil, fmt.Errorf("create telegram api: %w", err)
		}
		a.log.Info().Str("bot", api.Self.UserName).Msg("telegram channel enabled")
		senders = append(senders, delivery.NewTelegramSender(api, a.log, a.metrics))
	}

	if a.cfg.RedisURL != "" {
		rdb, err := delivery.NewRedisClient(ctx, a.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { rdb.Close() })
		a.log.Info().Msg("redis channel enabled")
		senders = append(senders, delivery.NewRedisSender(rdb, a.log, a.metrics))
	}

	return delivery.NewFanout(senders...), nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
