package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bissquit/wastewatch/internal/config"
	"github.com/bissquit/wastewatch/internal/escalation"
	"github.com/bissquit/wastewatch/internal/escalation/mattermost"
	"github.com/bissquit/wastewatch/internal/escalation/redisqueue"
	"github.com/bissquit/wastewatch/internal/escalation/webhook"
	"github.com/bissquit/wastewatch/internal/pkg/postgres"
	"github.com/bissquit/wastewatch/internal/pkg/redis"
	"github.com/bissquit/wastewatch/internal/storage/memory"
	pgstore "github.com/bissquit/wastewatch/internal/storage/postgres"
)

func (a *App) openStore(ctx context.Context) error {
	if a.config.Storage.Driver != config.DriverPostgres {
		slog.Warn("using in-memory storage: data is lost on restart")
		a.store = memory.New()
		return nil
	}

	db, err := postgres.Connect(ctx, postgres.Config{
		URL:             a.config.Database.URL,
		MaxOpenConns:    a.config.Database.MaxOpenConns,
		MaxIdleConns:    a.config.Database.MaxIdleConns,
		ConnMaxLifetime: a.config.Database.ConnMaxLifetime,
		ConnectAttempts: a.config.Database.ConnectAttempts,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	if a.config.Database.AutoMigrate {
		if err := postgres.MigrateUp(a.config.Database.MigrationsPath, a.config.Database.URL); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	a.db = db
	a.store = pgstore.New(db)
	return nil
}

// setupEscalation starts the delivery worker and returns the publisher the
// coordination service escalates through. It returns nil when escalation is off.
func (a *App) setupEscalation(ctx, connectCtx context.Context) (*escalation.Publisher, error) {
	cfg := a.config.Escalation

	slog.Info("escalation configured",
		"enabled", cfg.Enabled,
		"queue", cfg.Queue,
		"webhook_enabled", cfg.Webhook.URL != "",
		"mattermost_enabled", cfg.Mattermost.WebhookURL != "",
	)

	if !cfg.Enabled {
		return nil, nil
	}

	var senders []escalation.Sender
	if cfg.Webhook.URL != "" {
		senders = append(senders, webhook.NewSender(webhook.Config{
			URL:     cfg.Webhook.URL,
			Secret:  cfg.Webhook.Secret,
			Timeout: cfg.Webhook.Timeout,
		}))
	}
	if cfg.Mattermost.WebhookURL != "" {
		senders = append(senders, mattermost.NewSender(mattermost.Config{
			WebhookURL: cfg.Mattermost.WebhookURL,
			Username:   cfg.Mattermost.Username,
			IconURL:    cfg.Mattermost.IconURL,
			Timeout:    cfg.Mattermost.Timeout,
		}))
	}
	if len(senders) == 0 {
		slog.Warn("escalation is enabled but no channel is configured: escalations will not be sent")
		return nil, nil
	}

	var queue escalation.Queue
	switch cfg.Queue {
	case config.QueueRedis:
		client, err := redis.Connect(connectCtx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		queue = redisqueue.New(client, cfg.Redis.Key)
	default:
		queue = escalation.NewMemoryQueue()
	}

	a.worker = escalation.NewWorker(escalation.WorkerConfig{
		NumWorkers:        cfg.Worker.NumWorkers,
		PollInterval:      cfg.Worker.PollInterval,
		MaxAttempts:       cfg.Worker.MaxAttempts,
		InitialBackoff:    cfg.Worker.InitialBackoff,
		MaxBackoff:        cfg.Worker.MaxBackoff,
		BackoffMultiplier: cfg.Worker.BackoffMultiplier,
	}, queue, senders...)
	a.worker.Start(ctx)
	a.queue = queue

	return escalation.NewPublisher(queue, a.worker.Channels()...), nil
}
