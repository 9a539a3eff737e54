package bootstrap

import (
	"context"
	"database/sql"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/schedule-notify/internal/config"
	"github.com/wolfman30/schedule-notify/internal/queue"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

// Runtime bundles the resources opened for one process together with the
// services built on them.
type Runtime struct {
	*Services
	Queues     Queues
	Pool       *pgxpool.Pool
	SettingsDB *sql.DB
	Redis      *redis.Client
}

// Open connects Postgres and Redis, selects the queues and builds the services.
// awsCfg may be nil when running fully in memory.
func Open(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, awsCfg *aws.Config, reg prometheus.Registerer) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("bootstrap: DATABASE_URL is required")
	}

	pool, err := ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	settingsDB, err := OpenSettingsDB(cfg.DatabaseURL)
	if err != nil {
		pool.Close()
		return nil, err
	}
	rt := &Runtime{
		Pool:       pool,
		SettingsDB: settingsDB,
		Redis:      BuildRedisClient(ctx, cfg, logger, true),
	}

	var sqsClient queue.SQSAPI
	if awsCfg != nil && !cfg.UseMemoryQueue {
		sqsClient = sqs.NewFromConfig(*awsCfg)
	}
	if rt.Queues, err = BuildQueues(cfg, sqsClient); err != nil {
		rt.Close()
		return nil, err
	}

	rt.Services, err = BuildServices(Deps{
		Config:     cfg,
		Logger:     logger,
		Pool:       pool,
		SettingsDB: settingsDB,
		Redis:      rt.Redis,
		AWS:        awsCfg,
		Queues:     rt.Queues,
		Registerer: reg,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// Close releases every opened resource.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if kq, ok := r.Queues.ChannelEvents.(*queue.KafkaQueue); ok {
		_ = kq.Close()
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	if r.SettingsDB != nil {
		_ = r.SettingsDB.Close()
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
}
