// Package bootstrap wires the stores, engine, runner and dispatcher shared by
// the API, scheduler and worker binaries.
package bootstrap

import (
	"database/sql"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/schedule-notify/internal/archive"
	"github.com/wolfman30/schedule-notify/internal/cache"
	appconfig "github.com/wolfman30/schedule-notify/internal/config"
	"github.com/wolfman30/schedule-notify/internal/delivery"
	"github.com/wolfman30/schedule-notify/internal/events"
	"github.com/wolfman30/schedule-notify/internal/extract"
	"github.com/wolfman30/schedule-notify/internal/inbound"
	"github.com/wolfman30/schedule-notify/internal/inbox"
	"github.com/wolfman30/schedule-notify/internal/integration"
	"github.com/wolfman30/schedule-notify/internal/notify"
	"github.com/wolfman30/schedule-notify/internal/observability/alerts"
	"github.com/wolfman30/schedule-notify/internal/observability/metrics"
	"github.com/wolfman30/schedule-notify/internal/queue"
	"github.com/wolfman30/schedule-notify/internal/runner"
	"github.com/wolfman30/schedule-notify/internal/schedules"
	"github.com/wolfman30/schedule-notify/internal/settings"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

// Deps are the process-level resources the services are built from. AWS and
// Redis are optional.
type Deps struct {
	Config     *appconfig.Config
	Logger     *logging.Logger
	Pool       *pgxpool.Pool
	SettingsDB *sql.DB
	Redis      *redis.Client
	AWS        *aws.Config
	Queues     Queues
	Registerer prometheus.Registerer
}

// Services holds every wired component.
type Services struct {
	Settings   *settings.Store
	Ledger     *extract.Ledger
	Engine     *extract.Engine
	Ticker     *extract.Ticker
	Schedules  *schedules.Store
	Messages   *delivery.Store
	Dispatcher *delivery.Dispatcher
	Runner     *runner.Runner
	Inbound    *inbound.Service
	Cache      *cache.Cache
	Archive    *archive.Store
	Metrics    *metrics.SchedulingMetrics
	Alerts     alerts.Alerter
	Location   *time.Location
}

// BuildServices wires the domain components from deps.
func BuildServices(deps Deps) (*Services, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if deps.Pool == nil || deps.SettingsDB == nil {
		return nil, errors.New("bootstrap: database is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	loc := cfg.Location()

	m := metrics.NewSchedulingMetrics(deps.Registerer)
	alerter := alerts.NewLogAlerter(logger, m)
	kv := cache.New(deps.Redis, logger)

	settingsStore := settings.NewStore(deps.SettingsDB)
	ledger := extract.NewLedger(deps.Pool)
	scheduleStore := schedules.NewStore(deps.Pool)
	messageStore := delivery.NewStore(deps.Pool)
	gateway := integration.NewClient(cfg.IntegrationBaseURL, cfg.IntegrationToken, logger)

	var inboxClient delivery.Inbox
	if cfg.InboxBaseURL != "" {
		inboxClient = inbox.NewClient(cfg.InboxBaseURL, cfg.InboxToken, logger)
	} else {
		logger.Warn("INBOX_BASE_URL not set; not-answered resends disabled")
	}

	var deduper events.Deduper = events.NewProcessedStore(deps.Pool)
	var sesClient notify.SESAPI
	var archiveStore *archive.Store
	if deps.AWS != nil {
		if cfg.EventsDedupTable != "" {
			deduper = events.NewDynamoDedupStore(dynamodb.NewFromConfig(*deps.AWS), cfg.EventsDedupTable)
		}
		if cfg.EmailProvider == "ses" {
			sesClient = sesv2.NewFromConfig(*deps.AWS)
		}
		if cfg.ArchiveBucket != "" {
			archiveStore = archive.NewStore(s3.NewFromConfig(*deps.AWS), cfg.ArchiveBucket, logger)
		}
	}

	emailSender := notify.NewEmailSender(notify.ProviderConfig{
		Provider:       cfg.EmailProvider,
		SendGridAPIKey: cfg.SendGridAPIKey,
		FromEmail:      cfg.EmailFrom,
		FromName:       cfg.EmailFromName,
	}, sesClient, logger)

	dispatcher := delivery.NewDispatcher(delivery.Config{
		Messages:  messageStore,
		Schedules: scheduleStore,
		Settings:  settingsStore,
		Gateway:   gateway,
		Inbox:     inboxClient,
		Cache:     kv,
		Deduper:   deduper,
		Channels: map[settings.RecipientType]delivery.Channel{
			settings.RecipientWhatsApp: delivery.NewWhatsAppChannel(queue.NewPublisher(deps.Queues.Send), loc),
			settings.RecipientEmail:    delivery.NewEmailChannel(settingsStore, emailSender, loc),
		},
		Metrics:  m,
		Alerts:   alerter,
		Logger:   logger,
		Location: loc,
	})

	runnerCfg := runner.Config{
		Ledger:      ledger,
		Gateway:     gateway,
		Schedules:   scheduleStore,
		Sender:      dispatcher,
		Metrics:     m,
		Alerts:      alerter,
		Logger:      logger,
		Location:    loc,
		Concurrency: cfg.RunnerConcurrency,
	}
	if archiveStore != nil {
		runnerCfg.Archive = archiveStore
	}

	engine := extract.NewEngine(ledger, extract.NewQueuePublisher(deps.Queues.Extract), logger,
		extract.WithLocation(loc),
		extract.WithLockTimeout(cfg.ExtractLockTimeout),
		extract.WithMetrics(m),
	)

	limiter := inbound.NewLimiter(kv, cfg.ActiveScheduleRateLimit, inbound.DefaultRateWindow, alerter, m, logger)
	inboundSvc := inbound.NewService(settingsStore, limiter, queue.NewPublisher(deps.Queues.ActiveSchedule),
		cfg.ActiveScheduleMaxBodyBytes, m, logger)

	return &Services{
		Settings:   settingsStore,
		Ledger:     ledger,
		Engine:     engine,
		Ticker:     extract.NewTicker(settingsStore, engine, logger).WithInterval(cfg.ExtractTickInterval),
		Schedules:  scheduleStore,
		Messages:   messageStore,
		Dispatcher: dispatcher,
		Runner:     runner.New(runnerCfg),
		Inbound:    inboundSvc,
		Cache:      kv,
		Archive:    archiveStore,
		Metrics:    m,
		Alerts:     alerter,
		Location:   loc,
	}, nil
}
