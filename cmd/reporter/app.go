package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/corona-report-bot/internal/adapter/kafka"
	"github.com/couchcryptid/corona-report-bot/internal/adapter/source"
	"github.com/couchcryptid/corona-report-bot/internal/adapter/sqlite"
	"github.com/couchcryptid/corona-report-bot/internal/adapter/telegram"
	"github.com/couchcryptid/corona-report-bot/internal/adapter/xlsx"
	"github.com/couchcryptid/corona-report-bot/internal/config"
	"github.com/couchcryptid/corona-report-bot/internal/dispatch"
	"github.com/couchcryptid/corona-report-bot/internal/domain"
	"github.com/couchcryptid/corona-report-bot/internal/observability"
	"github.com/couchcryptid/corona-report-bot/internal/pipeline"
	"github.com/couchcryptid/corona-report-bot/internal/report"
	"github.com/jonboulle/clockwork"
)

const pollWait = 25 * time.Second

// app holds the wired collaborators shared by the subcommands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock
	catalog   *domain.Catalog
	db        *sqlite.DB
	store     *sqlite.Store
	registry  *sqlite.Registry
	formatter *report.Formatter
	telegram  *telegram.Client
	notifier  *telegram.AdminNotifier
	publisher *kafka.Publisher
}

// newApp loads the configuration and opens the database. Telegram and Kafka
// are only wired when withDelivery is set.
func newApp(ctx context.Context, withDelivery bool, metrics *observability.Metrics) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if withDelivery {
		if err := cfg.RequireTelegram(); err != nil {
			return nil, err
		}
	}

	a := &app{
		cfg:     cfg,
		logger:  observability.NewLogger(cfg),
		metrics: metrics,
		clock:   clockwork.NewRealClock(),
		catalog: domain.DefaultCatalog(),
	}

	a.formatter, err = report.NewFormatter(a.catalog, cfg.ReportRegions)
	if err != nil {
		return nil, fmt.Errorf("report regions: %w", err)
	}

	a.db, err = sqlite.Open(ctx, cfg.DBPath, a.logger)
	if err != nil {
		return nil, err
	}
	a.store = a.db.Store(a.clock)
	a.registry = a.db.Registry(a.clock)

	if withDelivery {
		a.telegram = telegram.NewClient(cfg.TelegramToken, cfg.TelegramAPIURL, cfg.SendTimeout, a.logger)
		a.notifier = telegram.NewAdminNotifier(a.telegram, cfg.AdminChatID)
		if cfg.KafkaEnabled {
			a.publisher = kafka.NewPublisher(cfg, a.clock, a.logger)
			a.logger.Info("kafka report stream enabled", "topic", cfg.KafkaReportTopic, "brokers", cfg.KafkaBrokers)
		}
	}
	return a, nil
}

// scheduler wires a Scheduler that delivers through sender to the given
// registry and store.
func (a *app) scheduler(store pipeline.ObservationStore, registry pipeline.SubscriberRegistry, sender dispatch.Sender) *pipeline.Scheduler {
	stages := pipeline.Stages{
		Fetcher:   source.NewFetcher(a.cfg.SpreadsheetURL, a.cfg.FetchTimeout, a.logger),
		Parser:    xlsx.NewParser(a.catalog),
		Store:     store,
		Registry:  registry,
		Formatter: a.formatter,
		Dispatcher: dispatch.New(sender, dispatch.Options{
			Concurrency: a.cfg.SendConcurrency,
			SendTimeout: a.cfg.SendTimeout,
			Rate:        a.cfg.SendRate,
		}, a.logger),
	}
	// Interface fields stay nil unless configured.
	if a.publisher != nil {
		stages.Publisher = a.publisher
	}
	if a.notifier != nil {
		stages.Notifier = a.notifier
	}
	return pipeline.New(stages, a.catalog, pipeline.Options{
		Interval:     a.cfg.PollInterval,
		CycleTimeout: a.cfg.CycleTimeout,
		RunOnStart:   a.cfg.RunOnStart,
		Clock:        a.clock,
	}, a.logger, a.metrics)
}

func (a *app) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("kafka publisher close error", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}
}

// readiness is ready once the database answers and a workbook was parsed.
type readiness struct {
	db        *sqlite.DB
	scheduler *pipeline.Scheduler
}

func (r readiness) CheckReadiness(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return r.scheduler.CheckReadiness(ctx)
}

// statusSource feeds /status.
type statusSource struct {
	*sqlite.Store
	*sqlite.Registry
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
