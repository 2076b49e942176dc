package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/corona-report-bot/internal/dispatch"
	"github.com/couchcryptid/corona-report-bot/internal/domain"
	"github.com/couchcryptid/corona-report-bot/internal/observability"
	"github.com/jonboulle/clockwork"
)

// ErrAlreadyRunning is returned by TryRunCycle while another cycle is active.
var ErrAlreadyRunning = errors.New("a cycle is already running")

// Fetcher retrieves the raw workbook.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Parser turns workbook bytes into one observation.
type Parser interface {
	Parse(data []byte) (domain.Observation, error)
}

// ObservationStore holds the latest committed observation.
type ObservationStore interface {
	Latest(ctx context.Context) (*domain.Observation, error)
	IsNew(ctx context.Context, candidate domain.Observation) (bool, error)
	Commit(ctx context.Context, candidate domain.Observation) (domain.CommitResult, error)
}

// SubscriberRegistry is the set of chats that receive reports.
type SubscriberRegistry interface {
	Remove(ctx context.Context, id domain.SubscriberID) error
	All(ctx context.Context) ([]domain.SubscriberID, error)
	Count(ctx context.Context) (int, error)
}

// Formatter renders a delta report as message text.
type Formatter interface {
	Format(report domain.DeltaReport) string
}

// Dispatcher delivers text to recipients.
type Dispatcher interface {
	Dispatch(ctx context.Context, text string, recipients []domain.SubscriberID) dispatch.Result
}

// ReportPublisher streams delta reports to downstream consumers.
type ReportPublisher interface {
	Publish(ctx context.Context, report domain.DeltaReport) error
}

// Notifier informs the operator about noteworthy events.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Stages are the collaborators of a cycle. Publisher and Notifier are optional.
type Stages struct {
	Fetcher    Fetcher
	Parser     Parser
	Store      ObservationStore
	Registry   SubscriberRegistry
	Formatter  Formatter
	Dispatcher Dispatcher
	Publisher  ReportPublisher
	Notifier   Notifier
}

// Options control scheduling.
type Options struct {
	Interval     time.Duration
	CycleTimeout time.Duration
	RunOnStart   bool
	Clock        clockwork.Clock // defaults to the real clock
}

// Scheduler runs at most one fetch-parse-diff-dispatch cycle at a time.
type Scheduler struct {
	stages  Stages
	catalog *domain.Catalog
	opts    Options
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	running atomic.Bool
	ready   atomic.Bool
	wg      sync.WaitGroup
}

// New creates a Scheduler.
func New(stages Stages, catalog *domain.Catalog, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		stages:  stages,
		catalog: catalog,
		opts:    opts,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil once a workbook has been fetched and parsed
// successfully, or an error describing why the service is not yet ready.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("no workbook has been parsed yet")
	}
	return nil
}

// Run ticks every Interval until ctx is cancelled. Ticks that arrive while a
// cycle is still running are dropped. Run waits for the active cycle before
// returning and never returns an error for a failed cycle.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.opts.Interval, "cycle_timeout", s.opts.CycleTimeout)
	s.metrics.SchedulerUp.Set(1)
	defer s.metrics.SchedulerUp.Set(0)

	ticker := s.clock.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	if s.opts.RunOnStart {
		s.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			s.wg.Wait()
			return nil
		case <-ticker.Chan():
			s.tick(ctx)
		}
	}
}

// TryRunCycle runs one cycle now and waits for it. It returns
// ErrAlreadyRunning without doing anything if a cycle is active.
func (s *Scheduler) TryRunCycle(ctx context.Context) (CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return CycleReport{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)
	return s.runCycle(ctx)
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.CyclesDropped.Inc()
		s.logger.Warn("previous cycle still running, tick dropped")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		_, _ = s.runCycle(ctx) // outcome is logged and counted inside
	}()
}
