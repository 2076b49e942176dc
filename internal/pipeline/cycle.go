package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/corona-report-bot/internal/adapter/source"
	"github.com/couchcryptid/corona-report-bot/internal/dispatch"
	"github.com/couchcryptid/corona-report-bot/internal/domain"
	"github.com/google/uuid"
)

// Outcome classifies how a cycle ended.
type Outcome string

const (
	OutcomePublished  Outcome = "published"
	OutcomeUnchanged  Outcome = "unchanged"
	OutcomeFetchError Outcome = "fetch_error"
	OutcomeParseError Outcome = "parse_error"
	OutcomeStoreError Outcome = "store_error"
	OutcomeTimeout    Outcome = "timeout"
	OutcomePanic      Outcome = "panic"
)

// CycleReport summarizes one cycle.
type CycleReport struct {
	ID       string
	Outcome  Outcome
	Date     time.Time           // date of the parsed workbook, if any
	Report   *domain.DeltaReport // set when a new observation was committed
	Delivery dispatch.Result
	Removed  []domain.SubscriberID
}

func (s *Scheduler) runCycle(parent context.Context) (rep CycleReport, err error) {
	rep.ID = uuid.NewString()
	logger := s.logger.With("cycle_id", rep.ID)
	start := s.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			rep.Outcome = OutcomePanic
			err = fmt.Errorf("cycle panicked: %v", r)
			logger.Error("cycle panicked", "panic", r)
		}
		s.metrics.Cycles.WithLabelValues(string(rep.Outcome)).Inc()
		s.metrics.CycleDuration.Observe(s.clock.Since(start).Seconds())
		if err != nil {
			s.notify(parent, logger, fmt.Sprintf("Cycle %s failed (%s): %v", rep.ID, rep.Outcome, err))
		}
	}()

	ctx := parent
	if s.opts.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.opts.CycleTimeout)
		defer cancel()
	}

	logger.Debug("cycle started")

	data, err := s.stages.Fetcher.Fetch(ctx)
	if err != nil {
		rep.Outcome = OutcomeFetchError
		reason := "unknown"
		var ferr *source.FetchError
		if errors.As(err, &ferr) {
			reason = string(ferr.Reason)
			if ferr.Reason == source.ReasonTimeout && ctx.Err() != nil {
				rep.Outcome = OutcomeTimeout
			}
		}
		s.metrics.FetchErrors.WithLabelValues(reason).Inc()
		logger.Error("fetch workbook failed", "reason", reason, "error", err)
		return rep, err
	}

	obs, err := s.stages.Parser.Parse(data)
	if err != nil {
		rep.Outcome = OutcomeParseError
		reason := "unknown"
		var perr *domain.ParseError
		if errors.As(err, &perr) {
			reason = string(perr.Reason)
		}
		s.metrics.ParseErrors.WithLabelValues(reason).Inc()
		logger.Error("parse workbook failed", "reason", reason, "error", err)
		return rep, err
	}
	rep.Date = obs.Date
	logger = logger.With("date", obs.Date.Format(time.DateOnly))
	s.ready.Store(true)
	s.metrics.LastSuccess.Set(float64(s.clock.Now().Unix()))

	isNew, err := s.stages.Store.IsNew(ctx, obs)
	if err != nil {
		rep.Outcome = OutcomeStoreError
		logger.Error("compare with stored observation failed", "error", err)
		return rep, err
	}
	if !isNew {
		rep.Outcome = OutcomeUnchanged
		logger.Info("workbook unchanged, nothing to report")
		return rep, nil
	}

	// Read recipients before committing so a registry failure cannot swallow the update.
	recipients, err := s.stages.Registry.All(ctx)
	if err != nil {
		rep.Outcome = OutcomeStoreError
		logger.Error("list subscribers failed", "error", err)
		return rep, err
	}

	if err := ctx.Err(); err != nil {
		rep.Outcome = OutcomeTimeout
		logger.Error("cycle deadline passed before commit", "error", err)
		return rep, fmt.Errorf("abandon cycle before commit: %w", err)
	}

	committed, err := s.stages.Store.Commit(ctx, obs)
	if err != nil {
		rep.Outcome = OutcomeStoreError
		logger.Error("commit observation failed", "error", err)
		return rep, err
	}

	report := domain.ComputeDelta(s.catalog, committed.Previous, obs)
	report.Annotate(committed.Anomalies)
	rep.Report = &report
	for _, a := range report.Anomalies {
		s.metrics.Anomalies.WithLabelValues(string(a.Kind)).Inc()
		logger.Warn("data anomaly", "kind", a.Kind, "region", a.Region, "metric", a.Metric,
			"previous", a.Previous, "current", a.Current)
	}

	// The update is consumed; every recipient gets it even if the cycle
	// deadline passes. SendTimeout still bounds each send.
	text := s.stages.Formatter.Format(report)
	rep.Delivery = s.stages.Dispatcher.Dispatch(context.WithoutCancel(parent), text, recipients)
	s.recordDelivery(rep.Delivery)

	rep.Removed = s.removeUnreachable(parent, logger, rep.Delivery)
	s.refreshSubscriberGauge(parent, logger)
	s.publish(parent, logger, report)

	rep.Outcome = OutcomePublished
	logger.Info("report dispatched",
		"baseline", report.Baseline,
		"recipients", len(recipients),
		"succeeded", len(rep.Delivery.Succeeded),
		"failed", len(rep.Delivery.Failed),
		"removed", len(rep.Removed),
		"anomalies", len(report.Anomalies),
	)
	s.notify(parent, logger, fmt.Sprintf("Report for %s sent to %d of %d chats (%d removed, %d anomalies).",
		obs.Date.Format(time.DateOnly), len(rep.Delivery.Succeeded), len(recipients), len(rep.Removed), len(report.Anomalies)))
	return rep, nil
}

func (s *Scheduler) recordDelivery(res dispatch.Result) {
	s.metrics.MessagesSent.Add(float64(len(res.Succeeded)))
	for _, f := range res.Failed {
		kind := "transient"
		if f.Permanent {
			kind = "permanent"
		}
		s.metrics.MessagesFailed.WithLabelValues(kind).Inc()
	}
}

// removeUnreachable runs on the parent context so an expired cycle deadline
// does not keep dead chats in the registry.
func (s *Scheduler) removeUnreachable(ctx context.Context, logger *slog.Logger, res dispatch.Result) []domain.SubscriberID {
	var removed []domain.SubscriberID
	for _, id := range res.Permanent() {
		if err := s.stages.Registry.Remove(ctx, id); err != nil {
			logger.Error("remove unreachable subscriber failed", "chat_id", id, "error", err)
			continue
		}
		removed = append(removed, id)
		s.metrics.SubscribersRemoved.Inc()
		logger.Info("unreachable subscriber removed", "chat_id", id)
	}
	return removed
}

func (s *Scheduler) refreshSubscriberGauge(ctx context.Context, logger *slog.Logger) {
	n, err := s.stages.Registry.Count(ctx)
	if err != nil {
		logger.Warn("count subscribers failed", "error", err)
		return
	}
	s.metrics.Subscribers.Set(float64(n))
}

func (s *Scheduler) publish(ctx context.Context, logger *slog.Logger, report domain.DeltaReport) {
	if s.stages.Publisher == nil {
		return
	}
	if err := s.stages.Publisher.Publish(ctx, report); err != nil {
		s.metrics.ReportsPublished.WithLabelValues("error").Inc()
		logger.Error("publish delta report failed", "error", err)
		return
	}
	s.metrics.ReportsPublished.WithLabelValues("success").Inc()
}

func (s *Scheduler) notify(ctx context.Context, logger *slog.Logger, text string) {
	if s.stages.Notifier == nil {
		return
	}
	if err := s.stages.Notifier.Notify(ctx, text); err != nil {
		logger.Warn("admin notification failed", "error", err)
	}
}
