package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/corona-report-bot/internal/adapter/http"
	"github.com/couchcryptid/corona-report-bot/internal/adapter/telegram"
	"github.com/couchcryptid/corona-report-bot/internal/observability"
	"golang.org/x/sync/errgroup"
)

func serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true, observability.NewMetrics())
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	if n, err := a.registry.Count(ctx); err == nil {
		a.metrics.Subscribers.Set(float64(n))
		logger.Info("subscribers loaded", "count", n)
	}

	sched := a.scheduler(a.store, a.registry, a.telegram)

	// getUpdates holds the connection for pollWait; give the poller its own client.
	poller := telegram.NewClient(a.cfg.TelegramToken, a.cfg.TelegramAPIURL, pollWait+a.cfg.SendTimeout, logger)
	bot := telegram.NewBot(poller, a.registry, a.store, a.formatter, sched, a.notifier, a.catalog, telegram.BotOptions{
		AdminChatID: a.cfg.AdminChatID,
		PollWait:    pollWait,
		ReportEvery: a.cfg.PollInterval,
		Clock:       a.clock,
	}, logger)

	srv := httpadapter.NewServer(a.cfg.HTTPAddr, readiness{db: a.db, scheduler: sched}, statusSource{a.store, a.registry}, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return bot.Run(gctx) })

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if err := ignoreCanceled(err); err != nil {
			logger.Error("worker error", "error", err)
		}
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, abandoning running cycle")
	}

	logger.Info("shutdown complete")
	return nil
}
