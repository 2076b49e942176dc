package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/corona-report-bot/internal/domain"
	"github.com/couchcryptid/corona-report-bot/internal/pipeline"
	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"
)

const (
	textStop = "Ok, ich sende dir ab sofort keine Corona-Berichte mehr. " +
		"Wenn du die Berichte wieder erhalten möchtest, tippe einfach /start."
	textHelp = "Tippe:\n" +
		"/start, um dich für den täglichen Corona-Bericht anzumelden;\n" +
		"/help, um diese Hilfe-Nachricht erneut anzuzeigen;\n" +
		"/stop, um dich von den täglichen Corona-Berichten abzumelden;\n" +
		"/report, um den aktuellen Corona-Bericht anzuzeigen."
	textUnknown = "Entschuldige, das habe ich nicht verstanden. Ich bin leider ein ziemlich dummer Bot " +
		"und verstehe deshalb nur die Kommandos die mir mein Programmierer beigebracht hat " +
		"und unter /help aufgelistet sind."
	textNoReport   = "Noch kein Bericht verfügbar. Sobald ich die ersten Zahlen abgerufen habe, kannst du es erneut versuchen."
	textFailed     = "Ups, das hat nicht geklappt. Bitte versuche es später noch einmal."
	textCrawlOK    = "Ok."
	textCrawlBusy  = "Es läuft bereits ein Abruf."
	textNotAllowed = "Dieses Kommando ist nur für den Betreiber des Bots verfügbar."
)

const maxPollBackoff = 2 * time.Minute

// Updater is the Bot API surface the poller needs.
type Updater interface {
	GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]Update, error)
	Send(ctx context.Context, to domain.SubscriberID, text string) error
}

// Registry stores the subscribed chats.
type Registry interface {
	Add(ctx context.Context, id domain.SubscriberID) error
	Remove(ctx context.Context, id domain.SubscriberID) error
}

// LatestStore returns the most recently committed observation.
type LatestStore interface {
	Latest(ctx context.Context) (*domain.Observation, error)
}

// StatusFormatter renders the cumulative numbers of one observation.
type StatusFormatter interface {
	FormatStatus(report domain.DeltaReport) string
}

// Cycler runs a pipeline cycle on demand.
type Cycler interface {
	TryRunCycle(ctx context.Context) (pipeline.CycleReport, error)
}

// BotOptions configure the command poller.
type BotOptions struct {
	AdminChatID  int64         // 0 disables /crawl and admin events
	PollWait     time.Duration // long-poll timeout passed to getUpdates
	RetryBackoff time.Duration // first pause after a failed poll, doubled while failures continue
	ReportEvery  time.Duration // mentioned in the /start greeting
	Clock        clockwork.Clock
}

// Bot answers chat commands by long-polling getUpdates.
type Bot struct {
	api       Updater
	registry  Registry
	store     LatestStore
	formatter StatusFormatter
	cycler    Cycler
	notifier  pipeline.Notifier
	catalog   *domain.Catalog
	opts      BotOptions
	clock     clockwork.Clock
	logger    *slog.Logger

	wg sync.WaitGroup
}

// NewBot creates a Bot. notifier may be nil.
func NewBot(api Updater, registry Registry, store LatestStore, formatter StatusFormatter, cycler Cycler,
	notifier pipeline.Notifier, catalog *domain.Catalog, opts BotOptions, logger *slog.Logger) *Bot {
	if opts.PollWait <= 0 {
		opts.PollWait = 25 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Second
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Bot{
		api:       api,
		registry:  registry,
		store:     store,
		formatter: formatter,
		cycler:    cycler,
		notifier:  notifier,
		catalog:   catalog,
		opts:      opts,
		clock:     clock,
		logger:    logger,
	}
}

// Run polls for updates until ctx is cancelled, then waits for manually
// triggered cycles to finish.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("telegram poller started", "poll_wait", b.opts.PollWait)
	defer b.wg.Wait()

	var offset int64
	backoff := b.opts.RetryBackoff
	for {
		updates, err := b.api.GetUpdates(ctx, offset, b.opts.PollWait)
		if ctx.Err() != nil {
			b.logger.Info("telegram poller stopping")
			return nil
		}
		if err != nil {
			wait := backoff
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > wait {
				wait = apiErr.RetryAfter
			}
			b.logger.Warn("get updates failed", "error", err, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil
			case <-b.clock.After(wait):
			}
			backoff = retry.NextBackoff(backoff, maxPollBackoff)
			continue
		}
		backoff = b.opts.RetryBackoff

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil {
				continue
			}
			b.HandleMessage(ctx, *u.Message)
		}
	}
}

// HandleMessage reacts to one incoming message.
func (b *Bot) HandleMessage(ctx context.Context, msg Message) {
	chat := domain.SubscriberID(msg.Chat.ID)
	logger := b.logger.With("chat_id", msg.Chat.ID)

	switch command(msg.Text) {
	case "/start":
		if err := b.registry.Add(ctx, chat); err != nil {
			logger.Error("subscribe failed", "error", err)
			b.reply(ctx, logger, chat, textFailed)
			return
		}
		logger.Info("chat subscribed")
		b.reply(ctx, logger, chat, b.greeting(msg.Chat))
		b.notifyAdmin(ctx, logger, fmt.Sprintf("Chat %s subscribed.", chatLabel(msg.Chat)))

	case "/stop":
		if err := b.registry.Remove(ctx, chat); err != nil {
			logger.Error("unsubscribe failed", "error", err)
			b.reply(ctx, logger, chat, textFailed)
			return
		}
		logger.Info("chat unsubscribed")
		b.reply(ctx, logger, chat, textStop)
		b.notifyAdmin(ctx, logger, fmt.Sprintf("Chat %s unsubscribed.", chatLabel(msg.Chat)))

	case "/help":
		b.reply(ctx, logger, chat, textHelp)
		b.notifyAdmin(ctx, logger, fmt.Sprintf("Chat %s requested help.", chatLabel(msg.Chat)))

	case "/report":
		b.reply(ctx, logger, chat, b.status(ctx, logger))
		b.notifyAdmin(ctx, logger, fmt.Sprintf("Chat %s requested a report.", chatLabel(msg.Chat)))

	case "/crawl":
		if b.opts.AdminChatID == 0 || msg.Chat.ID != b.opts.AdminChatID {
			logger.Warn("crawl requested by non-admin chat")
			b.reply(ctx, logger, chat, textNotAllowed)
			return
		}
		b.crawl(ctx, logger, chat)

	default:
		logger.Debug("unrecognized message", "text", msg.Text)
		b.reply(ctx, logger, chat, textUnknown)
		b.notifyAdmin(ctx, logger, fmt.Sprintf("Chat %s sent message: %s", chatLabel(msg.Chat), msg.Text))
	}
}

func (b *Bot) greeting(c Chat) string {
	return fmt.Sprintf("Hey %s, danke für deine Anmeldung 🥳. Ich sende dir ab sofort einen Bericht mit den "+
		"aktuellen Corona Infektions- und Todesfällen in Baden-Württemberg, sobald neue Zahlen veröffentlicht werden "+
		"(ich schaue %s nach). Wenn du die Berichte nicht mehr erhalten willst, tippe einfach /stop.",
		html.EscapeString(c.GreetingName()), humanInterval(b.opts.ReportEvery))
}

func (b *Bot) status(ctx context.Context, logger *slog.Logger) string {
	latest, err := b.store.Latest(ctx)
	if err != nil {
		logger.Error("load latest observation failed", "error", err)
		return textFailed
	}
	if latest == nil {
		return textNoReport
	}
	return b.formatter.FormatStatus(domain.ComputeDelta(b.catalog, nil, *latest))
}

func (b *Bot) crawl(ctx context.Context, logger *slog.Logger, chat domain.SubscriberID) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		rep, err := b.cycler.TryRunCycle(ctx)
		switch {
		case errors.Is(err, pipeline.ErrAlreadyRunning):
			b.reply(ctx, logger, chat, textCrawlBusy)
		case err != nil:
			logger.Warn("manual cycle failed", "cycle_id", rep.ID, "error", err)
			b.reply(ctx, logger, chat, textFailed)
		default:
			logger.Info("manual cycle finished", "cycle_id", rep.ID, "outcome", rep.Outcome)
			b.reply(ctx, logger, chat, textCrawlOK)
		}
	}()
}

func (b *Bot) reply(ctx context.Context, logger *slog.Logger, chat domain.SubscriberID, text string) {
	if err := b.api.Send(ctx, chat, text); err != nil {
		logger.Warn("reply failed", "error", err)
	}
}

func (b *Bot) notifyAdmin(ctx context.Context, logger *slog.Logger, text string) {
	if b.notifier == nil {
		return
	}
	if err := b.notifier.Notify(ctx, text); err != nil {
		logger.Warn("admin notification failed", "error", err)
	}
}

// command extracts "/name" from "/name@BotName args".
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}

// humanInterval phrases how often the bot checks for new numbers.
func humanInterval(d time.Duration) string {
	switch {
	case d <= 0:
		return "regelmäßig"
	case d == time.Hour:
		return "jede Stunde"
	case d == time.Minute:
		return "jede Minute"
	case d%time.Hour == 0:
		return fmt.Sprintf("alle %d Stunden", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("alle %d Minuten", d/time.Minute)
	}
	return "alle " + d.String()
}
