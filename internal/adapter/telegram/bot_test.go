package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/corona-report-bot/internal/adapter/memory"
	"github.com/couchcryptid/corona-report-bot/internal/domain"
	"github.com/couchcryptid/corona-report-bot/internal/pipeline"
	"github.com/couchcryptid/corona-report-bot/internal/report"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminChat = 999

type sentMessage struct {
	To   domain.SubscriberID
	Text string
}

// scriptedAPI hands out queued update batches, then blocks until the
// context ends.
type scriptedAPI struct {
	mu      sync.Mutex
	batches [][]Update
	errs    []error
	offsets []int64
	sent    []sentMessage
}

func (s *scriptedAPI) GetUpdates(ctx context.Context, offset int64, _ time.Duration) ([]Update, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, offset)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		s.mu.Unlock()
		return nil, err
	}
	if len(s.batches) > 0 {
		b := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *scriptedAPI) Send(_ context.Context, to domain.SubscriberID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{To: to, Text: text})
	return nil
}

func (s *scriptedAPI) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type fakeCycler struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeCycler) TryRunCycle(_ context.Context) (pipeline.CycleReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return pipeline.CycleReport{ID: "c1", Outcome: pipeline.OutcomeFetchError}, f.err
	}
	return pipeline.CycleReport{ID: "c1", Outcome: pipeline.OutcomeUnchanged}, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

type failingStore struct{}

func (failingStore) Latest(context.Context) (*domain.Observation, error) {
	return nil, errors.New("database is locked")
}

type botHarness struct {
	api      *scriptedAPI
	registry *memory.Registry
	store    *memory.Store
	cycler   *fakeCycler
	notifier *recordingNotifier
	bot      *Bot
}

func newBotHarness(t *testing.T, seed *domain.Observation) *botHarness {
	t.Helper()
	cat := domain.DefaultCatalog()
	formatter, err := report.NewFormatter(cat, []string{"freiburg"})
	require.NoError(t, err)

	h := &botHarness{
		api:      &scriptedAPI{},
		registry: memory.NewRegistry(),
		store:    memory.NewStore(seed),
		cycler:   &fakeCycler{},
		notifier: &recordingNotifier{},
	}
	h.bot = NewBot(h.api, h.registry, h.store, formatter, h.cycler, h.notifier, cat, BotOptions{
		AdminChatID: adminChat,
		ReportEvery: 15 * time.Minute,
	}, discardLogger())
	return h
}

func message(chatID int64, text string) Message {
	return Message{Chat: Chat{ID: chatID, FirstName: "Anna", Username: "anna"}, Text: text}
}

func TestBot_StartSubscribes(t *testing.T) {
	h := newBotHarness(t, nil)

	h.bot.HandleMessage(t.Context(), message(5, "/start"))

	ok, err := h.registry.Contains(t.Context(), 5)
	require.NoError(t, err)
	assert.True(t, ok)

	sent := h.api.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.SubscriberID(5), sent[0].To)
	assert.True(t, strings.HasPrefix(sent[0].Text, "Hey Anna, danke für deine Anmeldung 🥳."))
	assert.Contains(t, sent[0].Text, "alle 15 Minuten")
	assert.Contains(t, sent[0].Text, "/stop")

	assert.Equal(t, []string{"Chat 5 @anna Anna subscribed."}, h.notifier.texts)
}

func TestBot_GreetingWithoutInterval(t *testing.T) {
	h := newBotHarness(t, nil)
	h.bot.opts.ReportEvery = 0

	h.bot.HandleMessage(t.Context(), message(5, "/start"))

	text := h.api.messages()[0].Text
	assert.Contains(t, text, "(ich schaue regelmäßig nach)")
	assert.NotContains(t, text, "alle regelmäßig")
}

func TestBot_StartTwiceKeepsOneSubscription(t *testing.T) {
	h := newBotHarness(t, nil)

	h.bot.HandleMessage(t.Context(), message(5, "/start"))
	h.bot.HandleMessage(t.Context(), message(5, "/start@CoronaBwBot"))

	n, err := h.registry.Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, h.api.messages(), 2)
}

func TestBot_StopUnsubscribes(t *testing.T) {
	h := newBotHarness(t, nil)
	require.NoError(t, h.registry.Add(t.Context(), 5))

	h.bot.HandleMessage(t.Context(), message(5, "/stop"))

	ok, err := h.registry.Contains(t.Context(), 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, textStop, h.api.messages()[0].Text)

	// Stopping when not subscribed is not an error.
	h.bot.HandleMessage(t.Context(), message(6, "/stop"))
	assert.Equal(t, textStop, h.api.messages()[1].Text)
}

func TestBot_Help(t *testing.T) {
	h := newBotHarness(t, nil)

	h.bot.HandleMessage(t.Context(), message(5, "/HELP"))

	require.Len(t, h.api.messages(), 1)
	assert.Equal(t, textHelp, h.api.messages()[0].Text)
	assert.Equal(t, []string{"Chat 5 @anna Anna requested help."}, h.notifier.texts)
}

func TestBot_UnknownText(t *testing.T) {
	h := newBotHarness(t, nil)

	h.bot.HandleMessage(t.Context(), message(5, "Wie viele Fälle gibt es?"))
	h.bot.HandleMessage(t.Context(), message(5, "/weather"))

	for _, m := range h.api.messages() {
		assert.Equal(t, textUnknown, m.Text)
	}
	assert.Len(t, h.api.messages(), 2)
	assert.Equal(t, []string{
		"Chat 5 @anna Anna sent message: Wie viele Fälle gibt es?",
		"Chat 5 @anna Anna sent message: /weather",
	}, h.notifier.texts)
}

func TestBot_Report(t *testing.T) {
	t.Run("no data yet", func(t *testing.T) {
		h := newBotHarness(t, nil)
		h.bot.HandleMessage(t.Context(), message(5, "/report"))
		assert.Equal(t, textNoReport, h.api.messages()[0].Text)
	})

	t.Run("latest observation", func(t *testing.T) {
		cat := domain.DefaultCatalog()
		obs := domain.Observation{
			Date:   time.Date(2020, time.June, 30, 0, 0, 0, 0, time.UTC),
			Counts: map[domain.RegionID]domain.Counts{},
		}
		for _, r := range cat.All() {
			obs.Counts[r.ID] = domain.Counts{Infections: 100, Deaths: 1}
		}
		h := newBotHarness(t, &obs)

		h.bot.HandleMessage(t.Context(), message(5, "/report"))

		text := h.api.messages()[0].Text
		assert.True(t, strings.HasPrefix(text, "Aktueller Corona-Stand vom 30.06.2020:"))
		assert.Contains(t, text, "<b>Freiburg im Breisgau:</b>")
		assert.Contains(t, text, "• <b>100</b> Infektionen insgesamt")

		// Only the requesting chat gets the status.
		require.Len(t, h.api.messages(), 1)
		assert.Equal(t, domain.SubscriberID(5), h.api.messages()[0].To)
	})

	t.Run("store error", func(t *testing.T) {
		h := newBotHarness(t, nil)
		h.bot.store = failingStore{}
		h.bot.HandleMessage(t.Context(), message(5, "/report"))
		assert.Equal(t, textFailed, h.api.messages()[0].Text)
	})
}

func TestBot_Crawl(t *testing.T) {
	t.Run("admin triggers a cycle", func(t *testing.T) {
		h := newBotHarness(t, nil)
		h.bot.HandleMessage(t.Context(), message(adminChat, "/crawl"))
		h.bot.wg.Wait()

		assert.Equal(t, 1, h.cycler.calls)
		assert.Equal(t, textCrawlOK, h.api.messages()[0].Text)
	})

	t.Run("cycle already running", func(t *testing.T) {
		h := newBotHarness(t, nil)
		h.cycler.err = pipeline.ErrAlreadyRunning
		h.bot.HandleMessage(t.Context(), message(adminChat, "/crawl"))
		h.bot.wg.Wait()

		assert.Equal(t, textCrawlBusy, h.api.messages()[0].Text)
	})

	t.Run("cycle failed", func(t *testing.T) {
		h := newBotHarness(t, nil)
		h.cycler.err = errors.New("fetch workbook: 503")
		h.bot.HandleMessage(t.Context(), message(adminChat, "/crawl"))
		h.bot.wg.Wait()

		assert.Equal(t, textFailed, h.api.messages()[0].Text)
	})

	t.Run("other chats are refused", func(t *testing.T) {
		h := newBotHarness(t, nil)
		h.bot.HandleMessage(t.Context(), message(5, "/crawl"))
		h.bot.wg.Wait()

		assert.Zero(t, h.cycler.calls)
		assert.Equal(t, textNotAllowed, h.api.messages()[0].Text)
	})
}

func TestBot_Run_AdvancesOffset(t *testing.T) {
	h := newBotHarness(t, nil)
	h.api.batches = [][]Update{
		{
			{UpdateID: 100, Message: &Message{Chat: Chat{ID: 1}, Text: "/start"}},
			{UpdateID: 101},
		},
		{
			{UpdateID: 102, Message: &Message{Chat: Chat{ID: 2}, Text: "/start"}},
		},
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- h.bot.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, _ := h.registry.Count(t.Context())
		return n == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	assert.Equal(t, []int64{0, 102, 103}, h.api.offsets)
}

func TestBot_Run_BacksOffAfterErrors(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newBotHarness(t, nil)
	h.bot.clock = clock
	h.api.errs = []error{
		&APIError{Method: "getUpdates", StatusCode: 429, RetryAfter: 30 * time.Second},
	}
	h.api.batches = [][]Update{
		{{UpdateID: 1, Message: &Message{Chat: Chat{ID: 1}, Text: "/start"}}},
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.bot.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(29 * time.Second)
	n, _ := h.registry.Count(t.Context())
	assert.Zero(t, n, "still waiting for retry_after")

	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		n, _ := h.registry.Count(t.Context())
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestAdminNotifier(t *testing.T) {
	api := &scriptedAPI{}
	n := NewAdminNotifier(api, adminChat)

	require.NoError(t, n.Notify(t.Context(), "Chat 5 <Anna> subscribed."))

	assert.Equal(t, []sentMessage{{To: adminChat, Text: "<code>Chat 5 &lt;Anna&gt; subscribed.</code>"}}, api.messages())
}

func TestAdminNotifier_Disabled(t *testing.T) {
	n := NewAdminNotifier(&scriptedAPI{}, 0)
	assert.Nil(t, n)
	assert.NoError(t, n.Notify(t.Context(), "ignored"))
}

func TestCommand(t *testing.T) {
	tests := map[string]string{
		"/start":              "/start",
		"  /Stop  now":        "/stop",
		"/report@CoronaBwBot": "/report",
		"hallo /start":        "",
		"":                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, command(in), in)
	}
}

func TestHumanInterval(t *testing.T) {
	assert.Equal(t, "alle 15 Minuten", humanInterval(15*time.Minute))
	assert.Equal(t, "jede Stunde", humanInterval(time.Hour))
	assert.Equal(t, "alle 2 Stunden", humanInterval(2*time.Hour))
	assert.Equal(t, "alle 90 Minuten", humanInterval(90*time.Minute))
	assert.Equal(t, "jede Minute", humanInterval(time.Minute))
	assert.Equal(t, "regelmäßig", humanInterval(0))
}
