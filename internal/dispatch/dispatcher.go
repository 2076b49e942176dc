// Package dispatch fans a rendered report out to every subscriber.
package dispatch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/couchcryptid/corona-report-bot/internal/domain"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrUnreachable marks a recipient that will never accept messages again,
// e.g. a chat that blocked the bot or no longer exists.
var ErrUnreachable = errors.New("recipient unreachable")

// Sender delivers one message to one recipient.
type Sender interface {
	Send(ctx context.Context, to domain.SubscriberID, text string) error
}

// Failure is a single undelivered message.
type Failure struct {
	ID        domain.SubscriberID
	Err       error
	Permanent bool // Err wraps ErrUnreachable
}

// Result partitions the recipients of one dispatch. Both slices are in
// ascending id order.
type Result struct {
	Succeeded []domain.SubscriberID
	Failed    []Failure
}

// Permanent returns the ids that should be dropped from the registry.
func (r Result) Permanent() []domain.SubscriberID {
	var out []domain.SubscriberID
	for _, f := range r.Failed {
		if f.Permanent {
			out = append(out, f.ID)
		}
	}
	return out
}

// Options tune delivery.
type Options struct {
	Concurrency int           // parallel sends
	SendTimeout time.Duration // bound on each send
	Rate        float64       // messages per second across all recipients; 0 disables pacing
}

// Dispatcher sends a message to many recipients independently. One failing
// recipient never stops the others, and nothing is retried.
type Dispatcher struct {
	sender  Sender
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Dispatcher.
func New(sender Sender, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), max(1, opts.Concurrency))
	}
	return &Dispatcher{sender: sender, opts: opts, limiter: limiter, logger: logger}
}

// Dispatch sends text to every recipient and reports the outcome per recipient.
// Every recipient ends up in exactly one of Succeeded or Failed.
func (d *Dispatcher) Dispatch(ctx context.Context, text string, recipients []domain.SubscriberID) Result {
	var (
		mu  sync.Mutex
		res Result
	)

	g := new(errgroup.Group)
	g.SetLimit(d.opts.Concurrency)

	for _, id := range recipients {
		g.Go(func() error {
			err := d.sendOne(ctx, id, text)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				permanent := errors.Is(err, ErrUnreachable)
				res.Failed = append(res.Failed, Failure{ID: id, Err: err, Permanent: permanent})
				d.logger.Warn("send report failed", "chat_id", id, "permanent", permanent, "error", err)
				return nil
			}
			res.Succeeded = append(res.Succeeded, id)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	slices.Sort(res.Succeeded)
	slices.SortFunc(res.Failed, func(a, b Failure) int { return cmp.Compare(a.ID, b.ID) })
	return res
}

func (d *Dispatcher) sendOne(ctx context.Context, id domain.SubscriberID, text string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}

	sendCtx := ctx
	if d.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.opts.SendTimeout)
		defer cancel()
	}
	return d.sender.Send(sendCtx, id, text)
}
