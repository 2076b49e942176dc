package telegram

import (
	"context"
	"html"

	"github.com/couchcryptid/corona-report-bot/internal/domain"
)

// Sender delivers a message to one chat.
type Sender interface {
	Send(ctx context.Context, to domain.SubscriberID, text string) error
}

// AdminNotifier forwards operational events to the admin chat as
// preformatted text.
type AdminNotifier struct {
	sender Sender
	chatID domain.SubscriberID
}

// NewAdminNotifier returns nil when chatID is 0, so callers can pass the
// result straight through as an optional notifier.
func NewAdminNotifier(sender Sender, chatID int64) *AdminNotifier {
	if chatID == 0 {
		return nil
	}
	return &AdminNotifier{sender: sender, chatID: domain.SubscriberID(chatID)}
}

// Notify sends text to the admin chat. A nil notifier drops the event.
func (n *AdminNotifier) Notify(ctx context.Context, text string) error {
	if n == nil {
		return nil
	}
	return n.sender.Send(ctx, n.chatID, "<code>"+html.EscapeString(text)+"</code>")
}
