package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/couchcryptid/corona-report-bot/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Registry is the durable subscriber set.
type Registry struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Registry returns the subscriber registry backed by d.
func (d *DB) Registry(clock clockwork.Clock) *Registry {
	return &Registry{db: d.db, clock: clock}
}

// Add subscribes id. Adding an existing subscriber is a no-op.
func (r *Registry) Add(ctx context.Context, id domain.SubscriberID) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscribers (chat_id, created_at) VALUES (?, ?) ON CONFLICT (chat_id) DO NOTHING`,
		int64(id), r.clock.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("add subscriber %d: %w", id, err)
	}
	return nil
}

// Remove unsubscribes id. Removing an unknown subscriber is a no-op.
func (r *Registry) Remove(ctx context.Context, id domain.SubscriberID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM subscribers WHERE chat_id = ?`, int64(id)); err != nil {
		return fmt.Errorf("remove subscriber %d: %w", id, err)
	}
	return nil
}

// Contains reports whether id is subscribed.
func (r *Registry) Contains(ctx context.Context, id domain.SubscriberID) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscribers WHERE chat_id = ?`, int64(id)).Scan(&n); err != nil {
		return false, fmt.Errorf("lookup subscriber %d: %w", id, err)
	}
	return n > 0, nil
}

// All returns every subscriber in ascending order.
func (r *Registry) All(ctx context.Context) ([]domain.SubscriberID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT chat_id FROM subscribers ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var out []domain.SubscriberID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, domain.SubscriberID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return out, nil
}

// Count returns the number of subscribers.
func (r *Registry) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscribers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return n, nil
}
