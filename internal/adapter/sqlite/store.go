package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/corona-report-bot/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Store keeps the single latest observation.
// It implements pipeline.ObservationStore.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Store returns the observation store backed by d.
func (d *DB) Store(clock clockwork.Clock) *Store {
	return &Store{db: d.db, clock: clock}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Latest returns the stored observation, or nil when none has been committed.
func (s *Store) Latest(ctx context.Context) (*domain.Observation, error) {
	return latest(ctx, s.db)
}

// IsNew reports whether candidate differs in date from the stored observation.
func (s *Store) IsNew(ctx context.Context, candidate domain.Observation) (bool, error) {
	prev, err := s.Latest(ctx)
	if err != nil {
		return false, err
	}
	return prev == nil || !prev.SameDate(candidate), nil
}

// Commit replaces the stored observation with candidate in one transaction
// and returns what it replaced along with any decreasing counts.
func (s *Store) Commit(ctx context.Context, candidate domain.Observation) (domain.CommitResult, error) {
	counts, err := json.Marshal(candidate.Counts)
	if err != nil {
		return domain.CommitResult{}, fmt.Errorf("encode counts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.CommitResult{}, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	prev, err := latest(ctx, tx)
	if err != nil {
		return domain.CommitResult{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO observations (id, date, counts, committed_at) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			date = excluded.date,
			counts = excluded.counts,
			committed_at = excluded.committed_at`,
		domain.Day(candidate.Date).Format(time.DateOnly),
		string(counts),
		s.clock.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return domain.CommitResult{}, fmt.Errorf("write observation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.CommitResult{}, fmt.Errorf("commit observation: %w", err)
	}

	return domain.CommitResult{
		Previous:  prev,
		Anomalies: domain.CheckMonotonic(prev, candidate),
	}, nil
}

func latest(ctx context.Context, q querier) (*domain.Observation, error) {
	var date, counts string
	err := q.QueryRowContext(ctx, `SELECT date, counts FROM observations WHERE id = 1`).Scan(&date, &counts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read observation: %w", err)
	}

	d, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return nil, fmt.Errorf("decode observation date %q: %w", date, err)
	}
	obs := domain.Observation{Date: d}
	if err := json.Unmarshal([]byte(counts), &obs.Counts); err != nil {
		return nil, fmt.Errorf("decode observation counts: %w", err)
	}
	return &obs, nil
}
