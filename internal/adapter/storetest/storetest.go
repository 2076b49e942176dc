// Package storetest holds behaviour tests shared by every observation store
// and subscriber registry implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/couchcryptid/corona-report-bot/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ObservationStore mirrors pipeline.ObservationStore.
type ObservationStore interface {
	Latest(ctx context.Context) (*domain.Observation, error)
	IsNew(ctx context.Context, candidate domain.Observation) (bool, error)
	Commit(ctx context.Context, candidate domain.Observation) (domain.CommitResult, error)
}

// Registry mirrors pipeline.SubscriberRegistry plus Contains.
type Registry interface {
	Add(ctx context.Context, id domain.SubscriberID) error
	Remove(ctx context.Context, id domain.SubscriberID) error
	Contains(ctx context.Context, id domain.SubscriberID) (bool, error)
	All(ctx context.Context) ([]domain.SubscriberID, error)
	Count(ctx context.Context) (int, error)
}

var (
	Day1 = time.Date(2020, time.June, 29, 0, 0, 0, 0, time.UTC)
	Day2 = time.Date(2020, time.June, 30, 0, 0, 0, 0, time.UTC)
)

func obs(date time.Time, inf, deaths int64) domain.Observation {
	return domain.Observation{Date: date, Counts: map[domain.RegionID]domain.Counts{
		"freiburg": {Infections: inf, Deaths: deaths},
		"bw":       {Infections: inf * 10, Deaths: deaths * 10},
	}}
}

// RunObservationStore exercises IsNew and Commit against a fresh store from newStore.
func RunObservationStore(t *testing.T, newStore func(t *testing.T) ObservationStore) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		s := newStore(t)
		latest, err := s.Latest(ctx)
		require.NoError(t, err)
		assert.Nil(t, latest)

		isNew, err := s.IsNew(ctx, obs(Day1, 1, 0))
		require.NoError(t, err)
		assert.True(t, isNew)
	})

	t.Run("commit then same date is not new", func(t *testing.T) {
		s := newStore(t)
		res, err := s.Commit(ctx, obs(Day1, 100, 2))
		require.NoError(t, err)
		assert.Nil(t, res.Previous)
		assert.Empty(t, res.Anomalies)

		isNew, err := s.IsNew(ctx, obs(Day1.Add(15*time.Hour), 999, 9))
		require.NoError(t, err)
		assert.False(t, isNew, "same reporting day must not be new")

		isNew, err = s.IsNew(ctx, obs(Day2, 100, 2))
		require.NoError(t, err)
		assert.True(t, isNew)
	})

	t.Run("commit returns previous and replaces it", func(t *testing.T) {
		s := newStore(t)
		first := obs(Day1, 100, 2)
		_, err := s.Commit(ctx, first)
		require.NoError(t, err)

		res, err := s.Commit(ctx, obs(Day2, 105, 3))
		require.NoError(t, err)
		require.NotNil(t, res.Previous)
		assert.True(t, res.Previous.Date.Equal(Day1))
		if diff := cmp.Diff(first.Counts, res.Previous.Counts); diff != "" {
			t.Fatalf("previous counts mismatch (-want +got):\n%s", diff)
		}
		assert.Empty(t, res.Anomalies)

		latest, err := s.Latest(ctx)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.True(t, latest.Date.Equal(Day2))
		assert.Equal(t, int64(105), latest.Counts["freiburg"].Infections)
	})

	t.Run("decrease is committed and reported", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Commit(ctx, obs(Day1, 100, 2))
		require.NoError(t, err)

		res, err := s.Commit(ctx, obs(Day2, 98, 2))
		require.NoError(t, err)
		want := []domain.Anomaly{
			{Kind: domain.AnomalyDecrease, Region: "bw", Metric: domain.MetricInfections, Previous: 1000, Current: 980},
			{Kind: domain.AnomalyDecrease, Region: "freiburg", Metric: domain.MetricInfections, Previous: 100, Current: 98},
		}
		if diff := cmp.Diff(want, res.Anomalies); diff != "" {
			t.Fatalf("anomalies mismatch (-want +got):\n%s", diff)
		}

		latest, err := s.Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(98), latest.Counts["freiburg"].Infections)
	})

	t.Run("latest is a copy", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Commit(ctx, obs(Day1, 100, 2))
		require.NoError(t, err)

		latest, err := s.Latest(ctx)
		require.NoError(t, err)
		latest.Counts["freiburg"] = domain.Counts{}

		again, err := s.Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(100), again.Counts["freiburg"].Infections)
	})
}

// RunRegistry exercises set semantics against a fresh registry from newRegistry.
func RunRegistry(t *testing.T, newRegistry func(t *testing.T) Registry) {
	ctx := context.Background()

	t.Run("add is idempotent", func(t *testing.T) {
		r := newRegistry(t)
		require.NoError(t, r.Add(ctx, 42))
		require.NoError(t, r.Add(ctx, 42))

		n, err := r.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ok, err := r.Contains(ctx, 42)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		r := newRegistry(t)
		require.NoError(t, r.Add(ctx, 7))
		require.NoError(t, r.Remove(ctx, 7))
		require.NoError(t, r.Remove(ctx, 7))
		require.NoError(t, r.Remove(ctx, 12345))

		ids, err := r.All(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)

		ok, err := r.Contains(ctx, 7)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("all is sorted", func(t *testing.T) {
		r := newRegistry(t)
		for _, id := range []domain.SubscriberID{300, -1001234567890, 5, 42} {
			require.NoError(t, r.Add(ctx, id))
		}

		ids, err := r.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []domain.SubscriberID{-1001234567890, 5, 42, 300}, ids)
	})
}
