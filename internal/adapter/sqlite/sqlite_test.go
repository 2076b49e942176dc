package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/corona-report-bot/internal/adapter/storetest"
	"github.com/couchcryptid/corona-report-bot/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T, path string) *DB {
	t.Helper()
	db, err := Open(context.Background(), path, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestStore(t *testing.T) {
	storetest.RunObservationStore(t, func(t *testing.T) storetest.ObservationStore {
		return openTestDB(t, filepath.Join(t.TempDir(), "bot.db")).Store(clockwork.NewFakeClock())
	})
}

func TestRegistry(t *testing.T) {
	storetest.RunRegistry(t, func(t *testing.T) storetest.Registry {
		return openTestDB(t, filepath.Join(t.TempDir(), "bot.db")).Registry(clockwork.NewFakeClock())
	})
}

func TestStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.db")
	clock := clockwork.NewFakeClockAt(time.Date(2020, 6, 30, 17, 0, 0, 0, time.UTC))

	db, err := Open(ctx, path, discardLogger())
	require.NoError(t, err)
	_, err = db.Store(clock).Commit(ctx, domain.Observation{
		Date:   storetest.Day2,
		Counts: map[domain.RegionID]domain.Counts{"bw": {Infections: 35714, Deaths: 1822}},
	})
	require.NoError(t, err)
	require.NoError(t, db.Registry(clock).Add(ctx, 99))
	require.NoError(t, db.Close())

	reopened := openTestDB(t, path)

	latest, err := reopened.Store(clock).Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, storetest.Day2, latest.Date)
	assert.Equal(t, domain.Counts{Infections: 35714, Deaths: 1822}, latest.Counts["bw"])

	ids, err := reopened.Registry(clock).All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.SubscriberID{99}, ids)
}

func TestCommit_CanceledContextLeavesStoreUntouched(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "bot.db"))
	store := db.Store(clockwork.NewFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Commit(ctx, domain.Observation{Date: storetest.Day1, Counts: map[domain.RegionID]domain.Counts{}})
	require.Error(t, err)

	latest, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, latest)
}
