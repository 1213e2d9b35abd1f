package services

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocalStore(t *testing.T) (*LocalStore, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewLocalStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestLocalStore_SourceHealthRoundTrip(t *testing.T) {
	store, _ := newTestLocalStore(t)

	cooldown := time.Date(2026, 3, 20, 11, 0, 0, 0, time.UTC)
	failure := time.Date(2026, 3, 20, 10, 30, 0, 0, time.UTC)
	require.NoError(t, store.SaveSourceHealth(SourceState{
		Name:                "yahoo_finance",
		ConsecutiveFailures: 2,
		CooldownUntil:       &cooldown,
		LastFailure:         &failure,
	}))
	require.NoError(t, store.SaveSourceHealth(SourceState{Name: "finnhub"}))

	states, err := store.LoadSourceHealth()
	require.NoError(t, err)
	require.Len(t, states, 2)

	byName := map[string]SourceState{}
	for _, s := range states {
		byName[s.Name] = s
	}

	yahoo := byName["yahoo_finance"]
	assert.Equal(t, 2, yahoo.ConsecutiveFailures)
	require.NotNil(t, yahoo.CooldownUntil)
	assert.True(t, yahoo.CooldownUntil.Equal(cooldown))
	require.NotNil(t, yahoo.LastFailure)
	assert.True(t, yahoo.LastFailure.Equal(failure))
	assert.Nil(t, yahoo.LastSuccess)

	finnhub := byName["finnhub"]
	assert.Zero(t, finnhub.ConsecutiveFailures)
	assert.Nil(t, finnhub.CooldownUntil)
}

func TestLocalStore_SourceHealthUpsert(t *testing.T) {
	store, _ := newTestLocalStore(t)

	require.NoError(t, store.SaveSourceHealth(SourceState{Name: "yahoo_finance", ConsecutiveFailures: 1}))
	require.NoError(t, store.SaveSourceHealth(SourceState{Name: "yahoo_finance", ConsecutiveFailures: 3}))

	states, err := store.LoadSourceHealth()
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, 3, states[0].ConsecutiveFailures)
}

func TestLocalStore_RunMetricsNewestFirst(t *testing.T) {
	store, _ := newTestLocalStore(t)

	base := time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.ArchiveRunMetrics(RunMetricsRecord{
			RunLabel:          start.Format("run_20060102_150405"),
			StartTime:         start,
			EndTime:           start.Add(5 * time.Minute),
			DurationSeconds:   300,
			TotalStocks:       10,
			SuccessfulStocks:  9,
			FailedStocks:      1,
			TotalContracts:    900,
			ContractsPerStock: 100,
		}))
	}

	records, err := store.ListRunMetrics(0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.True(t, records[0].StartTime.After(records[1].StartTime))
	assert.True(t, records[1].StartTime.After(records[2].StartTime))

	limited, err := store.ListRunMetrics(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestLocalStore_PruneRunMetrics(t *testing.T) {
	store, _ := newTestLocalStore(t)

	old := time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
	for _, start := range []time.Time{old, recent} {
		require.NoError(t, store.ArchiveRunMetrics(RunMetricsRecord{
			RunLabel:  start.Format("run_20060102_150405"),
			StartTime: start,
			EndTime:   start.Add(time.Minute),
		}))
	}

	pruned, err := store.PruneRunMetrics(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	records, err := store.ListRunMetrics(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].StartTime.Equal(recent))
}

func TestLocalStore_SurvivesReopen(t *testing.T) {
	store, path := newTestLocalStore(t)

	require.NoError(t, store.SaveSourceHealth(SourceState{Name: "yahoo_finance", ConsecutiveFailures: 4}))
	require.NoError(t, store.Close())

	reopened, err := NewLocalStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	states, err := reopened.LoadSourceHealth()
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, 4, states[0].ConsecutiveFailures)
}
