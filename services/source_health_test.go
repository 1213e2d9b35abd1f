package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHealthStore records saves in memory for restart tests
type fakeHealthStore struct {
	states map[string]SourceState
	saves  int
}

func newFakeHealthStore() *fakeHealthStore {
	return &fakeHealthStore{states: make(map[string]SourceState)}
}

func (f *fakeHealthStore) SaveSourceHealth(state SourceState) error {
	f.states[state.Name] = state
	f.saves++
	return nil
}

func (f *fakeHealthStore) LoadSourceHealth() ([]SourceState, error) {
	out := make([]SourceState, 0, len(f.states))
	for _, s := range f.states {
		out = append(out, s)
	}
	return out, nil
}

func TestCooldownDuration(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, 30 * time.Minute},
		{2, time.Hour},
		{3, 2 * time.Hour},
		{4, 4 * time.Hour},
		{5, 4 * time.Hour},
		{12, 4 * time.Hour},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CooldownDuration(tt.failures), "failures=%d", tt.failures)
	}
}

func TestSourceHealthTracker_FailureOpensCooldown(t *testing.T) {
	tracker := NewSourceHealthTracker([]string{"yahoo_finance"}, nil)

	clock := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return clock }

	assert.True(t, tracker.IsAvailable("yahoo_finance"))

	tracker.RecordFailure("yahoo_finance")
	assert.False(t, tracker.IsAvailable("yahoo_finance"))

	// Still cooling 29 minutes in
	clock = clock.Add(29 * time.Minute)
	assert.False(t, tracker.IsAvailable("yahoo_finance"))

	// Available again once the 30 minute cooldown elapses
	clock = clock.Add(time.Minute)
	assert.True(t, tracker.IsAvailable("yahoo_finance"))
}

func TestSourceHealthTracker_BackoffDoubles(t *testing.T) {
	tracker := NewSourceHealthTracker([]string{"finnhub"}, nil)

	clock := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return clock }

	tracker.RecordFailure("finnhub")
	tracker.RecordFailure("finnhub")

	states := tracker.Snapshot()
	require.Len(t, states, 1)
	assert.Equal(t, 2, states[0].ConsecutiveFailures)
	require.NotNil(t, states[0].CooldownUntil)
	assert.Equal(t, clock.Add(time.Hour), *states[0].CooldownUntil)

	// The second failure's cooldown is an hour, not 30 minutes
	clock = clock.Add(45 * time.Minute)
	assert.False(t, tracker.IsAvailable("finnhub"))
	clock = clock.Add(15 * time.Minute)
	assert.True(t, tracker.IsAvailable("finnhub"))
}

func TestSourceHealthTracker_SuccessResets(t *testing.T) {
	tracker := NewSourceHealthTracker([]string{"alpha_vantage"}, nil)

	clock := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return clock }

	tracker.RecordFailure("alpha_vantage")
	tracker.RecordFailure("alpha_vantage")
	tracker.RecordFailure("alpha_vantage")
	assert.False(t, tracker.IsAvailable("alpha_vantage"))

	tracker.RecordSuccess("alpha_vantage")
	assert.True(t, tracker.IsAvailable("alpha_vantage"))

	states := tracker.Snapshot()
	require.Len(t, states, 1)
	assert.Zero(t, states[0].ConsecutiveFailures)
	assert.Nil(t, states[0].CooldownUntil)
	assert.NotNil(t, states[0].LastSuccess)

	// Ladder restarts at 30 minutes after a success
	tracker.RecordFailure("alpha_vantage")
	states = tracker.Snapshot()
	require.NotNil(t, states[0].CooldownUntil)
	assert.Equal(t, clock.Add(30*time.Minute), *states[0].CooldownUntil)
}

func TestSourceHealthTracker_UnknownSource(t *testing.T) {
	tracker := NewSourceHealthTracker([]string{"yahoo_finance"}, nil)

	assert.False(t, tracker.IsAvailable("bloomberg"))
	tracker.RecordFailure("bloomberg")
	tracker.RecordSuccess("bloomberg")
	assert.Len(t, tracker.Snapshot(), 1)
}

func TestSourceHealthTracker_SnapshotKeepsPriorityOrder(t *testing.T) {
	names := []string{"yahoo_finance", "alpha_vantage", "finnhub"}
	tracker := NewSourceHealthTracker(names, nil)

	states := tracker.Snapshot()
	require.Len(t, states, 3)
	for i, name := range names {
		assert.Equal(t, name, states[i].Name)
	}
}

func TestSourceHealthTracker_PersistsAcrossRestart(t *testing.T) {
	store := newFakeHealthStore()

	clock := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)

	tracker := NewSourceHealthTracker([]string{"yahoo_finance"}, store)
	tracker.now = func() time.Time { return clock }
	tracker.RecordFailure("yahoo_finance")
	assert.Positive(t, store.saves)

	// A fresh tracker loads the cooldown instead of starting clean
	reloaded := NewSourceHealthTracker([]string{"yahoo_finance"}, store)
	reloaded.now = func() time.Time { return clock.Add(10 * time.Minute) }
	assert.False(t, reloaded.IsAvailable("yahoo_finance"))

	reloaded.now = func() time.Time { return clock.Add(31 * time.Minute) }
	assert.True(t, reloaded.IsAvailable("yahoo_finance"))
}
