package services

import (
	"log"
	"sync"
	"time"
)

const baseCooldown = 30 * time.Minute

// SourceState is the health bookkeeping for one upstream source
type SourceState struct {
	Name                string     `json:"name"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	CooldownUntil       *time.Time `json:"cooldown_until"`
	LastSuccess         *time.Time `json:"last_success"`
	LastFailure         *time.Time `json:"last_failure"`
}

// HealthStore persists source health across restarts
type HealthStore interface {
	SaveSourceHealth(state SourceState) error
	LoadSourceHealth() ([]SourceState, error)
}

// SourceHealthTracker tracks per-source failure counts and cooldowns.
// State is written through to the store on every mutation so a restart
// does not re-hammer a source that was just cooled down.
type SourceHealthTracker struct {
	mu      sync.Mutex
	order   []string
	sources map[string]*SourceState
	store   HealthStore
	now     func() time.Time
}

// NewSourceHealthTracker creates a tracker for the named sources, in
// priority order. A nil store keeps state in memory only.
func NewSourceHealthTracker(names []string, store HealthStore) *SourceHealthTracker {
	t := &SourceHealthTracker{
		order:   append([]string(nil), names...),
		sources: make(map[string]*SourceState, len(names)),
		store:   store,
		now:     time.Now,
	}
	for _, name := range names {
		t.sources[name] = &SourceState{Name: name}
	}

	if store != nil {
		persisted, err := store.LoadSourceHealth()
		if err != nil {
			log.Printf("Failed to load source health state: %v", err)
			return t
		}
		for _, state := range persisted {
			if existing, ok := t.sources[state.Name]; ok {
				*existing = state
			}
		}
	}

	return t
}

// CooldownDuration is the backoff for the given consecutive failure
// count: 30min, 1h, 2h, then capped at 4h.
func CooldownDuration(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	multiplier := 1 << (failures - 1)
	if multiplier > 8 {
		multiplier = 8
	}
	return time.Duration(multiplier) * baseCooldown
}

// RecordSuccess resets the failure count and clears any cooldown
func (t *SourceHealthTracker) RecordSuccess(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.sources[name]
	if !ok {
		return
	}

	now := t.now()
	state.ConsecutiveFailures = 0
	state.CooldownUntil = nil
	state.LastSuccess = &now

	t.persist(state)
}

// RecordFailure increments the failure count and extends the cooldown
func (t *SourceHealthTracker) RecordFailure(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.sources[name]
	if !ok {
		return
	}

	now := t.now()
	state.ConsecutiveFailures++
	state.LastFailure = &now
	until := now.Add(CooldownDuration(state.ConsecutiveFailures))
	state.CooldownUntil = &until

	log.Printf("Source %s failure #%d, cooldown until %s",
		name, state.ConsecutiveFailures, until.Format("15:04:05"))

	t.persist(state)
}

// IsAvailable reports whether the source is out of cooldown. An
// expired cooldown is cleared on read.
func (t *SourceHealthTracker) IsAvailable(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.sources[name]
	if !ok {
		return false
	}
	if state.CooldownUntil == nil {
		return true
	}
	if !t.now().Before(*state.CooldownUntil) {
		state.CooldownUntil = nil
		t.persist(state)
		return true
	}
	return false
}

// Snapshot returns a copy of all source states in priority order
func (t *SourceHealthTracker) Snapshot() []SourceState {
	t.mu.Lock()
	defer t.mu.Unlock()

	states := make([]SourceState, 0, len(t.order))
	for _, name := range t.order {
		if state, ok := t.sources[name]; ok {
			states = append(states, *state)
		}
	}
	return states
}

func (t *SourceHealthTracker) persist(state *SourceState) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveSourceHealth(*state); err != nil {
		log.Printf("Failed to persist source health for %s: %v", state.Name, err)
	}
}
