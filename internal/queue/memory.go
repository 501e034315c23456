// Package queue holds the in-process opportunity queue used in paper mode
// and whenever Redis is disabled.
package queue

import (
	"context"
	"sort"
	"sync"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// Memory is an OpportunityQueue backed by a map. It keeps the better signal
// per SYMBOL[:timeframe] key.
type Memory struct {
	mu      sync.Mutex
	entries map[string]domain.Opportunity
	stats   domain.QueueStats
}

// NewMemory creates an empty queue.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]domain.Opportunity)}
}

// Publish stores opp unless a better signal already holds its key.
func (m *Memory) Publish(_ context.Context, opp domain.Opportunity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := opp.QueueKey()
	if cur, ok := m.entries[key]; ok {
		if !opp.Better(cur) {
			m.stats.Discarded++
			return false, nil
		}
		m.stats.Replaced++
	}
	m.entries[key] = opp
	m.stats.Published++
	return true, nil
}

// PopBatch removes and returns the best n signals.
func (m *Memory) PopBatch(_ context.Context, n int) ([]domain.Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.rankedLocked(n)
	for _, o := range out {
		delete(m.entries, o.QueueKey())
	}
	m.stats.Popped += int64(len(out))
	return out, nil
}

// Peek returns the best n signals without removing them.
func (m *Memory) Peek(_ context.Context, n int) ([]domain.Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rankedLocked(n), nil
}

// Discard removes the signal under key.
func (m *Memory) Discard(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return false, nil
	}
	delete(m.entries, key)
	m.stats.Discarded++
	return true, nil
}

// Requeue puts opp back with its score shifted by boost. A better signal
// published in the meantime wins.
func (m *Memory) Requeue(_ context.Context, opp domain.Opportunity, boost float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	opp.Score += boost
	key := opp.QueueKey()
	if cur, ok := m.entries[key]; ok && !opp.Better(cur) {
		return nil
	}
	m.entries[key] = opp
	return nil
}

// Clear drops every signal.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Discarded += int64(len(m.entries))
	m.entries = make(map[string]domain.Opportunity)
	return nil
}

// Stats returns counters and the age of the oldest queued signal.
func (m *Memory) Stats(_ context.Context) (domain.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stats
	st.Size = len(m.entries)
	for _, o := range m.entries {
		if st.Oldest.IsZero() || o.Timestamp.Before(st.Oldest) {
			st.Oldest = o.Timestamp
		}
	}
	return st, nil
}

func (m *Memory) rankedLocked(n int) []domain.Opportunity {
	all := make([]domain.Opportunity, 0, len(m.entries))
	for _, o := range m.entries {
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Better(all[j]) })
	if n > 0 && n < len(all) {
		all = all[:n]
	}
	return all
}
