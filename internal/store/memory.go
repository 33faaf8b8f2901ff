package store

import (
	"context"
	"sync"
	"time"

	"github.com/Gonzalo32/daily-trading/internal/decision"
	"github.com/Gonzalo32/daily-trading/internal/model"
	"github.com/Gonzalo32/daily-trading/internal/sample"
)

// MemoryStore implements Store with in-memory slices. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	samples   []sample.Sample
	trades    []model.TradeRecord
	snapshots map[time.Time]model.DaySnapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[time.Time]model.DaySnapshot),
	}
}

func (s *MemoryStore) InsertSample(_ context.Context, smp *sample.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, *smp)
	return nil
}

func (s *MemoryStore) ListSamples(_ context.Context, symbol string, limit int) ([]sample.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []sample.Sample
	for i := len(s.samples) - 1; i >= 0 && len(result) < limit; i-- {
		if s.samples[i].Symbol == symbol {
			result = append(result, s.samples[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) CountSamplesByOutcome(_ context.Context) (map[decision.Outcome]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[decision.Outcome]int)
	for _, smp := range s.samples {
		counts[smp.DecisionOutcome]++
	}
	return counts, nil
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListTradesByDay(_ context.Context, day time.Time) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day = truncateDay(day)
	var result []model.TradeRecord
	for _, t := range s.trades {
		if truncateDay(t.ClosedAt).Equal(day) {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListTradesBySymbol(_ context.Context, symbol string) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeRecord
	for _, t := range s.trades {
		if t.Symbol == symbol {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) SaveDaySnapshot(_ context.Context, snap model.DaySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[truncateDay(snap.Day)] = snap
	return nil
}

func (s *MemoryStore) GetDaySnapshot(_ context.Context, day time.Time) (*model.DaySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[truncateDay(day)]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy to avoid external mutation.
	out := snap
	return &out, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
