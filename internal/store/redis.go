package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Gonzalo32/daily-trading/internal/decision"
	"github.com/Gonzalo32/daily-trading/internal/model"
	"github.com/Gonzalo32/daily-trading/internal/sample"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. The status API is the
// main reader, so the hot keys are the day snapshot and outcome counts.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertSample(ctx context.Context, smp *sample.Sample) error {
	if err := s.primary.InsertSample(ctx, smp); err != nil {
		return err
	}
	// Invalidate; the next read re-populates.
	s.rdb.Del(ctx, outcomeCountsKey(), samplesKey(smp.Symbol))
	return nil
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.TradeRecord) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) SaveDaySnapshot(ctx context.Context, snap model.DaySnapshot) error {
	if err := s.primary.SaveDaySnapshot(ctx, snap); err != nil {
		return err
	}
	s.cacheSnapshot(ctx, snap)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListSamples(ctx context.Context, symbol string, limit int) ([]sample.Sample, error) {
	data, err := s.rdb.Get(ctx, samplesKey(symbol)).Bytes()
	if err == nil {
		var samples []sample.Sample
		if json.Unmarshal(data, &samples) == nil && len(samples) >= limit {
			return samples[:limit], nil
		}
	}

	samples, err := s.primary.ListSamples(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(samples); err == nil {
		s.rdb.Set(ctx, samplesKey(symbol), data, s.ttl)
	}
	return samples, nil
}

func (s *CachedStore) CountSamplesByOutcome(ctx context.Context) (map[decision.Outcome]int, error) {
	data, err := s.rdb.Get(ctx, outcomeCountsKey()).Bytes()
	if err == nil {
		var counts map[decision.Outcome]int
		if json.Unmarshal(data, &counts) == nil {
			return counts, nil
		}
	}

	counts, err := s.primary.CountSamplesByOutcome(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(counts); err == nil {
		s.rdb.Set(ctx, outcomeCountsKey(), data, s.ttl)
	}
	return counts, nil
}

func (s *CachedStore) GetDaySnapshot(ctx context.Context, day time.Time) (*model.DaySnapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey(day)).Bytes()
	if err == nil {
		var snap model.DaySnapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	snap, err := s.primary.GetDaySnapshot(ctx, day)
	if err != nil {
		return nil, err
	}

	s.cacheSnapshot(ctx, *snap)
	return snap, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTradesByDay(ctx context.Context, day time.Time) ([]model.TradeRecord, error) {
	return s.primary.ListTradesByDay(ctx, day)
}

func (s *CachedStore) ListTradesBySymbol(ctx context.Context, symbol string) ([]model.TradeRecord, error) {
	return s.primary.ListTradesBySymbol(ctx, symbol)
}

// --- Cache helpers ---

func (s *CachedStore) cacheSnapshot(ctx context.Context, snap model.DaySnapshot) {
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, snapshotKey(snap.Day), data, s.ttl)
	}
}

func samplesKey(symbol string) string { return fmt.Sprintf("samples:%s", symbol) }
func outcomeCountsKey() string        { return "samples:outcome_counts" }
func snapshotKey(day time.Time) string {
	return fmt.Sprintf("day_snapshot:%s", truncateDay(day).Format("2006-01-02"))
}
