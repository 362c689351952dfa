package services

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"spendwise/internal/cache"
	"spendwise/internal/core"
	"spendwise/internal/log"
)

const analyticsCacheSize = 256

// AggregateStore streams the raw rows analytics are computed from.
type AggregateStore interface {
	AggregateRows(ctx context.Context, dr core.DateRange, confirmedOnly bool, yield func(core.AggregateRow) error) error
}

// AnalyticsService computes statistics over non-hidden expenses. Results
// are cached per operation and range until the next write.
type AnalyticsService struct {
	store  AggregateStore
	cache  *cache.LRUCache[any]
	group  singleflight.Group
	gen    atomic.Uint64
	logger *log.Logger
}

// NewAnalyticsService caches results for ttl. A ttl of zero disables
// caching; identical concurrent queries are still collapsed.
func NewAnalyticsService(store AggregateStore, ttl time.Duration, logger *log.Logger) *AnalyticsService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	s := &AnalyticsService{store: store, logger: logger.WithComponent(log.ComponentAnalytics)}
	if ttl > 0 {
		s.cache = cache.NewLRUCache[any](analyticsCacheSize, ttl)
	}
	return s
}

// Cache exposes the result cache for periodic expiry sweeps. It is nil
// when caching is disabled.
func (s *AnalyticsService) Cache() *cache.LRUCache[any] {
	return s.cache
}

// CacheStats reports result cache counters; all zero when caching is
// disabled.
func (s *AnalyticsService) CacheStats() cache.Stats {
	if s.cache == nil {
		return cache.Stats{}
	}
	return s.cache.Stats()
}

// InvalidateAll drops cached results. Queries already running when it is
// called do not repopulate the cache.
func (s *AnalyticsService) InvalidateAll() {
	s.gen.Add(1)
	if s.cache != nil {
		s.cache.Purge()
	}
}

func (s *AnalyticsService) Summary(ctx context.Context, dr core.DateRange) (core.Summary, error) {
	return cached(ctx, s, "summary", dr, func() (core.Summary, error) {
		total := decimal.Zero
		count := 0
		err := s.store.AggregateRows(ctx, dr, false, func(r core.AggregateRow) error {
			total = total.Add(r.Amount)
			count++
			return nil
		})
		if err != nil {
			return core.Summary{}, err
		}
		return core.Summary{
			Start:            dr.Start.Format(core.DateLayout),
			End:              dr.End.Format(core.DateLayout),
			Total:            core.RoundCents(total),
			DailyAverage:     core.RoundCents(total.Div(decimal.NewFromInt(int64(dr.Days())))),
			TransactionCount: count,
		}, nil
	})
}

func (s *AnalyticsService) SpendingByChannel(ctx context.Context, dr core.DateRange) ([]core.ChannelTotal, error) {
	out, err := cached(ctx, s, "channel", dr, func() ([]core.ChannelTotal, error) {
		sums, err := s.sumBy(ctx, dr, false, func(r core.AggregateRow) string { return r.Channel })
		if err != nil {
			return nil, err
		}
		out := make([]core.ChannelTotal, len(sums))
		for i, g := range sums {
			out[i] = core.ChannelTotal{Channel: g.key, Total: g.total}
		}
		return out, nil
	})
	return slices.Clone(out), err
}

func (s *AnalyticsService) SpendingByCategoryL1(ctx context.Context, dr core.DateRange) ([]core.CategoryTotal, error) {
	out, err := cached(ctx, s, "category_l1", dr, func() ([]core.CategoryTotal, error) {
		sums, err := s.sumBy(ctx, dr, true, func(r core.AggregateRow) string { return r.UserCategoryL1 })
		if err != nil {
			return nil, err
		}
		out := make([]core.CategoryTotal, len(sums))
		for i, g := range sums {
			out[i] = core.CategoryTotal{Category: g.key, Total: g.total}
		}
		return out, nil
	})
	return slices.Clone(out), err
}

// Trend returns one point per bucket that has transactions, ascending.
func (s *AnalyticsService) Trend(ctx context.Context, dr core.DateRange, g core.Granularity) ([]core.TrendPoint, error) {
	strategy, err := GetBucketStrategy(g)
	if err != nil {
		return nil, err
	}
	out, err := cached(ctx, s, "trend:"+string(g), dr, func() ([]core.TrendPoint, error) {
		buckets := map[string]decimal.Decimal{}
		err := s.store.AggregateRows(ctx, dr, false, func(r core.AggregateRow) error {
			k := strategy.Key(r.TransactionTime)
			buckets[k] = buckets[k].Add(r.Amount)
			return nil
		})
		if err != nil {
			return nil, err
		}
		out := make([]core.TrendPoint, 0, len(buckets))
		for k, v := range buckets {
			out = append(out, core.TrendPoint{Bucket: k, Total: core.RoundCents(v)})
		}
		slices.SortFunc(out, func(a, b core.TrendPoint) int { return cmp.Compare(a.Bucket, b.Bucket) })
		s.logger.DebugContext(ctx, "Trend bucketed", log.FieldGranularity, g, "buckets", len(out))
		return out, nil
	})
	return slices.Clone(out), err
}

type groupTotal struct {
	key   string
	total decimal.Decimal
}

// sumBy sums rows per non-empty key, largest spending first.
func (s *AnalyticsService) sumBy(ctx context.Context, dr core.DateRange, confirmedOnly bool, key func(core.AggregateRow) string) ([]groupTotal, error) {
	sums := map[string]decimal.Decimal{}
	err := s.store.AggregateRows(ctx, dr, confirmedOnly, func(r core.AggregateRow) error {
		if k := key(r); k != "" {
			sums[k] = sums[k].Add(r.Amount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]groupTotal, 0, len(sums))
	for k, v := range sums {
		out = append(out, groupTotal{key: k, total: core.RoundCents(v)})
	}
	slices.SortFunc(out, func(a, b groupTotal) int {
		if c := b.total.Abs().Cmp(a.total.Abs()); c != 0 {
			return c
		}
		return cmp.Compare(a.key, b.key)
	})
	return out, nil
}

// cached validates dr, then serves op from the cache or computes it once
// for all concurrent callers.
func cached[T any](ctx context.Context, s *AnalyticsService, op string, dr core.DateRange, compute func() (T, error)) (T, error) {
	var zero T
	if err := validateRange(dr); err != nil {
		return zero, err
	}

	gen := s.gen.Load()
	key := fmt.Sprintf("%d|%s|%s", gen, op, dr.Key())

	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.(T), nil
		}
	}

	start := time.Now()
	v, err, _ := s.group.Do(key, func() (any, error) {
		res, err := compute()
		if err != nil {
			return nil, err
		}
		if s.cache != nil && s.gen.Load() == gen {
			s.cache.Set(key, res)
		}
		return res, nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Aggregation failed",
			log.FieldOperation, log.OpAggregate,
			"query", op,
			log.FieldError, err)
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	s.logger.DebugContext(ctx, "Aggregation computed",
		"query", op,
		"range", dr.Key(),
		log.FieldDuration, time.Since(start).Milliseconds())
	return v.(T), nil
}

func validateRange(dr core.DateRange) error {
	if dr.Start.IsZero() || dr.End.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", core.ErrValidation)
	}
	if dr.Start.After(dr.End) {
		return fmt.Errorf("%w: start date is after end date", core.ErrValidation)
	}
	return nil
}
