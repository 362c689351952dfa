// Package services provides business logic and orchestration services.
//
// This file holds the strategies that map a transaction time to its trend
// bucket. Each granularity has its own strategy, looked up in a registry.

package services

import (
	"fmt"
	"time"

	"spendwise/internal/core"
)

// BucketStrategy maps a transaction time to the key of its trend bucket.
// Keys of one strategy sort lexically in calendar order.
type BucketStrategy interface {
	Key(t time.Time) string
}

// DailyBucket keys by calendar day, YYYY-MM-DD.
type DailyBucket struct{}

func (DailyBucket) Key(t time.Time) string {
	return t.Format(core.DateLayout)
}

// WeeklyBucket keys by ISO-8601 week, YYYY-Www. The year is the ISO year,
// so 2024-12-30 belongs to 2025-W01.
type WeeklyBucket struct{}

func (WeeklyBucket) Key(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// MonthlyBucket keys by calendar month, YYYY-MM.
type MonthlyBucket struct{}

func (MonthlyBucket) Key(t time.Time) string {
	return t.Format("2006-01")
}

var bucketStrategies = map[core.Granularity]BucketStrategy{
	core.Daily:   DailyBucket{},
	core.Weekly:  WeeklyBucket{},
	core.Monthly: MonthlyBucket{},
}

// GetBucketStrategy returns the strategy for g or a validation error.
func GetBucketStrategy(g core.Granularity) (BucketStrategy, error) {
	s, ok := bucketStrategies[g]
	if !ok {
		return nil, fmt.Errorf("%w: unknown granularity %q", core.ErrValidation, g)
	}
	return s, nil
}
