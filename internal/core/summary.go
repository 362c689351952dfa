package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

type (
	// Granularity selects the calendar bucket for trend aggregation.
	Granularity string

	// DateRange is a closed interval of calendar days.
	DateRange struct {
		Start time.Time
		End   time.Time
	}

	Summary struct {
		Start            string          `json:"start_date"`
		End              string          `json:"end_date"`
		Total            decimal.Decimal `json:"total_expenses"`
		DailyAverage     decimal.Decimal `json:"average_daily_expenses"`
		TransactionCount int             `json:"transaction_count"`
	}

	ChannelTotal struct {
		Channel string          `json:"channel"`
		Total   decimal.Decimal `json:"total"`
	}

	TrendPoint struct {
		Bucket string          `json:"period"`
		Total  decimal.Decimal `json:"total"`
	}

	CategoryTotal struct {
		Category string          `json:"category"`
		Total    decimal.Decimal `json:"total"`
	}

	// AggregateRow is the raw primitive analytics are computed from.
	AggregateRow struct {
		TransactionTime time.Time
		Channel         string
		UserCategoryL1  string
		Amount          decimal.Decimal
	}
)

// ParseGranularity defaults to daily for an empty value.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case "":
		return Daily, nil
	case Daily, Weekly, Monthly:
		return g, nil
	}
	return "", fmt.Errorf("%w: unknown granularity %q", ErrValidation, s)
}

// NewDateRange validates both bounds. Times are truncated to their day.
func NewDateRange(start, end time.Time) (DateRange, error) {
	if start.IsZero() || end.IsZero() {
		return DateRange{}, fmt.Errorf("%w: start and end dates are required", ErrValidation)
	}
	s := truncateDay(start)
	e := truncateDay(end)
	if s.After(e) {
		return DateRange{}, fmt.Errorf("%w: start date %s is after end date %s",
			ErrValidation, s.Format(DateLayout), e.Format(DateLayout))
	}
	return DateRange{Start: s, End: e}, nil
}

// ParseDateRange parses YYYY-MM-DD bounds.
func ParseDateRange(start, end string) (DateRange, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" || end == "" {
		return DateRange{}, fmt.Errorf("%w: start and end dates are required", ErrValidation)
	}
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: bad start date %q", ErrValidation, start)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: bad end date %q", ErrValidation, end)
	}
	return NewDateRange(s, e)
}

// Days is the inclusive day count.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Bounds returns the half-open [start, end+1day) interval as stored
// timestamp strings.
func (r DateRange) Bounds() (from, until string) {
	return r.Start.Format(TimeLayout), r.End.AddDate(0, 0, 1).Format(TimeLayout)
}

func (r DateRange) Key() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
