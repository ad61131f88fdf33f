package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Period names one of the six calendar-relative windows.
type Period string

const (
	PeriodToday     Period = "today"
	PeriodYesterday Period = "yesterday"
	PeriodThisWeek  Period = "thisWeek"
	PeriodLastWeek  Period = "lastWeek"
	PeriodThisMonth Period = "thisMonth"
	PeriodLastMonth Period = "lastMonth"
)

// Periods lists every window in display order.
var Periods = []Period{
	PeriodToday, PeriodYesterday,
	PeriodThisWeek, PeriodLastWeek,
	PeriodThisMonth, PeriodLastMonth,
}

// PeriodBucket holds the sums for a single window.
type PeriodBucket struct {
	Income decimal.Decimal `json:"income"`
	Gross  decimal.Decimal `json:"gross"`
	Count  uint64          `json:"txCount"`
}

// Add accumulates one trade into the bucket.
func (b *PeriodBucket) Add(income, gross decimal.Decimal) {
	b.Income = b.Income.Add(income)
	b.Gross = b.Gross.Add(gross)
	b.Count++
}

// Equal compares buckets by value.
func (b PeriodBucket) Equal(o PeriodBucket) bool {
	return b.Count == o.Count && b.Income.Equal(o.Income) && b.Gross.Equal(o.Gross)
}

// ChainProfitSummary holds the six window buckets for a chain.
type ChainProfitSummary struct {
	Chain     string       `json:"chain"`
	Today     PeriodBucket `json:"today"`
	Yesterday PeriodBucket `json:"yesterday"`
	ThisWeek  PeriodBucket `json:"thisWeek"`
	LastWeek  PeriodBucket `json:"lastWeek"`
	ThisMonth PeriodBucket `json:"thisMonth"`
	LastMonth PeriodBucket `json:"lastMonth"`
	UpdatedAt time.Time    `json:"updatedAt"`

	// RebuiltAt is the last time every window was recomputed from the durable store.
	RebuiltAt time.Time `json:"rebuiltAt"`
}

// Bucket returns a pointer to the bucket for p, or nil for an unknown period.
func (s *ChainProfitSummary) Bucket(p Period) *PeriodBucket {
	switch p {
	case PeriodToday:
		return &s.Today
	case PeriodYesterday:
		return &s.Yesterday
	case PeriodThisWeek:
		return &s.ThisWeek
	case PeriodLastWeek:
		return &s.LastWeek
	case PeriodThisMonth:
		return &s.ThisMonth
	case PeriodLastMonth:
		return &s.LastMonth
	}
	return nil
}

// SameBuckets reports whether every window matches, ignoring UpdatedAt.
func (s ChainProfitSummary) SameBuckets(o ChainProfitSummary) bool {
	for _, p := range Periods {
		if !s.Bucket(p).Equal(*o.Bucket(p)) {
			return false
		}
	}
	return s.Chain == o.Chain
}

// WelcomeStat is the public per-chain headline shown before login.
type WelcomeStat struct {
	Chain   string          `json:"chain"`
	Income  decimal.Decimal `json:"income"`
	TxCount uint64          `json:"txCount"`
}

// TagProfitEntry accumulates profit for a tag on one calendar day.
type TagProfitEntry struct {
	Chain       string          `json:"chain"`
	Tag         string          `json:"tag"`
	Day         string          `json:"date"`
	TotalProfit decimal.Decimal `json:"totalProfit"`
	TxCount     uint64          `json:"txCount"`
}

// TokenProfitEntry accumulates profit for a token address during the current day.
type TokenProfitEntry struct {
	Chain       string          `json:"chain"`
	Address     string          `json:"addr"`
	Symbol      string          `json:"symbol"`
	Count       uint64          `json:"count"`
	TotalProfit decimal.Decimal `json:"totalProfit"`
}

// CacheStats is returned by the administrative statistics endpoint.
type CacheStats struct {
	Trades         int       `json:"trades"`
	Warnings       int       `json:"warnings"`
	TagProfits     int       `json:"tagProfits"`
	TokenProfits   int       `json:"tokenProfits"`
	Chains         int       `json:"chainProfits"`
	LastDailyReset string    `json:"lastTagProfitReset"`
	SchedulerState string    `json:"schedulerState,omitempty"`
	GeneratedAt    time.Time `json:"generatedAt"`
}
