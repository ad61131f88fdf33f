package service

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jessson/mev-dashboard/internal/domain/model"
)

// The tables below hold one chain's rows. They do no locking of their own;
// the owning chainState serializes access.

// TagProfitTable maps (day, tag) to accumulated profit for one chain.
type TagProfitTable struct {
	chain string
	days  map[string]map[string]*model.TagProfitEntry
}

func NewTagProfitTable(chain string) *TagProfitTable {
	return &TagProfitTable{chain: chain, days: make(map[string]map[string]*model.TagProfitEntry)}
}

// Record accumulates profit and count onto the tag's entry for day.
func (t *TagProfitTable) Record(day, tag string, profit decimal.Decimal, count uint64) {
	tags, ok := t.days[day]
	if !ok {
		tags = make(map[string]*model.TagProfitEntry)
		t.days[day] = tags
	}
	e, ok := tags[tag]
	if !ok {
		e = &model.TagProfitEntry{Chain: t.chain, Tag: tag, Day: day}
		tags[tag] = e
	}
	e.TotalProfit = e.TotalProfit.Add(profit)
	e.TxCount += count
}

// Query returns copies of the entries for day in no particular order.
func (t *TagProfitTable) Query(day string) []model.TagProfitEntry {
	tags := t.days[day]
	out := make([]model.TagProfitEntry, 0, len(tags))
	for _, e := range tags {
		out = append(out, *e)
	}
	return out
}

func (t *TagProfitTable) Reset() {
	t.days = make(map[string]map[string]*model.TagProfitEntry)
}

// Len counts rows across every day.
func (t *TagProfitTable) Len() int {
	n := 0
	for _, tags := range t.days {
		n += len(tags)
	}
	return n
}

// TokenProfitTable maps a lower-cased token address to its profit for the current day.
type TokenProfitTable struct {
	chain  string
	tokens map[string]*model.TokenProfitEntry
}

func NewTokenProfitTable(chain string) *TokenProfitTable {
	return &TokenProfitTable{chain: chain, tokens: make(map[string]*model.TokenProfitEntry)}
}

// Record counts one occurrence of the token and adds profit to it.
func (t *TokenProfitTable) Record(token model.TokenRef, profit decimal.Decimal) {
	addr := strings.ToLower(token.Address)
	e, ok := t.tokens[addr]
	if !ok {
		e = &model.TokenProfitEntry{Chain: t.chain, Address: addr, Symbol: token.Symbol}
		t.tokens[addr] = e
	}
	e.Count++
	e.TotalProfit = e.TotalProfit.Add(profit)
}

func (t *TokenProfitTable) Get(addr string) (model.TokenProfitEntry, bool) {
	e, ok := t.tokens[strings.ToLower(addr)]
	if !ok {
		return model.TokenProfitEntry{}, false
	}
	return *e, true
}

// Entries returns copies of every row in no particular order.
func (t *TokenProfitTable) Entries() []model.TokenProfitEntry {
	out := make([]model.TokenProfitEntry, 0, len(t.tokens))
	for _, e := range t.tokens {
		out = append(out, *e)
	}
	return out
}

func (t *TokenProfitTable) Reset() {
	t.tokens = make(map[string]*model.TokenProfitEntry)
}

func (t *TokenProfitTable) Len() int { return len(t.tokens) }

// SequenceCounter stamps a daily ordinal on each trade of a chain.
type SequenceCounter struct {
	n uint64
}

func (s *SequenceCounter) Next() uint64 {
	s.n++
	return s.n
}

func (s *SequenceCounter) Value() uint64 { return s.n }

func (s *SequenceCounter) Reset() { s.n = 0 }

// SortTagsByProfit orders a leaderboard by profit descending, then tag name.
func SortTagsByProfit(entries []model.TagProfitEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if c := entries[i].TotalProfit.Cmp(entries[j].TotalProfit); c != 0 {
			return c > 0
		}
		return entries[i].Tag < entries[j].Tag
	})
}

// SortTokensByProfit orders token rows by profit descending, then address.
func SortTokensByProfit(entries []model.TokenProfitEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if c := entries[i].TotalProfit.Cmp(entries[j].TotalProfit); c != 0 {
			return c > 0
		}
		return entries[i].Address < entries[j].Address
	})
}
