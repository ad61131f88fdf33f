package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TokenRef is a token touched by a trade.
type TokenRef struct {
	Address string `json:"addr"`
	Symbol  string `json:"symbol"`
}

// Trade represents one observed value-extraction transaction.
// A Trade is immutable once it has been ingested.
type Trade struct {
	ID                 int64           `json:"id"`
	Chain              string          `json:"chain"`
	Builder            string          `json:"builder"`
	Hash               string          `json:"hash"`
	CounterpartyHashes []string        `json:"vicHashes"`
	Gross              decimal.Decimal `json:"gross"`
	Bribe              decimal.Decimal `json:"bribe"`
	Income             decimal.Decimal `json:"income"`
	Ratio              decimal.Decimal `json:"ratio"`
	Ordinal            uint64          `json:"txCount"`
	ExtraInfo          string          `json:"extraInfo"`
	Tags               []string        `json:"tags"`
	Tokens             []TokenRef      `json:"incTokens"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// Normalize upper-cases the chain id and lower-cases token addresses without
// writing through to the caller's token slice.
func (t *Trade) Normalize() {
	t.Chain = strings.ToUpper(strings.TrimSpace(t.Chain))
	t.Hash = strings.TrimSpace(t.Hash)
	// Tokens may share a backing array with the caller's DTO.
	if t.Tokens != nil {
		t.Tokens = append([]TokenRef(nil), t.Tokens...)
	}
	for i := range t.Tokens {
		t.Tokens[i].Address = strings.ToLower(strings.TrimSpace(t.Tokens[i].Address))
	}
}

// Validate checks the required fields of a trade.
func (t *Trade) Validate() error {
	switch {
	case t.Chain == "":
		return &ValidationError{Field: "chain", Reason: "required"}
	case t.Hash == "":
		return &ValidationError{Field: "hash", Reason: "required"}
	case t.Builder == "":
		return &ValidationError{Field: "builder", Reason: "required"}
	case t.CreatedAt.IsZero():
		return &ValidationError{Field: "createdAt", Reason: "required"}
	}
	for i, tok := range t.Tokens {
		if tok.Address == "" {
			return &ValidationError{Field: "incTokens", Reason: "token " + strconv.Itoa(i) + " has no address"}
		}
	}
	return nil
}

// Clone returns a deep copy so callers never share slices with cached state.
func (t Trade) Clone() Trade {
	c := t
	c.CounterpartyHashes = append([]string(nil), t.CounterpartyHashes...)
	c.Tags = append([]string(nil), t.Tags...)
	c.Tokens = append([]TokenRef(nil), t.Tokens...)
	return c
}

// Warning is an in-memory alert raised by an external producer.
type Warning struct {
	ID        uint64    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"msg"`
	Chain     string    `json:"chain"`
	CreatedAt time.Time `json:"createdAt"`
}

// WarningStats groups buffered warnings by chain and type.
type WarningStats struct {
	Total   int          `json:"total"`
	ByChain []CountByKey `json:"byChain"`
	ByType  []CountByKey `json:"byType"`
}

type CountByKey struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// TradeFilter narrows a search over the recent trade buffer.
type TradeFilter struct {
	Chain   string
	Keyword string
	Tag     string
	Limit   int
}

// IngestOutcome tells a caller whether an event changed cache state.
type IngestOutcome int

const (
	Inserted IngestOutcome = iota
	DuplicateNoOp
)

func (o IngestOutcome) String() string {
	if o == Inserted {
		return "inserted"
	}
	return "duplicate"
}
