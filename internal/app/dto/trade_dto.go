package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jessson/mev-dashboard/internal/domain/model"
)

// TokenDTO accepts both the "addr" and the "address" spelling producers use.
type TokenDTO struct {
	Addr    string `json:"addr,omitempty"`
	Address string `json:"address,omitempty"`
	Symbol  string `json:"symbol"`
}

// TradeDTO is the wire shape of a trade pushed over HTTP or Kafka.
type TradeDTO struct {
	Chain     string          `json:"chain"`
	Builder   string          `json:"builder"`
	Hash      string          `json:"hash"`
	VicHashes []string        `json:"vicHashes,omitempty"`
	Gross     decimal.Decimal `json:"gross"`
	Bribe     decimal.Decimal `json:"bribe"`
	Income    decimal.Decimal `json:"income"`
	Ratio     decimal.Decimal `json:"ratio"`
	TxCount   uint64          `json:"txCount,omitempty"`
	ExtraInfo string          `json:"extraInfo,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	IncTokens []TokenDTO      `json:"incTokens,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ToModel converts a TradeDTO to a domain model. "addr" wins over "address".
func (d *TradeDTO) ToModel() model.Trade {
	tokens := make([]model.TokenRef, 0, len(d.IncTokens))
	for _, tok := range d.IncTokens {
		addr := tok.Addr
		if addr == "" {
			addr = tok.Address
		}
		tokens = append(tokens, model.TokenRef{Address: addr, Symbol: tok.Symbol})
	}
	return model.Trade{
		Chain:              d.Chain,
		Builder:            d.Builder,
		Hash:               d.Hash,
		CounterpartyHashes: d.VicHashes,
		Gross:              d.Gross,
		Bribe:              d.Bribe,
		Income:             d.Income,
		Ratio:              d.Ratio,
		Ordinal:            d.TxCount,
		ExtraInfo:          d.ExtraInfo,
		Tags:               d.Tags,
		Tokens:             tokens,
		CreatedAt:          d.CreatedAt,
	}
}

// FromModel creates a TradeDTO from a domain model
func FromModel(t model.Trade) *TradeDTO {
	tokens := make([]TokenDTO, len(t.Tokens))
	for i, tok := range t.Tokens {
		tokens[i] = TokenDTO{Addr: tok.Address, Symbol: tok.Symbol}
	}
	return &TradeDTO{
		Chain:     t.Chain,
		Builder:   t.Builder,
		Hash:      t.Hash,
		VicHashes: t.CounterpartyHashes,
		Gross:     t.Gross,
		Bribe:     t.Bribe,
		Income:    t.Income,
		Ratio:     t.Ratio,
		TxCount:   t.Ordinal,
		ExtraInfo: t.ExtraInfo,
		Tags:      t.Tags,
		IncTokens: tokens,
		CreatedAt: t.CreatedAt,
	}
}

// WarningDTO is the body of POST /warning.
type WarningDTO struct {
	Type  string `json:"type"`
	Msg   string `json:"msg"`
	Chain string `json:"chain"`
}

// NodeStatusDTO is the body of POST /node/status.
type NodeStatusDTO struct {
	Chain       string  `json:"chain"`
	Online      bool    `json:"online"`
	CPUUsage    float64 `json:"cpuUsage"`
	MemoryUsage float64 `json:"memoryUsage"`
	BlockHeight uint64  `json:"blockHeight"`
	BlockTime   float64 `json:"blockTime"`
}

func (d *NodeStatusDTO) ToModel() model.NodeSample {
	return model.NodeSample{
		Online:      d.Online,
		CPUUsage:    d.CPUUsage,
		MemoryUsage: d.MemoryUsage,
		BlockHeight: d.BlockHeight,
		BlockTime:   d.BlockTime,
	}
}

// DeleteWarningsDTO is the body of POST /warnings/delete.
type DeleteWarningsDTO struct {
	IDs []uint64 `json:"ids"`
}
