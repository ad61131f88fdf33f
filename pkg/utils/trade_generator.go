package utils

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jessson/mev-dashboard/internal/domain/model"
)

var (
	builders = []string{"titan", "beaver", "rsync", "flashbots", "bloxroute"}
	tags     = []string{"arb", "sandwich", "backrun", "liquidation", "jit"}
	tokens   = []model.TokenRef{
		{Address: "0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c", Symbol: "WBNB"},
		{Address: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", Symbol: "WETH"},
		{Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Symbol: "USDC"},
		{Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Symbol: "USDT"},
	}
)

// TradeGenerator produces plausible random trades for demos and load tests.
type TradeGenerator struct {
	Chains []string
	now    func() time.Time
}

// NewTradeGenerator creates a generator for the given chains, defaulting to BSC and ETH.
func NewTradeGenerator(chains ...string) *TradeGenerator {
	if len(chains) == 0 {
		chains = []string{"BSC", "ETH"}
	}
	return &TradeGenerator{Chains: chains, now: time.Now}
}

// GenerateTrades creates count trades with unique hashes timestamped now.
func (g *TradeGenerator) GenerateTrades(count int) []model.Trade {
	trades := make([]model.Trade, count)
	for i := range trades {
		trades[i] = g.GenerateTrade()
	}
	return trades
}

// GenerateTrade creates a single random trade. Roughly one in ten loses money.
func (g *TradeGenerator) GenerateTrade() model.Trade {
	gross := decimal.NewFromFloat(rand.Float64() * 2).Round(6)
	bribe := gross.Mul(decimal.NewFromFloat(rand.Float64() * 0.9)).Round(6)
	income := gross.Sub(bribe)
	if rand.IntN(10) == 0 {
		income = income.Neg()
	}
	ratio := decimal.Zero
	if !gross.IsZero() {
		ratio = bribe.Div(gross).Round(4)
	}

	n := 1 + rand.IntN(2)
	tradeTags := make([]string, 0, n)
	for _, idx := range rand.Perm(len(tags))[:n] {
		tradeTags = append(tradeTags, tags[idx])
	}

	return model.Trade{
		Chain:              g.Chains[rand.IntN(len(g.Chains))],
		Builder:            builders[rand.IntN(len(builders))],
		Hash:               randomHash(),
		CounterpartyHashes: []string{randomHash()},
		Gross:              gross,
		Bribe:              bribe,
		Income:             income,
		Ratio:              ratio,
		Tags:               tradeTags,
		Tokens:             []model.TokenRef{tokens[rand.IntN(len(tokens))]},
		CreatedAt:          g.now(),
	}
}

// randomHash builds a 32-byte hex transaction hash from two UUIDs.
func randomHash() string {
	a, b := uuid.New(), uuid.New()
	return "0x" + strings.ReplaceAll(a.String()+b.String(), "-", "")
}
