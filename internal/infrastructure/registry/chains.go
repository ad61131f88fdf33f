package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/jessson/mev-dashboard/internal/domain/repository"
)

// Chain describes one monitored network.
type Chain struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Symbol      string `json:"symbol"`
	Enabled     bool   `json:"enabled"`
	Order       int    `json:"order"`
}

var knownChains = []Chain{
	{ID: "BSC", Name: "bsc", DisplayName: "Binance Smart Chain", Symbol: "BNB", Enabled: true, Order: 1},
	{ID: "ETH", Name: "ethereum", DisplayName: "Ethereum", Symbol: "ETH", Enabled: true, Order: 2},
	{ID: "SOL", Name: "solana", DisplayName: "Solana", Symbol: "SOL", Enabled: true, Order: 3},
	{ID: "POLYGON", Name: "polygon", DisplayName: "Polygon", Symbol: "MATIC", Order: 4},
	{ID: "ARBITRUM", Name: "arbitrum", DisplayName: "Arbitrum", Symbol: "ARB", Order: 5},
	{ID: "OPTIMISM", Name: "optimism", DisplayName: "Optimism", Symbol: "OP", Order: 6},
}

// MemoryRegistry is a ChainRegistry whose enabled set can change at runtime.
type MemoryRegistry struct {
	mu     sync.RWMutex
	chains map[string]Chain
}

var _ repository.ChainRegistry = (*MemoryRegistry)(nil)

// NewMemoryRegistry seeds the known chains. When enabled is non-empty it
// replaces the default enabled set; unknown ids are added as bare chains.
func NewMemoryRegistry(enabled []string) *MemoryRegistry {
	r := &MemoryRegistry{chains: make(map[string]Chain, len(knownChains))}
	for _, c := range knownChains {
		r.chains[c.ID] = c
	}
	if len(enabled) == 0 {
		return r
	}

	for id, c := range r.chains {
		c.Enabled = false
		r.chains[id] = c
	}
	for i, id := range enabled {
		id = normalizeID(id)
		if id == "" {
			continue
		}
		c, ok := r.chains[id]
		if !ok {
			c = Chain{ID: id, Name: strings.ToLower(id), DisplayName: id, Order: len(knownChains) + i + 1}
		}
		c.Enabled = true
		r.chains[id] = c
	}
	return r
}

func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// EnabledChains returns enabled ids in display order.
func (r *MemoryRegistry) EnabledChains() []string {
	chains := r.Chains()
	ids := make([]string, 0, len(chains))
	for _, c := range chains {
		if c.Enabled {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func (r *MemoryRegistry) IsEnabled(chain string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[normalizeID(chain)]
	return ok && c.Enabled
}

// Chains lists every known chain in display order.
func (r *MemoryRegistry) Chains() []Chain {
	r.mu.RLock()
	out := make([]Chain, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetEnabled flips a chain on or off. It reports false for an unknown id.
func (r *MemoryRegistry) SetEnabled(chain string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := normalizeID(chain)
	c, ok := r.chains[id]
	if !ok {
		return false
	}
	c.Enabled = enabled
	r.chains[id] = c
	return true
}
