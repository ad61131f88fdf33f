package service

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/domain/repository"
	"github.com/jessson/mev-dashboard/internal/lib/clock"
)

const (
	nodeHistorySize = 1000
	// NodeStaleAfter is how long a node may stay silent before it is reported offline.
	NodeStaleAfter = 10 * time.Minute
)

type nodeHistory struct {
	cpu, mem, blockTime []float64
}

func (h *nodeHistory) add(s model.NodeSample) {
	h.cpu = appendBounded(h.cpu, s.CPUUsage)
	h.mem = appendBounded(h.mem, s.MemoryUsage)
	h.blockTime = appendBounded(h.blockTime, s.BlockTime)
}

func appendBounded(xs []float64, v float64) []float64 {
	xs = append(xs, v)
	if len(xs) > nodeHistorySize {
		xs = xs[len(xs)-nodeHistorySize:]
	}
	return xs
}

// NodeStatusTracker keeps per-chain node health derived from agent reports.
type NodeStatusTracker struct {
	mu       sync.Mutex
	nodes    map[string]model.NodeStatus
	history  map[string]*nodeHistory
	registry repository.ChainRegistry
	fanout   *Fanout
	clock    clock.Clock
	log      *slog.Logger
}

func NewNodeStatusTracker(log *slog.Logger, clk clock.Clock, registry repository.ChainRegistry, fanout *Fanout) *NodeStatusTracker {
	return &NodeStatusTracker{
		nodes:    make(map[string]model.NodeStatus),
		history:  make(map[string]*nodeHistory),
		registry: registry,
		fanout:   fanout,
		clock:    clk,
		log:      log.With(slog.String("component", "node_status")),
	}
}

// Update records a sample and publishes the refreshed report.
// Samples only enter the history while the node is online.
func (t *NodeStatusTracker) Update(ctx context.Context, chain string, s model.NodeSample) model.NodeStatus {
	chain = strings.ToUpper(strings.TrimSpace(chain))

	t.mu.Lock()
	h, ok := t.history[chain]
	if !ok {
		h = &nodeHistory{}
		t.history[chain] = h
	}
	if s.Online {
		h.add(s)
	}

	current := func(v float64) float64 {
		if s.Online {
			return v
		}
		return 0
	}
	status := model.NodeStatus{
		Chain:       chain,
		Online:      s.Online,
		CPUUsage:    metricOf(h.cpu, current(s.CPUUsage)),
		MemoryUsage: metricOf(h.mem, current(s.MemoryUsage)),
		BlockHeight: s.BlockHeight,
		BlockTime:   metricOf(h.blockTime, current(s.BlockTime)),
		LastUpdate:  t.clock.Now(),
	}
	t.nodes[chain] = status
	report := t.reportLocked()
	t.mu.Unlock()

	t.log.Debug("node status updated",
		slog.String("chain", chain),
		slog.Bool("online", s.Online),
		slog.Float64("cpu", s.CPUUsage),
		slog.Float64("mem", s.MemoryUsage),
	)
	if t.fanout != nil {
		t.fanout.Publish(ctx, model.TopicNodeStatus, report, model.AudienceAuthenticated)
	}
	return status
}

func metricOf(history []float64, current float64) model.NodeMetric {
	if len(history) == 0 {
		return model.NodeMetric{Current: current, Average: current, Peak: current}
	}
	var sum float64
	peak := history[0]
	for _, v := range history {
		sum += v
		peak = math.Max(peak, v)
	}
	return model.NodeMetric{
		Current: current,
		Average: round2(sum / float64(len(history))),
		Peak:    round2(peak),
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Status returns one chain's node state.
func (t *NodeStatusTracker) Status(chain string) (model.NodeStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.nodes[strings.ToUpper(chain)]
	return s, ok
}

// Report marks silent nodes offline and returns the nodes of enabled chains.
func (t *NodeStatusTracker) Report() model.NodeStatusReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	for chain, s := range t.nodes {
		if s.Online && now.Sub(s.LastUpdate) > NodeStaleAfter {
			s.Online = false
			s.CPUUsage.Current = 0
			s.MemoryUsage.Current = 0
			s.BlockTime.Current = 0
			t.nodes[chain] = s
			t.log.Warn("node marked offline", slog.String("chain", chain))
		}
	}
	return t.reportLocked()
}

func (t *NodeStatusTracker) reportLocked() model.NodeStatusReport {
	report := model.NodeStatusReport{Nodes: []model.NodeStatus{}}
	for chain, s := range t.nodes {
		if t.registry != nil && !t.registry.IsEnabled(chain) {
			continue
		}
		report.Nodes = append(report.Nodes, s)
		if s.Online {
			report.Summary.Online++
		} else {
			report.Summary.Offline++
		}
	}
	report.Summary.Total = len(report.Nodes)
	sort.Slice(report.Nodes, func(i, j int) bool { return report.Nodes[i].Chain < report.Nodes[j].Chain })
	return report
}
