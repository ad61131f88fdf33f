package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/domain/useCases"
)

// Prometheus implements useCases.Metrics on its own registry.
type Prometheus struct {
	registry         *prometheus.Registry
	tradesIngested   *prometheus.CounterVec
	rebuilds         *prometheus.CounterVec
	fanoutFailures   *prometheus.CounterVec
	retentionDeleted prometheus.Counter
	bufferedTrades   prometheus.Gauge
	bufferedWarnings prometheus.Gauge
}

var _ useCases.Metrics = (*Prometheus)(nil)

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		tradesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mev_trades_ingested_total",
			Help: "Trades handed to the aggregation cache, by outcome.",
		}, []string{"chain", "result"}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mev_rebuild_total",
			Help: "Per-chain window rebuilds, by result.",
		}, []string{"chain", "result"}),
		fanoutFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mev_fanout_failures_total",
			Help: "Messages a sink failed to deliver.",
		}, []string{"sink"}),
		retentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mev_retention_deleted_total",
			Help: "Trades removed by the retention sweep.",
		}),
		bufferedTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mev_buffered_trades",
			Help: "Trades held in the recent buffer.",
		}),
		bufferedWarnings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mev_buffered_warnings",
			Help: "Warnings held in the recent buffer.",
		}),
	}
	p.registry.MustRegister(
		p.tradesIngested,
		p.rebuilds,
		p.fanoutFailures,
		p.retentionDeleted,
		p.bufferedTrades,
		p.bufferedWarnings,
		collectors.NewGoCollector(),
	)
	return p
}

func (p *Prometheus) TradeIngested(chain string, outcome model.IngestOutcome) {
	p.tradesIngested.WithLabelValues(chain, outcome.String()).Inc()
}

func (p *Prometheus) RebuildFinished(chain string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.rebuilds.WithLabelValues(chain, result).Inc()
}

func (p *Prometheus) FanoutFailed(sink string) {
	p.fanoutFailures.WithLabelValues(sink).Inc()
}

func (p *Prometheus) RetentionDeleted(n int64) {
	p.retentionDeleted.Add(float64(n))
}

func (p *Prometheus) BufferedEvents(trades, warnings int) {
	p.bufferedTrades.Set(float64(trades))
	p.bufferedWarnings.Set(float64(warnings))
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
