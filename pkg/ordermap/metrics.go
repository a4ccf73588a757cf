package ordermap

// metrics.go is a thin abstraction over Prometheus so ordermap can be used
// with or without metrics, following the teacher's pkg/metrics.go split
// between a noop sink and a Prometheus-backed one: the hot path pays for
// metric updates only if the caller opted in via WithMetrics.
//
// ┌──────────────────────────────┬──────┐
// │ Metric                        │ Type │
// ├────────────────────────────────┼──────┤
// │ ordermap_inserts_total         │ Ctr  │
// │ ordermap_erases_total          │ Ctr  │
// │ ordermap_finds_total           │ Ctr  │
// │ ordermap_find_restarts_total   │ Ctr  │
// │ ordermap_trims_total           │ Ctr  │
// │ ordermap_range_queries_total   │ Ctr  │
// │ ordermap_range_restarts_total  │ Ctr  │
// │ ordermap_reclamation_epoch     │ Gge  │
// │ ordermap_timestamp_epoch       │ Gge  │
// └──────────────────────────────┴──────┘
//
// © 2025 arena-cache authors. MIT License.

import "github.com/prometheus/client_golang/prometheus"

type metricsSink interface {
	incInsert()
	incErase()
	incFind()
	incFindRestart()
	incTrim()
	incRangeQuery()
	incRangeRestart()
	setReclamationEpoch(v uint64)
	setTimestampEpoch(v uint64)
}

type noopMetrics struct{}

func (noopMetrics) incInsert() {}
func (noopMetrics) incErase() {}
func (noopMetrics) incFind() {}
func (noopMetrics) incFindRestart() {}
func (noopMetrics) incTrim() {}
func (noopMetrics) incRangeQuery() {}
func (noopMetrics) incRangeRestart() {}
func (noopMetrics) setReclamationEpoch(v uint64) {}
func (noopMetrics) setTimestampEpoch(v uint64) {}

type promMetrics struct {
	inserts       prometheus.Counter
	erases        prometheus.Counter
	finds         prometheus.Counter
	findRestarts  prometheus.Counter
	trims         prometheus.Counter
	rangeQueries  prometheus.Counter
	rangeRestarts prometheus.Counter
	reclEpoch     prometheus.Gauge
	tsEpoch       prometheus.Gauge
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	ns := "ordermap"
	pm := &promMetrics{
		inserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "inserts_total", Help: "Number of Insert calls.",
		}),
		erases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "erases_total", Help: "Number of Erase calls.",
		}),
		finds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "finds_total", Help: "Number of find traversals started.",
		}),
		findRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "find_restarts_total", Help: "Number of find traversals restarted due to contention or a stale epoch.",
		}),
		trims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "trims_total", Help: "Number of successful physical unlinks.",
		}),
		rangeQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "range_queries_total", Help: "Number of RangeQuery calls.",
		}),
		rangeRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "range_restarts_total", Help: "Number of RangeQuery attempts restarted.",
		}),
		reclEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "reclamation_epoch", Help: "Current reclamation epoch.",
		}),
		tsEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "timestamp_epoch", Help: "Current timestamp epoch.",
		}),
	}
	reg.MustRegister(pm.inserts, pm.erases, pm.finds, pm.findRestarts,
		pm.trims, pm.rangeQueries, pm.rangeRestarts, pm.reclEpoch, pm.tsEpoch)
	return pm
}

func (m *promMetrics) incInsert()      { m.inserts.Inc() }
func (m *promMetrics) incErase()       { m.erases.Inc() }
func (m *promMetrics) incFind()        { m.finds.Inc() }
func (m *promMetrics) incFindRestart() { m.findRestarts.Inc() }
func (m *promMetrics) incTrim()        { m.trims.Inc() }
func (m *promMetrics) incRangeQuery()  { m.rangeQueries.Inc() }
func (m *promMetrics) incRangeRestart() { m.rangeRestarts.Inc() }
func (m *promMetrics) setReclamationEpoch(v uint64) { m.reclEpoch.Set(float64(v)) }
func (m *promMetrics) setTimestampEpoch(v uint64)   { m.tsEpoch.Set(float64(v)) }

func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
