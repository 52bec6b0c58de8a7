// Package metrics provides Prometheus collectors for the scanner pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/0xsamyy/killerwhale/internal/price"
)

const namespace = "killerwhale"

// Metrics holds all collectors. It implements the observer interfaces of
// the scanner, price, notify and archive packages.
type Metrics struct {
	// Scanner
	SlotsProcessed  *prometheus.CounterVec
	Cursor          prometheus.Gauge
	Tip             prometheus.Gauge
	Lag             prometheus.Gauge
	Warps           prometheus.Counter
	Resyncs         prometheus.Counter
	BlockFetch      *prometheus.HistogramVec
	BlockFetchError *prometheus.CounterVec
	LastAdvance     prometheus.Gauge

	// Classification
	Events     *prometheus.CounterVec
	Duplicates prometheus.Counter

	// Price
	PriceSourceFailures *prometheus.CounterVec
	PriceQuote          prometheus.Gauge
	PriceServed         *prometheus.CounterVec

	// Delivery
	Alerts        *prometheus.CounterVec
	ArchiveErrors *prometheus.CounterVec

	registry *prometheus.Registry
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SlotsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "slots_total",
			Help:      "Advance outcomes by kind",
		}, []string{"outcome"}),
		Cursor: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "cursor_slot",
			Help:      "Last processed slot",
		}),
		Tip: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "tip_slot",
			Help:      "Latest ledger tip observed",
		}),
		Lag: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "lag_slots",
			Help:      "Tip minus cursor",
		}),
		Warps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "warps_total",
			Help:      "Times the cursor jumped forward because of lag",
		}),
		Resyncs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "resyncs_total",
			Help:      "Operator-triggered cursor moves",
		}),
		BlockFetch: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "get_block_seconds",
			Help:      "getBlock latency per endpoint",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		}, []string{"endpoint"}),
		BlockFetchError: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "get_block_errors_total",
			Help:      "getBlock failures per endpoint",
		}, []string{"endpoint"}),
		LastAdvance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "last_advance_timestamp",
			Help:      "Unix time of the last cursor move",
		}),

		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "events_total",
			Help:      "Classified events by signal and tag",
		}, []string{"signal", "tag"}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "duplicates_total",
			Help:      "Events suppressed by signature dedupe",
		}),

		PriceSourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "price",
			Name:      "source_failures_total",
			Help:      "Failed quote fetches per source",
		}, []string{"source"}),
		PriceQuote: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "price",
			Name:      "sol_usd",
			Help:      "Last quote served",
		}),
		PriceServed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "price",
			Name:      "quotes_total",
			Help:      "Quotes served, live or from cache",
		}, []string{"mode"}),

		Alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "alerts_total",
			Help:      "Alert delivery results",
		}, []string{"result"}),
		ArchiveErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "errors_total",
			Help:      "Failed archive writes per sink",
		}, []string{"sink"}),
	}
}

// Registry returns the registry backing these collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ---- scanner ----

func (m *Metrics) SlotAdvanced(outcome string, cursor, tip uint64) {
	m.SlotsProcessed.WithLabelValues(outcome).Inc()
	m.Cursor.Set(float64(cursor))
	if tip > 0 {
		m.Tip.Set(float64(tip))
		if tip >= cursor {
			m.Lag.Set(float64(tip - cursor))
		} else {
			m.Lag.Set(0)
		}
	}
	switch outcome {
	case "warped":
		m.Warps.Inc()
	case "resynced":
		m.Resyncs.Inc()
	}
	m.LastAdvance.Set(float64(time.Now().Unix()))
}

func (m *Metrics) BlockFetched(endpoint string, d time.Duration, err error) {
	m.BlockFetch.WithLabelValues(endpoint).Observe(d.Seconds())
	if err != nil {
		m.BlockFetchError.WithLabelValues(endpoint).Inc()
	}
}

func (m *Metrics) EventClassified(signal, tag string) {
	m.Events.WithLabelValues(signal, tag).Inc()
}

func (m *Metrics) DuplicateSuppressed() { m.Duplicates.Inc() }

// ---- price ----

func (m *Metrics) SourceFailed(source string) {
	m.PriceSourceFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) QuoteServed(q price.Quote, live bool) {
	m.PriceQuote.Set(q.Value)
	mode := "cached"
	if live {
		mode = "live"
	}
	m.PriceServed.WithLabelValues(mode).Inc()
}

// ---- notify / archive ----

func (m *Metrics) AlertResult(result string) {
	m.Alerts.WithLabelValues(result).Inc()
}

func (m *Metrics) ArchiveFailed(sink string) {
	m.ArchiveErrors.WithLabelValues(sink).Inc()
}
