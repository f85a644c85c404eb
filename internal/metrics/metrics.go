package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics captures operational counters for aggregation and contact sync.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	aggregations     *prometheus.CounterVec
	recordsSeen      prometheus.Counter
	recordsSkipped   prometheus.Counter
	recordsDropped   prometheus.Counter
	sourceFailures   prometheus.Counter
	syncRuns         *prometheus.CounterVec
	contactsAdded    prometheus.Counter
	rosterSize       prometheus.Gauge
	noteLookupErrors prometheus.Counter
}

// New registers collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		aggregations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "call_dashboard_aggregations_total",
			Help: "Daily statistics requests by outcome.",
		}, []string{"result"}),
		recordsSeen: f.NewCounter(prometheus.CounterOpts{
			Name: "call_dashboard_records_seen_total",
			Help: "Call records returned by the provider.",
		}),
		recordsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "call_dashboard_records_skipped_total",
			Help: "Call records without a usable timestamp.",
		}),
		recordsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "call_dashboard_records_out_of_window_total",
			Help: "Call records dated outside the requested window.",
		}),
		sourceFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "call_dashboard_source_failures_total",
			Help: "Provider queries that failed.",
		}),
		syncRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "call_dashboard_sync_runs_total",
			Help: "Contact sync runs by trigger and outcome.",
		}, []string{"trigger", "result"}),
		contactsAdded: f.NewCounter(prometheus.CounterOpts{
			Name: "call_dashboard_contacts_added_total",
			Help: "Contacts appended to the roster.",
		}),
		rosterSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "call_dashboard_roster_size",
			Help: "Contacts in the roster after the last sync or clear.",
		}),
		noteLookupErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "call_dashboard_note_lookup_errors_total",
			Help: "Per-date note lookups that failed during a range fetch.",
		}),
	}
}

func (m *Metrics) RecordAggregation(err error) {
	if m == nil {
		return
	}
	m.aggregations.WithLabelValues(outcome(err)).Inc()
}

// RecordRecords tallies one aggregation's record accounting.
func (m *Metrics) RecordRecords(seen, skipped, outOfWindow int) {
	if m == nil {
		return
	}
	m.recordsSeen.Add(float64(seen))
	m.recordsSkipped.Add(float64(skipped))
	m.recordsDropped.Add(float64(outOfWindow))
}

func (m *Metrics) RecordSourceFailure() {
	if m == nil {
		return
	}
	m.sourceFailures.Inc()
}

func (m *Metrics) RecordSync(trigger string, added int, err error) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(trigger, outcome(err)).Inc()
	if err == nil && added > 0 {
		m.contactsAdded.Add(float64(added))
	}
}

func (m *Metrics) SetRosterSize(n int) {
	if m == nil {
		return
	}
	m.rosterSize.Set(float64(n))
}

func (m *Metrics) RecordNoteLookupError() {
	if m == nil {
		return
	}
	m.noteLookupErrors.Inc()
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
