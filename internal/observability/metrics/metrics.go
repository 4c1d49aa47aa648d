// Package metrics owns the Prometheus registry of the watcher. All recording
// methods are safe on a nil *Metrics so components can run without it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ticketwatch"

type Metrics struct {
	registry *prometheus.Registry

	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	lastCycle      prometheus.Gauge
	sitesChecked   prometheus.Gauge
	sitesFailed    prometheus.Gauge
	fetchAttempts  *prometheus.CounterVec
	siteAvailable  *prometheus.GaugeVec
	siteState      *prometheus.GaugeVec
	alerts         *prometheus.CounterVec
	reportParts    prometheus.Gauge
	dispatchTasks  *prometheus.CounterVec
	dispatchDelay  prometheus.Gauge
	dispatchDepth  prometheus.Gauge
	deadLetters    *prometheus.CounterVec
	restarts       *prometheus.CounterVec
	siteListSource *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total", Help: "Check cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "cycle_duration_seconds", Help: "Wall time of a check cycle.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_cycle_timestamp_seconds", Help: "Unix time of the last completed cycle.",
		}),
		sitesChecked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sites_checked", Help: "Sites successfully checked in the last cycle.",
		}),
		sitesFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sites_failed", Help: "Sites that exhausted retries in the last cycle.",
		}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fetch_attempts_total", Help: "Ticket-check HTTP attempts by result.",
		}, []string{"result"}),
		siteAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "site_availability_percent", Help: "Share of events with tickets per site.",
		}, []string{"site"}),
		siteState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "site_state", Help: "Availability state per site (0 unknown, 1 available, 2 sold out).",
		}, []string{"site"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_total", Help: "Alerts raised by kind.",
		}, []string{"kind"}),
		reportParts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "report_parts", Help: "Number of messages in the published report.",
		}),
		dispatchTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dispatch_tasks_total", Help: "Channel operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		dispatchDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "dispatch_delay_seconds", Help: "Current inter-task delay of the dispatch queue.",
		}),
		dispatchDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "dispatch_queue_depth", Help: "Tasks waiting in the dispatch queue.",
		}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dispatch_dead_letters_total", Help: "Tasks dropped after exhausting retries.",
		}, []string{"kind"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "goroutine_restarts_total", Help: "Supervised goroutine restarts.",
		}, []string{"name"}),
		siteListSource: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "site_list_loads_total", Help: "Site list loads by source.",
		}, []string{"source"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles, m.cycleDuration, m.lastCycle, m.sitesChecked, m.sitesFailed,
		m.fetchAttempts, m.siteAvailable, m.siteState, m.alerts, m.reportParts,
		m.dispatchTasks, m.dispatchDelay, m.dispatchDepth, m.deadLetters,
		m.restarts, m.siteListSource,
	)
	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) CycleFinished(result string, took time.Duration, checked, failed int) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(took.Seconds())
	m.lastCycle.SetToCurrentTime()
	m.sitesChecked.Set(float64(checked))
	m.sitesFailed.Set(float64(failed))
}

func (m *Metrics) FetchAttempt(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.fetchAttempts.WithLabelValues("ok").Inc()
		return
	}
	m.fetchAttempts.WithLabelValues("error").Inc()
}

func (m *Metrics) SiteObserved(site string, percent float64, state int) {
	if m == nil {
		return
	}
	m.siteAvailable.WithLabelValues(site).Set(percent)
	m.siteState.WithLabelValues(site).Set(float64(state))
}

func (m *Metrics) AlertRaised(kind string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(kind).Inc()
}

func (m *Metrics) ReportPublished(parts int) {
	if m == nil {
		return
	}
	m.reportParts.Set(float64(parts))
}

func (m *Metrics) DispatchTask(kind, outcome string) {
	if m == nil {
		return
	}
	m.dispatchTasks.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) DispatchState(delay time.Duration, depth int) {
	if m == nil {
		return
	}
	m.dispatchDelay.Set(delay.Seconds())
	m.dispatchDepth.Set(float64(depth))
}

func (m *Metrics) DeadLetter(kind string) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(kind).Inc()
}

func (m *Metrics) Restart(name string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(name).Inc()
}

func (m *Metrics) SiteListLoaded(source string) {
	if m == nil {
		return
	}
	m.siteListSource.WithLabelValues(source).Inc()
}
