// Package metrics holds the Prometheus instrumentation of the ingestion core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "irrigation"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Alert stage label values.
const (
	StagePublish = "publish"
	StagePersist = "persist"
)

// Metrics groups every collector the core records to.
type Metrics struct {
	messagesReceived *prometheus.CounterVec
	parseErrors      prometheus.Counter
	sinkWrites       *prometheus.CounterVec
	observerErrors   *prometheus.CounterVec
	commandsSent     *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	shadowOps        *prometheus.CounterVec
	processing       prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound device messages by topic suffix.",
		}, []string{"suffix"}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Inbound payloads that could not be decoded into a reading.",
		}),
		sinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_writes_total",
			Help:      "Persistence sink writes by sink and result.",
		}, []string{"sink", "result"}),
		observerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_errors_total",
			Help:      "Registered callbacks that failed or panicked.",
		}, []string{"topic"}),
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Commands published to devices by command and result.",
		}, []string{"command", "result"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert publish and persist attempts by severity, stage and result.",
		}, []string{"severity", "stage", "result"}),
		shadowOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shadow_ops_total",
			Help:      "Device shadow operations by op and result.",
		}, []string{"op", "result"}),
		processing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_processing_seconds",
			Help:      "Time from dequeue to completion of one inbound message.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	for _, c := range []prometheus.Collector{
		m.messagesReceived, m.parseErrors, m.sinkWrites, m.observerErrors,
		m.commandsSent, m.alerts, m.shadowOps, m.processing,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func result(ok bool) string {
	if ok {
		return ResultOK
	}
	return ResultError
}

// MessageReceived counts one inbound message on a topic suffix.
func (m *Metrics) MessageReceived(suffix string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(suffix).Inc()
}

// ParseError counts one undecodable payload.
func (m *Metrics) ParseError() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

// SinkWrite counts one sink write.
func (m *Metrics) SinkWrite(sink string, err error) {
	if m == nil {
		return
	}
	m.sinkWrites.WithLabelValues(sink, result(err == nil)).Inc()
}

// ObserverError counts one failed callback.
func (m *Metrics) ObserverError(topic string) {
	if m == nil {
		return
	}
	m.observerErrors.WithLabelValues(topic).Inc()
}

// CommandSent counts one command publish.
func (m *Metrics) CommandSent(command string, ok bool) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(command, result(ok)).Inc()
}

// Alert counts one stage of an alert creation.
func (m *Metrics) Alert(severity, stage string, ok bool) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(severity, stage, result(ok)).Inc()
}

// ShadowOp counts one shadow get or update.
func (m *Metrics) ShadowOp(op string, ok bool) {
	if m == nil {
		return
	}
	m.shadowOps.WithLabelValues(op, result(ok)).Inc()
}

// ObserveProcessing records how long one inbound message took.
func (m *Metrics) ObserveProcessing(d time.Duration) {
	if m == nil {
		return
	}
	m.processing.Observe(d.Seconds())
}
