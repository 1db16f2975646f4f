package observability

import (
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/TraceFlow/internal/domain"
	"github.com/ghalamif/TraceFlow/internal/ports"
)

// PromObs routes pipeline metrics to a dedicated Prometheus registry and
// logs through the standard logger. Each instance carries its own registry
// so embedding applications and tests never collide on registration.
type PromObs struct {
	registry *prometheus.Registry

	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
	rejects  *prometheus.CounterVec
}

func NewPromObs() *PromObs {
	ingested := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traceflow_events_ingested_total",
		Help: "Events acknowledged by the ingest endpoint.",
	})
	timelines := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traceflow_timelines_total",
		Help: "Timelines opened with the ingest endpoint.",
	})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traceflow_batch_retries_total",
		Help: "Batch submissions retried after a transient transport failure.",
	})
	reconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traceflow_relay_reconnects_total",
		Help: "Successful relay reconnections after a lost connection.",
	})
	aborted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traceflow_sources_aborted_total",
		Help: "Sources that ended with an error instead of completing.",
	})
	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "traceflow_batches_inflight",
		Help: "Submitted but unacknowledged batches.",
	})
	buffered := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "traceflow_relay_buffered_records",
		Help: "Records buffered between the relay client and the merge.",
	})
	ackLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "traceflow_ingest_ack_latency_seconds",
		Help:    "Latency from batch submission to acknowledgement.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	rejects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traceflow_events_rejected_total",
		Help: "Records rejected by the pipeline, by reason.",
	}, []string{"reason"})

	registry := prometheus.NewRegistry()
	registry.MustRegister(ingested, timelines, retries, reconnects, aborted, inflight, buffered, ackLatency, rejects)

	return &PromObs{
		registry: registry,
		counters: map[string]prometheus.Counter{
			"traceflow_events_ingested_total":  ingested,
			"traceflow_timelines_total":        timelines,
			"traceflow_batch_retries_total":    retries,
			"traceflow_relay_reconnects_total": reconnects,
			"traceflow_sources_aborted_total":  aborted,
		},
		gauges: map[string]prometheus.Gauge{
			"traceflow_batches_inflight":       inflight,
			"traceflow_relay_buffered_records": buffered,
		},
		histos: map[string]prometheus.Observer{
			"traceflow_ingest_ack_latency_seconds": ackLatency,
		},
		rejects: rejects,
	}
}

// Registry exposes the instance registry for serving /metrics.
func (p *PromObs) Registry() *prometheus.Registry { return p.registry }

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	log.Printf("INFO: %s%s", msg, formatFields(fields))
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	log.Printf("ERROR: %s: %v%s", msg, err, formatFields(fields))
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	log.Printf("CRITICAL: %s: %v%s", msg, err, formatFields(fields))
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordReject(reason ports.RejectReason, stream domain.StreamID, err error) {
	p.rejects.WithLabelValues(string(reason)).Inc()
	log.Printf("REJECT: reason=%s stream=%d err=%v", reason, stream, err)
}

func formatFields(fields []ports.Field) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}

var _ ports.Observability = (*PromObs)(nil)
