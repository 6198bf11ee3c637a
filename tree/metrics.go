package tree

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "arbor_tree_ops_total",
	Help: "The total number of tree operations, by engine, operation and outcome",
}, []string{"engine", "op", "status"})

var opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "arbor_tree_op_duration_seconds",
	Help:    "Duration of tree operations",
	Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
}, []string{"engine", "op"})

var integrityFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "arbor_tree_integrity_failures_total",
	Help: "The total number of failed integrity checks",
}, []string{"engine"})

// Observe records one finished operation. Use it as
//
//	defer tree.Observe("pptree", "remove", time.Now(), &err)
func Observe(engine, op string, start time.Time, errp *error) {
	status := "ok"
	if errp != nil && *errp != nil {
		status = "error"
	}
	opsTotal.WithLabelValues(engine, op, status).Inc()
	opDuration.WithLabelValues(engine, op).Observe(time.Since(start).Seconds())
}

// ObserveCheck counts a failed integrity report.
func ObserveCheck(engine string, r *Report) {
	if r != nil && !r.OK {
		integrityFailures.WithLabelValues(engine).Inc()
	}
}

// EndSpan marks the span failed when *errp is set, then ends it. Use it as
//
//	defer tree.EndSpan(span, &err)
func EndSpan(span trace.Span, errp *error) {
	if errp != nil && *errp != nil {
		span.RecordError(*errp)
		span.SetStatus(codes.Error, (*errp).Error())
	}
	span.End()
}
