package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrEthical07/deskgate"
	"github.com/MrEthical07/deskgate/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() deskgate.MetricsSnapshot
	AuditDropped() uint64
}

type counterInstrument struct {
	id   deskgate.MetricID
	inst metric.Int64ObservableCounter
	attr metric.ObserveOption
}

type latencyInstrument struct {
	id      deskgate.MetricID
	buckets [8]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter publishes engine snapshots as observable instruments. Every
// counter carries a "flow" attribute (signin, password_reset, session,
// engine). Each latency histogram becomes one cumulative gauge per bucket
// plus a count gauge.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []counterInstrument
	latencies    []latencyInstrument
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments on meter that read from engine on
// every collection.
func NewOTelExporter(meter metric.Meter, engine *deskgate.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		inst, err := meter.Int64ObservableCounter(def.Name,
			metric.WithDescription(def.Help),
			metric.WithUnit("{event}"),
		)
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, counterInstrument{
			id:   def.ID,
			inst: inst,
			attr: metric.WithAttributes(attribute.String("flow", def.Flow)),
		})
		observables = append(observables, inst)
	}

	for _, def := range internaldefs.HistogramDefs {
		l, insts, err := newLatencyInstrument(meter, def)
		if err != nil {
			return nil, err
		}
		e.latencies = append(e.latencies, l)
		observables = append(observables, insts...)
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func newLatencyInstrument(meter metric.Meter, def internaldefs.HistogramDef) (latencyInstrument, []metric.Observable, error) {
	l := latencyInstrument{id: def.ID}
	insts := make([]metric.Observable, 0, len(l.buckets)+1)

	for i, suffix := range internaldefs.HistogramBoundSuffix {
		name := def.Name + "_bucket_le_" + suffix
		g, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative count of "+def.Help))
		if err != nil {
			return l, nil, fmt.Errorf("gauge %s: %w", name, err)
		}
		l.buckets[i] = g
		insts = append(insts, g)
	}

	count, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription("Samples of "+def.Help))
	if err != nil {
		return l, nil, fmt.Errorf("gauge %s_count: %w", def.Name, err)
	}
	l.count = count
	return l, append(insts, count), nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		o.ObserveInt64(c.inst, int64(snap.Counters[c.id]), c.attr)
	}
	for _, l := range e.latencies {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[l.id]))
		for i, v := range cumulative {
			o.ObserveInt64(l.buckets[i], int64(v))
		}
		o.ObserveInt64(l.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
