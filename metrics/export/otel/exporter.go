package otel

import (
	"context"
	"errors"
	"fmt"

	goAuthCore "github.com/MrEthical07/goAuthCore"
	"github.com/MrEthical07/goAuthCore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Construction errors.
var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Gauge names for the live session state.
const (
	AuthenticatedName = "goauthcore_session_authenticated"
	ImpersonatingName = "goauthcore_session_impersonating"
)

type metricsSource interface {
	MetricsSnapshot() goAuthCore.MetricsSnapshot
	AuditDropped() uint64
}

// stateSource is implemented by *goAuthCore.Engine. Sources without it get no
// session gauges.
type stateSource interface {
	State() goAuthCore.AuthState
}

// latency is one histogram flattened into a bucket gauge keyed by an "le"
// attribute and a sample count gauge.
type latency struct {
	id      goAuthCore.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter mirrors Engine counters into OpenTelemetry observable
// instruments read by a single callback.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration

	counters      map[goAuthCore.MetricID]metric.Int64ObservableCounter
	latencies     []latency
	auditDropped  metric.Int64ObservableCounter
	authenticated metric.Int64ObservableGauge
	impersonating metric.Int64ObservableGauge
}

// NewOTelExporter registers instruments on meter that read from engine,
// session gauges included.
func NewOTelExporter(meter metric.Meter, engine *goAuthCore.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers instruments that read from source on
// every collection.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{
		source:   source,
		counters: make(map[goAuthCore.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}
	var observables []metric.Observable
	counter := func(name, help string) (metric.Int64ObservableCounter, error) {
		ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(help))
		if err != nil {
			return nil, fmt.Errorf("otel: counter %s: %w", name, err)
		}
		observables = append(observables, ins)
		return ins, nil
	}
	gauge := func(name, help string) (metric.Int64ObservableGauge, error) {
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription(help))
		if err != nil {
			return nil, fmt.Errorf("otel: gauge %s: %w", name, err)
		}
		observables = append(observables, ins)
		return ins, nil
	}

	var err error
	for _, def := range internaldefs.CounterDefs {
		if e.counters[def.ID], err = counter(def.Name, def.Help); err != nil {
			return nil, err
		}
	}
	for _, def := range internaldefs.HistogramDefs {
		l := latency{id: def.ID}
		if l.buckets, err = gauge(def.Name+"_bucket", def.Help+" Cumulative count per upper bound."); err != nil {
			return nil, err
		}
		if l.count, err = gauge(def.Name+"_count", def.Help+" Sample count."); err != nil {
			return nil, err
		}
		e.latencies = append(e.latencies, l)
	}
	if e.auditDropped, err = counter(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp); err != nil {
		return nil, err
	}
	if _, ok := source.(stateSource); ok {
		if e.authenticated, err = gauge(AuthenticatedName, "1 while a principal is signed in."); err != nil {
			return nil, err
		}
		if e.impersonating, err = gauge(ImpersonatingName, "1 while a superadmin impersonates another user."); err != nil {
			return nil, err
		}
	}

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for id, ins := range e.counters {
		if v, ok := snap.Counters[id]; ok {
			o.ObserveInt64(ins, int64(v))
		}
	}
	for _, l := range e.latencies {
		raw, ok := snap.Histograms[l.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, le := range internaldefs.HistogramBoundSuffix {
			o.ObserveInt64(l.buckets, int64(cumulative[i]), metric.WithAttributes(attribute.String("le", le)))
		}
		o.ObserveInt64(l.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))

	if st, ok := e.source.(stateSource); ok {
		state := st.State()
		o.ObserveInt64(e.authenticated, flag(state.IsAuthenticated))
		o.ObserveInt64(e.impersonating, flag(state.IsImpersonating))
	}
	return nil
}

func flag(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
