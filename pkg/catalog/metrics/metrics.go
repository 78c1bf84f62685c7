// Package metrics exports catalog activity as Prometheus metrics.
package metrics

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/product-catalog/pkg/catalog"
)

const namespace = "catalog"

// Metrics holds the collectors shared by the event sink and the object
// store instrumentation.
type Metrics struct {
	products            *prometheus.CounterVec // by event: created, updated, deleted
	sources             *prometheus.CounterVec // by result: stored, reused
	storedBytes         prometheus.Counter
	integrityViolations prometheus.Counter
	storeDuration       *prometheus.HistogramVec // by op and outcome
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		products: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "product_events_total",
			Help:      "Product lifecycle events by kind",
		}, []string{"event"}),

		sources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_registrations_total",
			Help:      "Source registrations by whether bytes were stored or an existing source reused",
		}, []string{"result"}),

		storedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_stored_bytes_total",
			Help:      "Bytes written for newly stored sources",
		}),

		integrityViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_violations_total",
			Help:      "Detected data corruption, counted apart from ordinary errors",
		}),

		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "object_store",
			Name:      "operation_duration_seconds",
			Help:      "Object store call latency",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"op", "outcome"}),
	}

	for _, c := range []prometheus.Collector{m.products, m.sources, m.storedBytes, m.integrityViolations, m.storeDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Sink returns an EventSink that counts catalog events.
func (m *Metrics) Sink() catalog.EventSink {
	return &sink{m: m}
}

type sink struct {
	m *Metrics
}

func (s *sink) ProductCreated(ctx context.Context, product *catalog.Product) error {
	s.m.products.WithLabelValues("created").Inc()
	return nil
}

func (s *sink) ProductUpdated(ctx context.Context, product *catalog.Product) error {
	s.m.products.WithLabelValues("updated").Inc()
	return nil
}

func (s *sink) ProductDeleted(ctx context.Context, productID uuid.UUID) error {
	s.m.products.WithLabelValues("deleted").Inc()
	return nil
}

func (s *sink) SourceRegistered(ctx context.Context, reg *catalog.Registration) error {
	if reg.Reused {
		s.m.sources.WithLabelValues("reused").Inc()
		return nil
	}
	s.m.sources.WithLabelValues("stored").Inc()
	s.m.storedBytes.Add(float64(reg.Source.Size))
	return nil
}

func (s *sink) IntegrityViolation(ctx context.Context, violation *catalog.IntegrityError) error {
	s.m.integrityViolations.Inc()
	return nil
}

// Instrument wraps store so every call is timed.
func (m *Metrics) Instrument(store catalog.ObjectStore) catalog.ObjectStore {
	return &instrumented{next: store, m: m}
}

type instrumented struct {
	next catalog.ObjectStore
	m    *Metrics
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	i.m.storeDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

func (i *instrumented) Put(ctx context.Context, key string, r io.Reader, sizeHint int64) error {
	start := time.Now()
	err := i.next.Put(ctx, key, r, sizeHint)
	i.observe("put", start, err)
	return err
}

func (i *instrumented) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	start := time.Now()
	url, err := i.next.PresignGet(ctx, key, expiry)
	i.observe("presign", start, err)
	return url, err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.Delete(ctx, key)
	i.observe("delete", start, err)
	return err
}

func (i *instrumented) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := i.next.Exists(ctx, key)
	i.observe("exists", start, err)
	return ok, err
}
