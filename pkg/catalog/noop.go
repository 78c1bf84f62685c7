package catalog

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) ProductCreated(ctx context.Context, product *Product) error { return nil }

func (n *NoopEventSink) ProductUpdated(ctx context.Context, product *Product) error { return nil }

func (n *NoopEventSink) ProductDeleted(ctx context.Context, productID uuid.UUID) error { return nil }

func (n *NoopEventSink) SourceRegistered(ctx context.Context, reg *Registration) error { return nil }

func (n *NoopEventSink) IntegrityViolation(ctx context.Context, violation *IntegrityError) error {
	return nil
}

// LoggingEventSink writes every event to a structured logger.
// Useful for development and debugging
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates a new logging event sink
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

func (l *LoggingEventSink) ProductCreated(ctx context.Context, product *Product) error {
	l.logger.InfoContext(ctx, "product created",
		"product_id", product.ID, "name", product.Name, "version", product.Version,
		"sources", len(product.Sources))
	return nil
}

func (l *LoggingEventSink) ProductUpdated(ctx context.Context, product *Product) error {
	l.logger.InfoContext(ctx, "product updated", "product_id", product.ID, "name", product.Name)
	return nil
}

func (l *LoggingEventSink) ProductDeleted(ctx context.Context, productID uuid.UUID) error {
	l.logger.InfoContext(ctx, "product deleted", "product_id", productID)
	return nil
}

func (l *LoggingEventSink) SourceRegistered(ctx context.Context, reg *Registration) error {
	l.logger.InfoContext(ctx, "source registered",
		"source_id", reg.Source.ID, "digest", reg.Source.Digest, "size", reg.Source.Size,
		"reused", reg.Reused)
	return nil
}

func (l *LoggingEventSink) IntegrityViolation(ctx context.Context, violation *IntegrityError) error {
	l.logger.ErrorContext(ctx, "integrity violation", "kind", "integrity",
		"digest", violation.Digest, "source_id", violation.SourceID, "reason", violation.Reason)
	return nil
}

// MultiEventSink fans events out to several sinks. Every sink is called; the
// first error is returned.
type MultiEventSink []EventSink

func (m MultiEventSink) each(fn func(EventSink) error) error {
	var first error
	for _, sink := range m {
		if err := fn(sink); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiEventSink) ProductCreated(ctx context.Context, product *Product) error {
	return m.each(func(s EventSink) error { return s.ProductCreated(ctx, product) })
}

func (m MultiEventSink) ProductUpdated(ctx context.Context, product *Product) error {
	return m.each(func(s EventSink) error { return s.ProductUpdated(ctx, product) })
}

func (m MultiEventSink) ProductDeleted(ctx context.Context, productID uuid.UUID) error {
	return m.each(func(s EventSink) error { return s.ProductDeleted(ctx, productID) })
}

func (m MultiEventSink) SourceRegistered(ctx context.Context, reg *Registration) error {
	return m.each(func(s EventSink) error { return s.SourceRegistered(ctx, reg) })
}

func (m MultiEventSink) IntegrityViolation(ctx context.Context, violation *IntegrityError) error {
	return m.each(func(s EventSink) error { return s.IntegrityViolation(ctx, violation) })
}
