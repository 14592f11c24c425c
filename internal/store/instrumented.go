package store

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce     sync.Once
	storeOperations metric.Int64Counter
	storeDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/chinmina/lockbox/internal/store")

		var err error
		storeOperations, err = meter.Int64Counter(
			"cache.store.operations",
			metric.WithDescription("Total persisted cache store operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		storeDuration, err = meter.Float64Histogram(
			"cache.store.operation.duration",
			metric.WithDescription("Persisted cache store operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a Store with metrics instrumentation.
type Instrumented struct {
	wrapped   Store
	storeType string
}

// NewInstrumented creates an instrumented store wrapper.
func NewInstrumented(store Store, storeType string) *Instrumented {
	initMetrics()
	return &Instrumented{
		wrapped:   store,
		storeType: storeType,
	}
}

// Read reads the persisted blob.
func (i *Instrumented) Read(ctx context.Context) ([]byte, error) {
	start := time.Now()

	data, err := i.wrapped.Read(ctx)

	duration := time.Since(start)
	i.recordDuration(ctx, "read", duration)

	status := "empty"
	if err != nil {
		status = "error"
	} else if len(data) > 0 {
		status = "present"
	}
	i.recordOperation(ctx, "read", status)
	i.setSpanAttributes(ctx, "read", status, duration)

	return data, err
}

// Write replaces the persisted blob.
func (i *Instrumented) Write(ctx context.Context, data []byte) error {
	start := time.Now()

	err := i.wrapped.Write(ctx, data)

	duration := time.Since(start)
	i.recordDuration(ctx, "write", duration)

	status := "success"
	if err != nil {
		status = "error"
	}
	i.recordOperation(ctx, "write", status)
	i.setSpanAttributes(ctx, "write", status, duration)

	return err
}

// Clear removes the persisted blob.
func (i *Instrumented) Clear(ctx context.Context) error {
	start := time.Now()

	err := i.wrapped.Clear(ctx)

	duration := time.Since(start)
	i.recordDuration(ctx, "clear", duration)

	status := "success"
	if err != nil {
		status = "error"
	}
	i.recordOperation(ctx, "clear", status)
	i.setSpanAttributes(ctx, "clear", status, duration)

	return err
}

// ID returns the wrapped store's identity.
func (i *Instrumented) ID() string {
	return i.wrapped.ID()
}

// Close closes the wrapped store.
func (i *Instrumented) Close() error {
	return i.wrapped.Close()
}

func (i *Instrumented) recordOperation(ctx context.Context, operation, status string) {
	if storeOperations == nil {
		return
	}
	storeOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("store.type", i.storeType),
			attribute.String("store.operation", operation),
			attribute.String("store.status", status),
		),
	)
}

func (i *Instrumented) recordDuration(ctx context.Context, operation string, duration time.Duration) {
	if storeDuration == nil {
		return
	}
	storeDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("store.type", i.storeType),
			attribute.String("store.operation", operation),
		),
	)
}

func (i *Instrumented) setSpanAttributes(ctx context.Context, operation, status string, duration time.Duration) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("store.type", i.storeType),
		attribute.String("store."+operation+".status", status),
		attribute.Float64("store."+operation+".duration", duration.Seconds()),
	)
}
