package storage

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// QueryObserver records store call outcomes. observability.Metrics
// implements it.
type QueryObserver interface {
	RecordDatabaseQuery(operation, table, status string, durationSeconds float64)
}

// InstrumentedStore adds a span and a query metric to every store call.
type InstrumentedStore struct {
	next     RecordStore
	observer QueryObserver
	tracer   trace.Tracer
}

// Instrument wraps store. A nil observer records spans only.
func Instrument(store RecordStore, observer QueryObserver) *InstrumentedStore {
	return &InstrumentedStore{
		next:     store,
		observer: observer,
		tracer:   otel.Tracer("github.com/Leshaka/lunodog-bot/internal/storage"),
	}
}

// Unwrap returns the wrapped store.
func (s *InstrumentedStore) Unwrap() RecordStore {
	return s.next
}

func (s *InstrumentedStore) observe(ctx context.Context, operation, table string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.operation", operation),
			attribute.String("db.table", table),
		))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	status := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if s.observer != nil {
		s.observer.RecordDatabaseQuery(operation, table, status, time.Since(start).Seconds())
	}
	return err
}

func (s *InstrumentedStore) Get(ctx context.Context, table, name string, id int64) (*Record, error) {
	var record *Record
	err := s.observe(ctx, "get", table, func(ctx context.Context) error {
		var err error
		record, err = s.next.Get(ctx, table, name, id)
		return err
	})
	return record, err
}

func (s *InstrumentedStore) Put(ctx context.Context, record *Record) error {
	table := ""
	if record != nil {
		table = record.Table
	}
	return s.observe(ctx, "put", table, func(ctx context.Context) error {
		return s.next.Put(ctx, record)
	})
}

func (s *InstrumentedStore) Delete(ctx context.Context, table, name string, id int64) error {
	return s.observe(ctx, "delete", table, func(ctx context.Context) error {
		return s.next.Delete(ctx, table, name, id)
	})
}

func (s *InstrumentedStore) List(ctx context.Context, table, name string) ([]*Record, error) {
	var records []*Record
	err := s.observe(ctx, "list", table, func(ctx context.Context) error {
		var err error
		records, err = s.next.List(ctx, table, name)
		return err
	})
	return records, err
}

func (s *InstrumentedStore) Close() error {
	return s.next.Close()
}
