// Package query serves filtered, paginated listings of the audit trail.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	audit "landrecords/pkg/platform/audit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("landrecords/audit/query")

// Page is one page of a listing. Total counts every record matching the
// filter, not just the ones on this page.
type Page struct {
	Data  []audit.Record `json:"data"`
	Total int64          `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

// Engine answers listing requests against a reader.
type Engine struct {
	reader  audit.Reader
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures the Engine.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func New(reader audit.Reader, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		reader: reader,
		cfg:    cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Query counts the matching records and then fetches the requested page.
// Storage errors are returned; malformed parameters never are.
func (e *Engine) Query(ctx context.Context, req Request) (*Page, error) {
	plan := e.cfg.Plan(req)

	ctx, span := tracer.Start(ctx, "audit.Query",
		trace.WithAttributes(
			attribute.Int("audit.page", plan.Page),
			attribute.Int("audit.limit", plan.Limit),
			attribute.String("audit.sort", string(plan.Sort)),
			attribute.Int("audit.predicates", len(plan.Filter.All)+len(plan.Filter.Any)),
		),
	)
	defer span.End()
	start := time.Now()

	total, err := e.reader.Count(ctx, plan.Filter)
	if err != nil {
		e.failed(ctx, span, "count", err)
		return nil, fmt.Errorf("count audit records: %w", err)
	}

	data := []audit.Record{}
	if total > 0 && int64(plan.Offset) < total {
		data, err = e.reader.Find(ctx, plan.Filter, plan.Order, plan.Limit, plan.Offset)
		if err != nil {
			e.failed(ctx, span, "find", err)
			return nil, fmt.Errorf("find audit records: %w", err)
		}
		if data == nil {
			data = []audit.Record{}
		}
	}

	if e.metrics != nil {
		e.metrics.ObserveQueryDuration(time.Since(start).Seconds())
	}
	span.SetAttributes(attribute.Int64("audit.total", total), attribute.Int("audit.returned", len(data)))
	span.SetStatus(codes.Ok, "audit query completed")

	return &Page{
		Data:  data,
		Total: total,
		Page:  plan.Page,
		Limit: plan.Limit,
	}, nil
}

func (e *Engine) failed(ctx context.Context, span trace.Span, stage string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "audit query failed")
	if e.metrics != nil {
		e.metrics.IncQueryFailures(stage)
	}
	if e.logger != nil {
		e.logger.ErrorContext(ctx, "audit query failed", "stage", stage, "error", err)
	}
}
