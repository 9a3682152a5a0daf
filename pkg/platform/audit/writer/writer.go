// Package writer records entity changes in the audit trail.
//
// Writer is fail-soft: an audit record that cannot be encoded or stored is
// logged and counted, and the caller never sees an error. The entity mutation
// that triggered it has already committed and must not be undone because the
// trail is unavailable.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	audit "landrecords/pkg/platform/audit"
	"landrecords/pkg/platform/sentinel"
	pstrings "landrecords/pkg/platform/strings"
	"landrecords/pkg/requestcontext"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxActorLen     = 255
	maxIPLen        = 64
	maxUserAgentLen = 512
	maxEntityLen    = 255

	defaultSinkTimeout = 2 * time.Second
)

const (
	stageEncode  = "encode"
	stageBreaker = "circuit_breaker"
	stageStore   = "store"
	stagePanic   = "panic"
)

var tracer = otel.Tracer("landrecords/audit/writer")

// Writer encodes audit events and appends them to a store.
type Writer struct {
	store   audit.Store
	sink    audit.Sink
	sinkTTL time.Duration
	breaker *CircuitBreaker
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures the Writer.
type Option func(*Writer)

// WithLogger sets the logger used to report dropped records.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(w *Writer) {
		w.metrics = m
	}
}

// WithSink mirrors every stored row to a secondary destination.
func WithSink(sink audit.Sink) Option {
	return func(w *Writer) {
		w.sink = sink
	}
}

// WithSinkTimeout bounds each sink publish. The caller's deadline still
// applies when it is shorter.
func WithSinkTimeout(d time.Duration) Option {
	return func(w *Writer) {
		w.sinkTTL = d
	}
}

// WithCircuitBreaker drops records without calling the store while the store
// keeps failing.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(w *Writer) {
		w.breaker = cb
	}
}

// WithClock overrides the clock that stamps created_at. Without it the
// request-scoped time is used.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// New creates a writer over store.
func New(store audit.Store, opts ...Option) *Writer {
	w := &Writer{
		store:   store,
		logger:  slog.Default(),
		sinkTTL: defaultSinkTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func atStage(stage string, err error) error {
	return &stageError{stage: stage, err: err}
}

// Write records one event. It never returns an error and never panics; any
// failure is logged at error level and the record is dropped.
func (w *Writer) Write(ctx context.Context, event audit.Event) {
	defer func() {
		if r := recover(); r != nil {
			w.dropped(ctx, event, stagePanic, fmt.Errorf("audit write panicked: %v", r))
		}
	}()

	if err := w.write(ctx, event); err != nil {
		stage := stageStore
		var se *stageError
		if errors.As(err, &se) {
			stage = se.stage
		}
		w.dropped(ctx, event, stage, err)
	}
}

func (w *Writer) write(ctx context.Context, event audit.Event) error {
	ctx, span := tracer.Start(ctx, "audit.Write",
		trace.WithAttributes(
			attribute.String("audit.action", string(event.Action)),
			attribute.String("audit.entity_type", event.EntityType),
		),
	)
	defer span.End()
	start := time.Now()

	row, err := w.encode(ctx, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode audit record")
		return atStage(stageEncode, err)
	}

	if w.breaker != nil && !w.breaker.Allow() {
		if w.metrics != nil {
			w.metrics.IncCircuitBreakerDropped()
		}
		span.SetStatus(codes.Error, "circuit breaker open")
		return atStage(stageBreaker, fmt.Errorf("audit store circuit open: %w", sentinel.ErrUnavailable))
	}

	if err := w.store.Append(ctx, row); err != nil {
		if w.breaker != nil {
			w.breaker.RecordFailure()
			w.setBreakerState()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to append audit record")
		return atStage(stageStore, fmt.Errorf("append audit row: %w", err))
	}
	if w.breaker != nil {
		w.breaker.RecordSuccess()
		w.setBreakerState()
	}

	if w.metrics != nil {
		w.metrics.ObserveWriteDuration(time.Since(start).Seconds())
		w.metrics.IncWritten(string(row.Action))
	}
	span.SetStatus(codes.Ok, "audit record written")

	if w.sink != nil {
		if err := w.publish(ctx, row); err != nil {
			if w.metrics != nil {
				w.metrics.IncSinkFailures()
			}
			w.logger.WarnContext(ctx, "audit sink publish failed",
				"action", row.Action,
				"entity_type", row.EntityType,
				"entity_id", row.EntityID,
				"error", err,
			)
		}
	}
	return nil
}

func (w *Writer) publish(ctx context.Context, row audit.Row) error {
	if w.sinkTTL > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.sinkTTL)
		defer cancel()
	}
	return w.sink.Publish(ctx, row)
}

func (w *Writer) setBreakerState() {
	if w.metrics != nil {
		w.metrics.SetCircuitBreakerState(w.breaker.IsOpen())
	}
}

func (w *Writer) dropped(ctx context.Context, event audit.Event, stage string, err error) {
	defer func() {
		// a broken logger or metrics backend must not escape Write either
		_ = recover()
	}()
	if w.metrics != nil {
		w.metrics.IncFailure(stage)
	}
	w.logger.ErrorContext(ctx, "audit write failed",
		"stage", stage,
		"action", string(event.Action),
		"entity_type", event.EntityType,
		"entity_id", event.EntityID,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}

// encode turns an event into a storage row. Events whose action contradicts
// their snapshots are normalized rather than rejected.
func (w *Writer) encode(ctx context.Context, event audit.Event) (audit.Row, error) {
	if !event.Action.IsValid() {
		return audit.Row{}, fmt.Errorf("invalid audit action %q", event.Action)
	}
	entityID := truncate(clean(event.EntityID), maxEntityLen)
	if entityID == "" {
		return audit.Row{}, errors.New("audit record requires an entity id")
	}
	entityType := truncate(clean(event.EntityType), maxEntityLen)

	before, after := event.Before, event.After
	switch event.Action {
	case audit.ActionCreate:
		if before != nil {
			w.logger.WarnContext(ctx, "ignoring before snapshot on create", "entity_type", event.EntityType, "entity_id", entityID)
			before = nil
		}
	case audit.ActionDelete:
		if after != nil {
			w.logger.WarnContext(ctx, "ignoring after snapshot on delete", "entity_type", event.EntityType, "entity_id", entityID)
			after = nil
		}
	}

	changed := changedFields(event.Action, event.ChangedFields, before, after)

	entityCtx := event.Context
	if entityCtx == nil {
		entityCtx = map[string]any{}
	}
	ctxText, err := audit.EncodeJSON(entityCtx)
	if err != nil {
		return audit.Row{}, fmt.Errorf("encode entity context: %w", err)
	}
	changedText, err := audit.EncodeJSON(changed)
	if err != nil {
		return audit.Row{}, fmt.Errorf("encode changed fields: %w", err)
	}
	beforeText, err := encodeSnapshot(before)
	if err != nil {
		return audit.Row{}, fmt.Errorf("encode before snapshot: %w", err)
	}
	afterText, err := encodeSnapshot(after)
	if err != nil {
		return audit.Row{}, fmt.Errorf("encode after snapshot: %w", err)
	}

	return audit.Row{
		UserID:        event.Actor.UserID,
		Username:      actorName(event.Actor),
		Action:        event.Action,
		EntityType:    entityType,
		EntityID:      entityID,
		EntityCtx:     string(ctxText),
		ChangedFields: string(changedText),
		BeforeData:    beforeText,
		AfterData:     afterText,
		IP:            optional(event.IP, maxIPLen),
		UserAgent:     optional(event.UserAgent, maxUserAgentLen),
		CreatedAt:     w.stamp(ctx),
	}, nil
}

func (w *Writer) stamp(ctx context.Context) time.Time {
	if w.now != nil {
		return w.now().UTC()
	}
	return requestcontext.Now(ctx).UTC()
}

// changedFields resolves the change list. Deletes never list fields. A nil
// list is computed from the snapshots; a caller-supplied list is cleaned and
// limited to known keys.
func changedFields(action audit.Action, supplied []string, before, after *audit.Snapshot) []string {
	if action == audit.ActionDelete {
		return []string{}
	}
	if supplied == nil {
		return audit.Diff(before, after)
	}

	known := make(map[string]struct{})
	for _, k := range audit.KeyUnion(before, after) {
		known[k] = struct{}{}
	}
	out := make([]string, 0, len(supplied))
	for _, f := range pstrings.DedupeAndTrim(supplied) {
		if _, ok := known[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

func encodeSnapshot(s *audit.Snapshot) (*string, error) {
	if s == nil {
		return nil, nil
	}
	b, err := audit.EncodeJSON(s)
	if err != nil {
		return nil, err
	}
	text := string(b)
	return &text, nil
}

func actorName(p audit.Principal) string {
	name := clean(p.Username)
	if name == "" {
		return audit.AnonymousActor
	}
	return truncate(name, maxActorLen)
}

func optional(s string, limit int) *string {
	s = clean(s)
	if s == "" {
		return nil
	}
	s = truncate(s, limit)
	return &s
}

// clean trims s and drops NUL bytes, which PostgreSQL text columns reject.
func clean(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

// truncate cuts s to at most limit runes without splitting a multi-byte rune.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
