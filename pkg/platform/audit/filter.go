package audit

import (
	"fmt"
	"strings"
	"time"
)

// Field names a column of the audit trail that a predicate can test.
type Field string

const (
	FieldUsername   Field = "username"
	FieldEntityType Field = "entity_type"
	FieldEntityID   Field = "entity_id"
	FieldAction     Field = "action"
	FieldCreatedAt  Field = "created_at"
	// FieldContext tests one key of the entity context; Predicate.Key names it.
	FieldContext Field = "entity_ctx"
	// FieldPayload tests the concatenated text of context, changed fields and
	// both snapshots.
	FieldPayload Field = "payload"
)

// Op is a comparison applied by a predicate.
type Op string

const (
	// OpContains is a case-insensitive substring match on text.
	OpContains Op = "contains"
	OpEq       Op = "eq"
	OpGte      Op = "gte"
	OpLte      Op = "lte"
)

// Predicate is one typed condition. Value is a string for text fields, an
// Action for FieldAction and a time.Time for FieldCreatedAt.
type Predicate struct {
	Field Field
	Key   string
	Op    Op
	Value any
}

func (p Predicate) String() string {
	if p.Key != "" {
		return fmt.Sprintf("%s[%s] %s %v", p.Field, p.Key, p.Op, p.Value)
	}
	return fmt.Sprintf("%s %s %v", p.Field, p.Op, p.Value)
}

// Filter combines predicates: every predicate in All must hold, and when Any
// is non-empty at least one of its predicates must hold.
type Filter struct {
	All []Predicate
	Any []Predicate
}

// IsEmpty reports whether the filter matches every record.
func (f Filter) IsEmpty() bool {
	return len(f.All) == 0 && len(f.Any) == 0
}

// Key is a stable textual form of the filter, suitable for cache keys.
func (f Filter) Key() string {
	var b strings.Builder
	for _, p := range f.All {
		b.WriteString("all:")
		b.WriteString(predicateKey(p))
		b.WriteByte(';')
	}
	for _, p := range f.Any {
		b.WriteString("any:")
		b.WriteString(predicateKey(p))
		b.WriteByte(';')
	}
	return b.String()
}

func predicateKey(p Predicate) string {
	value := fmt.Sprint(p.Value)
	if t, ok := p.Value.(time.Time); ok {
		value = t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%s|%s|%s|%q", p.Field, p.Key, p.Op, value)
}

// Order is the sort direction of a listing. Ties on created_at break on id in
// the same direction so pages are stable.
type Order int

const (
	OrderNewestFirst Order = iota
	OrderOldestFirst
)
