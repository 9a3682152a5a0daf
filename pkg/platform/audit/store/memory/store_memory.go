package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	audit "landrecords/pkg/platform/audit"
)

type storedRow struct {
	id  int64
	row audit.Row
}

// InMemoryStore keeps audit rows in process memory. It evaluates filters in Go
// with the same semantics the SQL store compiles them to.
type InMemoryStore struct {
	mu     sync.RWMutex
	rows   []storedRow
	nextID int64
	now    func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{now: time.Now}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = nil
	s.nextID = 0
}

func (s *InMemoryStore) Append(_ context.Context, row audit.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now()
	}
	s.nextID++
	s.rows = append(s.rows, storedRow{id: s.nextID, row: row})
	return nil
}

// Rows returns a copy of every stored row in insertion order.
func (s *InMemoryStore) Rows() []audit.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Row, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r.row)
	}
	return out
}

func (s *InMemoryStore) Count(_ context.Context, filter audit.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, r := range s.rows {
		if matches(r.row, filter) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Find(_ context.Context, filter audit.Filter, order audit.Order, limit, offset int) ([]audit.Record, error) {
	s.mu.RLock()
	matched := make([]storedRow, 0)
	for _, r := range s.rows {
		if matches(r.row, filter) {
			matched = append(matched, r)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.row.CreatedAt.Equal(b.row.CreatedAt) {
			if order == audit.OrderOldestFirst {
				return a.row.CreatedAt.Before(b.row.CreatedAt)
			}
			return a.row.CreatedAt.After(b.row.CreatedAt)
		}
		if order == audit.OrderOldestFirst {
			return a.id < b.id
		}
		return a.id > b.id
	})

	if offset >= len(matched) {
		return []audit.Record{}, nil
	}
	matched = matched[offset:]
	if limit >= 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	records := make([]audit.Record, 0, len(matched))
	for _, r := range matched {
		rec, err := audit.DecodeRow(r.id, r.row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func matches(row audit.Row, f audit.Filter) bool {
	for _, p := range f.All {
		if !holds(row, p) {
			return false
		}
	}
	if len(f.Any) == 0 {
		return true
	}
	for _, p := range f.Any {
		if holds(row, p) {
			return true
		}
	}
	return false
}

func holds(row audit.Row, p audit.Predicate) bool {
	switch p.Field {
	case audit.FieldUsername:
		return compareText(row.Username, p)
	case audit.FieldEntityType:
		return compareText(row.EntityType, p)
	case audit.FieldEntityID:
		return compareText(row.EntityID, p)
	case audit.FieldAction:
		return compareText(string(row.Action), p)
	case audit.FieldContext:
		v, ok := contextValue(row.EntityCtx, p.Key)
		return ok && compareText(v, p)
	case audit.FieldPayload:
		return compareText(payloadText(row), p)
	case audit.FieldCreatedAt:
		at, ok := p.Value.(time.Time)
		if !ok {
			return false
		}
		switch p.Op {
		case audit.OpGte:
			return !row.CreatedAt.Before(at)
		case audit.OpLte:
			return !row.CreatedAt.After(at)
		case audit.OpEq:
			return row.CreatedAt.Equal(at)
		}
	}
	return false
}

func compareText(have string, p audit.Predicate) bool {
	want := fmt.Sprint(p.Value)
	switch p.Op {
	case audit.OpContains:
		return strings.Contains(strings.ToLower(have), strings.ToLower(want))
	case audit.OpEq:
		return strings.EqualFold(have, want)
	}
	return false
}

func contextValue(entityCtx, key string) (string, bool) {
	if entityCtx == "" {
		return "", false
	}
	var ctx map[string]any
	if err := json.Unmarshal([]byte(entityCtx), &ctx); err != nil {
		return "", false
	}
	v, ok := ctx[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	b, err := audit.EncodeJSON(v)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func payloadText(row audit.Row) string {
	parts := []string{row.EntityCtx, row.ChangedFields}
	if row.BeforeData != nil {
		parts = append(parts, *row.BeforeData)
	}
	if row.AfterData != nil {
		parts = append(parts, *row.AfterData)
	}
	return strings.Join(parts, " ")
}
