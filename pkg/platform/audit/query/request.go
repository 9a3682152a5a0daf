package query

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	audit "landrecords/pkg/platform/audit"
)

// Request carries the raw listing parameters. Nothing here is trusted; Plan
// turns it into bounded, typed values.
type Request struct {
	Page       string
	Limit      string
	Q          string
	Username   string
	EntityType string
	Action     string
	From       string
	To         string
	Sort       string
}

// RequestFromValues reads listing parameters from a URL query.
func RequestFromValues(v url.Values) Request {
	return Request{
		Page:       v.Get("page"),
		Limit:      v.Get("limit"),
		Q:          v.Get("q"),
		Username:   v.Get("username"),
		EntityType: v.Get("entity_type"),
		Action:     v.Get("action"),
		From:       v.Get("from"),
		To:         v.Get("to"),
		Sort:       v.Get("sort"),
	}
}

// Plan is a request resolved against a Config.
type Plan struct {
	Filter audit.Filter
	Order  audit.Order
	Sort   Sort
	Page   int
	Limit  int
	Offset int
}

// Plan resolves a request. Malformed values never fail: they fall back to the
// default or are treated as absent.
func (c Config) Plan(req Request) Plan {
	c = c.withDefaults()

	page := 1
	if n, err := strconv.Atoi(strings.TrimSpace(req.Page)); err == nil && n > 1 {
		page = n
	}
	limit := c.DefaultLimit
	if n, err := strconv.Atoi(strings.TrimSpace(req.Limit)); err == nil && n != 0 {
		limit = clamp(n, c.MinLimit, c.MaxLimit)
	}

	sort := Sort(strings.ToLower(strings.TrimSpace(req.Sort)))
	order, ok := sortOrders[sort]
	if !ok {
		sort = c.DefaultSort
		order = sortOrders[sort]
	}

	return Plan{
		Filter: c.filter(req),
		Order:  order,
		Sort:   sort,
		Page:   page,
		Limit:  limit,
		Offset: offset(page, limit),
	}
}

func offset(page, limit int) int {
	skip := page - 1
	if skip > math.MaxInt/limit {
		return math.MaxInt
	}
	return skip * limit
}

func (c Config) filter(req Request) audit.Filter {
	var f audit.Filter

	if v := strings.TrimSpace(req.Username); v != "" {
		f.All = append(f.All, audit.Predicate{Field: audit.FieldUsername, Op: audit.OpContains, Value: v})
	}
	if v := strings.TrimSpace(req.EntityType); v != "" {
		f.All = append(f.All, audit.Predicate{Field: audit.FieldEntityType, Op: audit.OpContains, Value: v})
	}
	if a, err := audit.ParseAction(req.Action); err == nil {
		f.All = append(f.All, audit.Predicate{Field: audit.FieldAction, Op: audit.OpEq, Value: a})
	}
	if from, ok := c.parseBound(req.From, false); ok {
		f.All = append(f.All, audit.Predicate{Field: audit.FieldCreatedAt, Op: audit.OpGte, Value: from})
	}
	if to, ok := c.parseBound(req.To, true); ok {
		f.All = append(f.All, audit.Predicate{Field: audit.FieldCreatedAt, Op: audit.OpLte, Value: to})
	}

	if q := strings.TrimSpace(req.Q); q != "" {
		f.Any = append(f.Any,
			audit.Predicate{Field: audit.FieldUsername, Op: audit.OpContains, Value: q},
			audit.Predicate{Field: audit.FieldEntityType, Op: audit.OpContains, Value: q},
			audit.Predicate{Field: audit.FieldEntityID, Op: audit.OpContains, Value: q},
		)
		for _, key := range c.ContextSearchKeys {
			f.Any = append(f.Any, audit.Predicate{Field: audit.FieldContext, Key: key, Op: audit.OpContains, Value: q})
		}
		f.Any = append(f.Any, audit.Predicate{Field: audit.FieldPayload, Op: audit.OpContains, Value: q})
	}
	return f
}

// parseBound reads a from/to value. A date-only value covers the whole day in
// the configured location; full timestamps are used verbatim.
func (c Config) parseBound(raw string, endOfDay bool) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	day, err := time.ParseInLocation("2006-01-02", raw, c.Location)
	if err != nil {
		return time.Time{}, false
	}
	if endOfDay {
		return day.AddDate(0, 0, 1).Add(-time.Microsecond), true
	}
	return day, true
}
