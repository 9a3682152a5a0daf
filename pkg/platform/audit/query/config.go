package query

import (
	"time"

	audit "landrecords/pkg/platform/audit"
)

// Sort names an ordering accepted by the listing endpoint.
type Sort string

const (
	SortCreatedAtDesc Sort = "created_at_desc"
	SortCreatedAtAsc  Sort = "created_at_asc"
)

var sortOrders = map[Sort]audit.Order{
	SortCreatedAtDesc: audit.OrderNewestFirst,
	SortCreatedAtAsc:  audit.OrderOldestFirst,
}

// Config bounds what a caller may ask for. It is passed to New; the engine
// keeps no package-level state.
type Config struct {
	MinLimit     int
	MaxLimit     int
	DefaultLimit int
	DefaultSort  Sort
	// ContextSearchKeys are the entity context keys that free-text search
	// matches individually, in addition to the whole-payload fallback.
	ContextSearchKeys []string
	// Location interprets date-only from/to values.
	Location *time.Location
}

// DefaultConfig matches the parcel registers of the land-records application.
func DefaultConfig() Config {
	return Config{
		MinLimit:          1,
		MaxLimit:          200,
		DefaultLimit:      20,
		DefaultSort:       SortCreatedAtDesc,
		ContextSearchKeys: []string{"ParcelId", "LotNumber", "BarangayNa"},
		Location:          time.UTC,
	}
}

// withDefaults fills zero fields so a partially built Config still behaves.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinLimit <= 0 {
		c.MinLimit = d.MinLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = d.MaxLimit
	}
	if c.MaxLimit < c.MinLimit {
		c.MaxLimit = c.MinLimit
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	c.DefaultLimit = clamp(c.DefaultLimit, c.MinLimit, c.MaxLimit)
	if _, ok := sortOrders[c.DefaultSort]; !ok {
		c.DefaultSort = d.DefaultSort
	}
	if c.ContextSearchKeys == nil {
		c.ContextSearchKeys = d.ContextSearchKeys
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	return c
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
