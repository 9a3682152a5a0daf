package query

import (
	"net/url"
	"testing"
	"time"

	audit "landrecords/pkg/platform/audit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestFromValues(t *testing.T) {
	v := url.Values{}
	v.Set("page", "3")
	v.Set("limit", "50")
	v.Set("q", "L-7")
	v.Set("entity_type", "ibaan")
	v.Set("sort", "created_at_asc")

	req := RequestFromValues(v)

	assert.Equal(t, Request{Page: "3", Limit: "50", Q: "L-7", EntityType: "ibaan", Sort: "created_at_asc"}, req)
}

func TestPlan(t *testing.T) {
	manila := time.FixedZone("PHT", 8*3600)
	cfg := DefaultConfig()
	cfg.Location = manila

	t.Run("date-only bounds cover the whole day in the configured zone", func(t *testing.T) {
		plan := cfg.Plan(Request{From: "2024-01-15", To: "2024-01-15"})

		require.Len(t, plan.Filter.All, 2)
		assert.Equal(t, audit.OpGte, plan.Filter.All[0].Op)
		assert.True(t, time.Date(2024, 1, 15, 0, 0, 0, 0, manila).Equal(plan.Filter.All[0].Value.(time.Time)))
		assert.Equal(t, audit.OpLte, plan.Filter.All[1].Op)
		assert.True(t, time.Date(2024, 1, 15, 23, 59, 59, 999999000, manila).Equal(plan.Filter.All[1].Value.(time.Time)))
	})

	t.Run("offset follows page and limit", func(t *testing.T) {
		plan := cfg.Plan(Request{Page: "3", Limit: "25"})
		assert.Equal(t, 50, plan.Offset)
		assert.Equal(t, audit.OrderNewestFirst, plan.Order)
		assert.Equal(t, SortCreatedAtDesc, plan.Sort)
	})

	t.Run("huge page saturates the offset", func(t *testing.T) {
		plan := cfg.Plan(Request{Page: "9223372036854775807", Limit: "200"})
		assert.Positive(t, plan.Offset)
	})

	t.Run("q expands to an OR group over configured keys", func(t *testing.T) {
		plan := cfg.Plan(Request{Q: "  42 "})

		assert.Empty(t, plan.Filter.All)
		fields := make([]string, 0, len(plan.Filter.Any))
		for _, p := range plan.Filter.Any {
			assert.Equal(t, "42", p.Value)
			fields = append(fields, string(p.Field)+":"+p.Key)
		}
		assert.Equal(t, []string{
			"username:", "entity_type:", "entity_id:",
			"entity_ctx:ParcelId", "entity_ctx:LotNumber", "entity_ctx:BarangayNa",
			"payload:",
		}, fields)
	})

	t.Run("blank parameters produce an empty filter", func(t *testing.T) {
		plan := cfg.Plan(Request{Username: "  ", Q: "", Action: ""})
		assert.True(t, plan.Filter.IsEmpty())
	})
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{MaxLimit: 50, DefaultLimit: 80, DefaultSort: "bogus"}.withDefaults()

	assert.Equal(t, 1, cfg.MinLimit)
	assert.Equal(t, 50, cfg.DefaultLimit, "default is clamped into range")
	assert.Equal(t, SortCreatedAtDesc, cfg.DefaultSort)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, []string{"ParcelId", "LotNumber", "BarangayNa"}, cfg.ContextSearchKeys)
}
