package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestDecodeRow(t *testing.T) {
	created := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	t.Run("decodes JSON columns", func(t *testing.T) {
		row := Row{
			Username:      "maria",
			Action:        ActionUpdate,
			EntityType:    "ibaan",
			EntityID:      "42",
			EntityCtx:     `{"ParcelId":42,"LotNumber":"L-7"}`,
			ChangedFields: `["Area"]`,
			BeforeData:    strPtr(`{"ParcelId":42,"Area":500}`),
			AfterData:     strPtr(`{"ParcelId":42,"Area":520}`),
			IP:            strPtr("10.0.0.1"),
			CreatedAt:     created,
		}

		rec, err := DecodeRow(7, row)
		require.NoError(t, err)

		assert.Equal(t, int64(7), rec.ID)
		assert.Equal(t, []string{"Area"}, rec.ChangedFields)
		assert.Equal(t, "L-7", rec.EntityCtx["LotNumber"])
		require.NotNil(t, rec.Before)
		assert.Equal(t, []string{"ParcelId", "Area"}, rec.Before.Keys())
		area, _ := rec.After.Get("Area")
		assert.Equal(t, float64(520), area)
		assert.Nil(t, rec.UserAgent)
		assert.Equal(t, created, rec.CreatedAt)
	})

	t.Run("null snapshots stay nil and empty columns get defaults", func(t *testing.T) {
		rec, err := DecodeRow(1, Row{Action: ActionDelete, EntityID: "1"})
		require.NoError(t, err)

		assert.Nil(t, rec.Before)
		assert.Nil(t, rec.After)
		assert.Equal(t, map[string]any{}, rec.EntityCtx)
		assert.Equal(t, []string{}, rec.ChangedFields)
	})

	t.Run("malformed column is an error", func(t *testing.T) {
		_, err := DecodeRow(3, Row{EntityCtx: "{not json"})
		assert.ErrorContains(t, err, "entity_ctx")
	})
}

func TestFilterKey(t *testing.T) {
	at := time.Date(2024, 1, 15, 0, 0, 0, 0, time.FixedZone("PHT", 8*3600))
	a := Filter{All: []Predicate{
		{Field: FieldUsername, Op: OpContains, Value: "maria"},
		{Field: FieldCreatedAt, Op: OpGte, Value: at},
	}}
	b := Filter{All: []Predicate{
		{Field: FieldUsername, Op: OpContains, Value: "maria"},
		{Field: FieldCreatedAt, Op: OpGte, Value: at.UTC()},
	}}

	assert.Equal(t, a.Key(), b.Key(), "same instant keys the same")
	assert.NotEqual(t, a.Key(), Filter{Any: a.All}.Key())
	assert.True(t, Filter{}.IsEmpty())
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" update ")
	require.NoError(t, err)
	assert.Equal(t, ActionUpdate, a)

	_, err = ParseAction("PURGE")
	assert.Error(t, err)
}
