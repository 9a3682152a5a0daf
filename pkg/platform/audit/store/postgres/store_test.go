package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	audit "landrecords/pkg/platform/audit"
	"landrecords/pkg/platform/sentinel"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

var recordColumns = []string{
	"id", "user_id", "username", "action", "entity_type", "entity_id",
	"entity_ctx", "changed_fields", "before_data", "after_data",
	"ip", "user_agent", "created_at",
}

func TestStore_EnsureSchema(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "audit_logs"`).WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, New(db).EnsureSchema(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("custom table is quoted", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta(`CREATE INDEX IF NOT EXISTS "idx_parcel_audit_created_at" ON "parcel_audit"(created_at)`)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, New(db, WithTable("parcel_audit")).EnsureSchema(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnError(errors.New("permission denied"))

		err := New(db).EnsureSchema(context.Background())
		assert.ErrorContains(t, err, "ensure audit_logs table")
	})
}

func TestStore_Append(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	after := `{"ParcelId":42}`
	row := audit.Row{
		Username:      "maria",
		Action:        audit.ActionCreate,
		EntityType:    "ibaan",
		EntityID:      "42",
		EntityCtx:     `{"ParcelId":42}`,
		ChangedFields: `["ParcelId"]`,
		AfterData:     &after,
		CreatedAt:     time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(`INSERT INTO "audit_logs"`).
		WithArgs(sqlmock.AnyArg(), "maria", "CREATE", "ibaan", "42", `{"ParcelId":42}`, `["ParcelId"]`,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, New(db).Append(context.Background(), row))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AppendConnectionFailure(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO "audit_logs"`).WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})

	err := New(db).Append(context.Background(), audit.Row{Action: audit.ActionCreate, EntityID: "1"})
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestStore_AppendFailureLeavesCallerTransaction(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "audit_logs"`).
		WillReturnError(&pq.Error{Code: "22001", Message: "value too long for type character varying(255)"})
	mock.ExpectCommit()

	business, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)

	err = New(db).Append(context.Background(), audit.Row{Action: audit.ActionUpdate, EntityType: "ibaan", EntityID: "42"})
	require.Error(t, err)

	assert.NoError(t, business.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Count(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	filter := audit.Filter{All: []audit.Predicate{
		{Field: audit.FieldUsername, Op: audit.OpContains, Value: "50%_off"},
		{Field: audit.FieldAction, Op: audit.OpEq, Value: audit.ActionUpdate},
	}}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "audit_logs" WHERE 1=1 AND username ILIKE $1 AND action = $2`)).
		WithArgs(`%50\%\_off%`, "UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := New(db).Count(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Find(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	created := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	from := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	filter := audit.Filter{All: []audit.Predicate{
		{Field: audit.FieldCreatedAt, Op: audit.OpGte, Value: from},
	}}

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE 1=1 AND created_at >= $1 ORDER BY created_at ASC, id ASC LIMIT $2 OFFSET $3`)).
		WithArgs(from, 20, 40).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(int64(11), int64(3), "maria", "UPDATE", "ibaan", "42",
				`{"ParcelId":42}`, `["Area"]`, `{"Area":500}`, `{"Area":520}`,
				"10.0.0.1", nil, created).
			AddRow(int64(12), nil, "anonymous", "DELETE", "ibaan", "43",
				`{}`, `[]`, `{"Area":1}`, nil,
				nil, nil, created))

	records, err := New(db).Find(context.Background(), filter, audit.OrderOldestFirst, 20, 40)
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, int64(11), first.ID)
	assert.Equal(t, int64(3), *first.UserID)
	assert.Equal(t, audit.ActionUpdate, first.Action)
	assert.Equal(t, []string{"Area"}, first.ChangedFields)
	assert.Equal(t, "10.0.0.1", *first.IP)
	assert.Nil(t, first.UserAgent)

	second := records[1]
	assert.Nil(t, second.UserID)
	assert.Nil(t, second.After)
	assert.NotNil(t, second.Before)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindError(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery("SELECT id").WillReturnError(errors.New("relation does not exist"))

	_, err := New(db).Find(context.Background(), audit.Filter{}, audit.OrderNewestFirst, 20, 0)
	assert.ErrorContains(t, err, "query audit rows")
}

func TestCompile(t *testing.T) {
	t.Run("search group is ORed and parenthesized", func(t *testing.T) {
		f := audit.Filter{
			All: []audit.Predicate{{Field: audit.FieldEntityType, Op: audit.OpContains, Value: "ibaan"}},
			Any: []audit.Predicate{
				{Field: audit.FieldEntityID, Op: audit.OpContains, Value: "42"},
				{Field: audit.FieldContext, Key: "LotNumber", Op: audit.OpContains, Value: "42"},
				{Field: audit.FieldPayload, Op: audit.OpContains, Value: "42"},
			},
		}

		where, args, err := compile(f)
		require.NoError(t, err)

		assert.Equal(t,
			" AND entity_type ILIKE $1 AND (entity_id ILIKE $2 OR (entity_ctx::jsonb ->> $3) ILIKE $4"+
				" OR concat_ws(' ', entity_ctx, changed_fields, before_data, after_data) ILIKE $5)",
			where)
		assert.Equal(t, []any{"%ibaan%", "%42%", "LotNumber", "%42%", "%42%"}, args)
	})

	t.Run("injection attempts stay in arguments", func(t *testing.T) {
		where, args, err := compile(audit.Filter{All: []audit.Predicate{
			{Field: audit.FieldUsername, Op: audit.OpContains, Value: "x' OR '1'='1"},
		}})
		require.NoError(t, err)
		assert.Equal(t, " AND username ILIKE $1", where)
		assert.Equal(t, []any{"%x' OR '1'='1%"}, args)
	})

	t.Run("empty filter", func(t *testing.T) {
		where, args, err := compile(audit.Filter{})
		require.NoError(t, err)
		assert.Empty(t, where)
		assert.Empty(t, args)
	})

	t.Run("unsupported predicates are rejected", func(t *testing.T) {
		_, _, err := compile(audit.Filter{All: []audit.Predicate{{Field: audit.FieldCreatedAt, Op: audit.OpGte, Value: "yesterday"}}})
		assert.Error(t, err)

		_, _, err = compile(audit.Filter{All: []audit.Predicate{{Field: "geometry", Op: audit.OpEq, Value: "x"}}})
		assert.Error(t, err)

		_, _, err = compile(audit.Filter{Any: []audit.Predicate{{Field: audit.FieldContext, Op: audit.OpContains, Value: "x"}}})
		assert.Error(t, err)
	})
}
