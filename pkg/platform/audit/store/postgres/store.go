package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	audit "landrecords/pkg/platform/audit"
	"landrecords/pkg/platform/sentinel"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const defaultTable = "audit_logs"

// Store implements audit.Store and audit.Reader on PostgreSQL. Filters are
// compiled into positional parameters; user text never reaches the SQL.
type Store struct {
	db    *sql.DB
	name  string
	table string
}

// Option configures the Store.
type Option func(*Store)

// WithTable overrides the table name. The name is quoted as an identifier.
func WithTable(name string) Option {
	return func(s *Store) {
		s.name = name
		s.table = pq.QuoteIdentifier(name)
	}
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, name: defaultTable, table: pq.QuoteIdentifier(defaultTable)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the audit table and its indexes if they are missing.
// Production deployments run migrations; this is for development and tests.
func (s *Store) EnsureSchema(ctx context.Context) error {
	idx := func(column string) string {
		return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s);",
			pq.QuoteIdentifier("idx_"+s.name+"_"+column), s.table, column)
	}
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT,
		username VARCHAR(255) NOT NULL,
		action VARCHAR(16) NOT NULL CHECK (action IN ('CREATE', 'UPDATE', 'DELETE')),
		entity_type VARCHAR(255) NOT NULL,
		entity_id VARCHAR(255) NOT NULL CHECK (entity_id <> ''),
		entity_ctx TEXT NOT NULL DEFAULT '{}',
		changed_fields TEXT NOT NULL DEFAULT '[]',
		before_data TEXT,
		after_data TEXT,
		ip VARCHAR(64),
		user_agent TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	%s
	%s
	%s
	%s
	`, s.table, idx("created_at"), idx("username"), idx("entity_type"), idx("action"))

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure %s table: %w", s.name, classify(err))
	}
	return nil
}

// Append inserts one audit row on the pool. It never joins a caller's
// transaction: a failed insert must not abort the business write.
// created_at falls back to the database clock when the row carries none.
func (s *Store) Append(ctx context.Context, row audit.Row) error {
	var createdAt any
	if !row.CreatedAt.IsZero() {
		createdAt = row.CreatedAt
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (
			user_id, username, action, entity_type, entity_id,
			entity_ctx, changed_fields, before_data, after_data,
			ip, user_agent, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12::timestamptz, now()))
	`, s.table)

	_, err := s.db.ExecContext(ctx, query,
		row.UserID,
		row.Username,
		string(row.Action),
		row.EntityType,
		row.EntityID,
		row.EntityCtx,
		row.ChangedFields,
		row.BeforeData,
		row.AfterData,
		row.IP,
		row.UserAgent,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit row: %w", classify(err))
	}
	return nil
}

// Count returns the number of rows matching the filter.
func (s *Store) Count(ctx context.Context, filter audit.Filter) (int64, error) {
	where, args, err := compile(filter)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", s.table, where)

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit rows: %w", classify(err))
	}
	return n, nil
}

// Find returns one page of matching rows. Ties on created_at are broken by id
// so consecutive pages never overlap.
func (s *Store) Find(ctx context.Context, filter audit.Filter, order audit.Order, limit, offset int) ([]audit.Record, error) {
	where, args, err := compile(filter)
	if err != nil {
		return nil, err
	}
	direction := "DESC"
	if order == audit.OrderOldestFirst {
		direction = "ASC"
	}
	n := len(args)
	query := fmt.Sprintf(`
		SELECT id, user_id, username, action, entity_type, entity_id,
			   entity_ctx, changed_fields, before_data, after_data,
			   ip, user_agent, created_at
		FROM %s
		WHERE 1=1%s
		ORDER BY created_at %s, id %s
		LIMIT $%d OFFSET $%d
	`, s.table, where, direction, direction, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit rows: %w", classify(err))
	}
	defer rows.Close()

	records := make([]audit.Record, 0, limit)
	for rows.Next() {
		var (
			id         int64
			row        audit.Row
			action     string
			userID     sql.NullInt64
			beforeData sql.NullString
			afterData  sql.NullString
			ip         sql.NullString
			userAgent  sql.NullString
		)
		if err := rows.Scan(
			&id, &userID, &row.Username, &action, &row.EntityType, &row.EntityID,
			&row.EntityCtx, &row.ChangedFields, &beforeData, &afterData,
			&ip, &userAgent, &row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		row.Action = audit.Action(action)
		if userID.Valid {
			row.UserID = &userID.Int64
		}
		row.BeforeData = nullable(beforeData)
		row.AfterData = nullable(afterData)
		row.IP = nullable(ip)
		row.UserAgent = nullable(userAgent)

		rec, err := audit.DecodeRow(id, row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", classify(err))
	}
	return records, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

var textColumns = map[audit.Field]string{
	audit.FieldUsername:   "username",
	audit.FieldEntityType: "entity_type",
	audit.FieldEntityID:   "entity_id",
	audit.FieldAction:     "action",
}

const payloadExpr = "concat_ws(' ', entity_ctx, changed_fields, before_data, after_data)"

// compile turns a filter into a WHERE suffix beginning with " AND" and its
// positional arguments.
func compile(f audit.Filter) (string, []any, error) {
	var (
		b    strings.Builder
		args []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, p := range f.All {
		clause, err := compilePredicate(p, next)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" AND ")
		b.WriteString(clause)
	}
	if len(f.Any) > 0 {
		clauses := make([]string, 0, len(f.Any))
		for _, p := range f.Any {
			clause, err := compilePredicate(p, next)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, clause)
		}
		b.WriteString(" AND (")
		b.WriteString(strings.Join(clauses, " OR "))
		b.WriteString(")")
	}
	return b.String(), args, nil
}

func compilePredicate(p audit.Predicate, next func(any) string) (string, error) {
	switch p.Field {
	case audit.FieldUsername, audit.FieldEntityType, audit.FieldEntityID, audit.FieldAction:
		return compileText(textColumns[p.Field], p, next)
	case audit.FieldContext:
		if p.Key == "" {
			return "", fmt.Errorf("context predicate requires a key")
		}
		return compileText(fmt.Sprintf("(entity_ctx::jsonb ->> %s)", next(p.Key)), p, next)
	case audit.FieldPayload:
		return compileText(payloadExpr, p, next)
	case audit.FieldCreatedAt:
		at, ok := p.Value.(time.Time)
		if !ok {
			return "", fmt.Errorf("created_at predicate requires a time, got %T", p.Value)
		}
		switch p.Op {
		case audit.OpGte:
			return "created_at >= " + next(at), nil
		case audit.OpLte:
			return "created_at <= " + next(at), nil
		case audit.OpEq:
			return "created_at = " + next(at), nil
		}
	}
	return "", fmt.Errorf("unsupported audit predicate: %s", p)
}

func compileText(expr string, p audit.Predicate, next func(any) string) (string, error) {
	value := fmt.Sprint(p.Value)
	switch p.Op {
	case audit.OpContains:
		return fmt.Sprintf("%s ILIKE %s", expr, next("%"+escapeLike(value)+"%")), nil
	case audit.OpEq:
		if p.Field == audit.FieldAction {
			return fmt.Sprintf("%s = %s", expr, next(value)), nil
		}
		return fmt.Sprintf("lower(%s) = lower(%s)", expr, next(value)), nil
	}
	return "", fmt.Errorf("unsupported audit predicate: %s", p)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// classify marks connection-level failures from either driver as
// sentinel.ErrUnavailable so callers can tell an outage from a bad query.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "08" {
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "08") {
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	return err
}
