package audit

import (
	"context"
)

// Store persists encoded audit rows. Implementations assign the surrogate id
// and must never update or delete an existing row.
type Store interface {
	Append(ctx context.Context, row Row) error
}

// Reader is the read side used by the query engine. The filter is compiled by
// each implementation into its own parameterized form.
type Reader interface {
	Count(ctx context.Context, filter Filter) (int64, error)
	Find(ctx context.Context, filter Filter, order Order, limit, offset int) ([]Record, error)
}

// Sink receives a copy of every row after it has been stored. Sinks are
// best-effort mirrors; a sink failure never affects the stored row.
type Sink interface {
	Publish(ctx context.Context, row Row) error
}
