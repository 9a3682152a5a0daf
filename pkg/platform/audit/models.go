package audit

import (
	"fmt"
	"strings"
	"time"
)

// Action is the closed set of entity mutations that produce an audit record.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// AnonymousActor is recorded when a mutation arrives without an authenticated principal.
const AnonymousActor = "anonymous"

// ParseAction validates an action name. Matching is case-insensitive so
// "update" and "UPDATE" both resolve to ActionUpdate.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", fmt.Errorf("unknown audit action: %q", s)
	}
	return a, nil
}

// IsValid reports whether the action belongs to the closed enumeration.
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

func (a Action) String() string { return string(a) }

// Principal identifies who caused a change. Authentication happens elsewhere;
// the audit trail only needs a display name and, when known, a numeric id.
type Principal struct {
	Username string
	UserID   *int64
}

// Event is what entity controllers hand to the writer after a mutation commits.
// Before and After must already be reduced through the entity's allow-list.
type Event struct {
	Actor      Principal
	Action     Action
	EntityType string
	EntityID   string
	Context    map[string]any
	// ChangedFields is computed from Before/After when nil. A non-nil empty
	// slice is taken as-is.
	ChangedFields []string
	Before        *Snapshot
	After         *Snapshot
	IP            string
	UserAgent     string
}

// Row is the encoded, storage-ready form of a record. JSON payloads are kept
// as text because the storage layer is not assumed to understand documents.
type Row struct {
	UserID        *int64
	Username      string
	Action        Action
	EntityType    string
	EntityID      string
	EntityCtx     string
	ChangedFields string
	BeforeData    *string
	AfterData     *string
	IP            *string
	UserAgent     *string
	CreatedAt     time.Time
}

// Record is one persisted audit fact as returned by the read path.
type Record struct {
	ID            int64          `json:"id"`
	UserID        *int64         `json:"user_id"`
	Username      string         `json:"username"`
	Action        Action         `json:"action"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	EntityCtx     map[string]any `json:"entity_ctx"`
	ChangedFields []string       `json:"changed_fields"`
	Before        *Snapshot      `json:"before_data"`
	After         *Snapshot      `json:"after_data"`
	IP            *string        `json:"ip"`
	UserAgent     *string        `json:"user_agent"`
	CreatedAt     time.Time      `json:"created_at"`
}
