package writer

import (
	"context"

	audit "landrecords/pkg/platform/audit"
	"landrecords/pkg/requestcontext"
)

// Change identifies the entity a controller just mutated. Actor, IP and user
// agent are taken from the request context when left empty.
type Change struct {
	Actor      audit.Principal
	EntityType string
	EntityID   string
	Context    map[string]any
	IP         string
	UserAgent  string
}

// Recorder is the helper entity controllers call after a mutation commits. It
// projects full rows through the entity's allow-list and decides whether a
// change is worth recording.
type Recorder struct {
	writer   *Writer
	registry audit.Registry
}

func NewRecorder(w *Writer, registry audit.Registry) *Recorder {
	return &Recorder{writer: w, registry: registry}
}

// Created records a new entity. Every projected field counts as changed.
func (r *Recorder) Created(ctx context.Context, c Change, created map[string]any) {
	after := r.registry.Project(c.EntityType, created)
	r.writer.Write(ctx, r.event(ctx, c, audit.ActionCreate, nil, after, nil))
}

// Updated records a modification and reports whether a record was written.
// Updates that leave every allow-listed field unchanged are skipped.
func (r *Recorder) Updated(ctx context.Context, c Change, before, after map[string]any) bool {
	b := r.registry.Project(c.EntityType, before)
	a := r.registry.Project(c.EntityType, after)
	changed := audit.Diff(b, a)
	if len(changed) == 0 {
		return false
	}
	r.writer.Write(ctx, r.event(ctx, c, audit.ActionUpdate, b, a, changed))
	return true
}

// Deleted records the removal of an entity with its last known state.
func (r *Recorder) Deleted(ctx context.Context, c Change, deleted map[string]any) {
	before := r.registry.Project(c.EntityType, deleted)
	r.writer.Write(ctx, r.event(ctx, c, audit.ActionDelete, before, nil, []string{}))
}

func (r *Recorder) event(ctx context.Context, c Change, action audit.Action, before, after *audit.Snapshot, changed []string) audit.Event {
	actor := c.Actor
	if actor.Username == "" {
		actor.Username = requestcontext.Username(ctx)
	}
	if actor.UserID == nil {
		actor.UserID = requestcontext.UserID(ctx)
	}
	ip := c.IP
	if ip == "" {
		ip = requestcontext.ClientIP(ctx)
	}
	ua := c.UserAgent
	if ua == "" {
		ua = requestcontext.UserAgent(ctx)
	}
	return audit.Event{
		Actor:         actor,
		Action:        action,
		EntityType:    c.EntityType,
		EntityID:      c.EntityID,
		Context:       c.Context,
		ChangedFields: changed,
		Before:        before,
		After:         after,
		IP:            ip,
		UserAgent:     ua,
	}
}
