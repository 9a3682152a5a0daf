// Package service is the entry point the rest of the application uses for the
// audit trail: entity controllers record changes through it and the HTTP
// handler lists them.
package service

import (
	"context"

	audit "landrecords/pkg/platform/audit"
	"landrecords/pkg/platform/audit/query"
	"landrecords/pkg/platform/audit/writer"
)

// Service ties the writer and the query engine to one store.
type Service struct {
	writer   *writer.Writer
	recorder *writer.Recorder
	engine   *query.Engine
}

// New creates the audit service. Entity snapshots are projected through
// registry before they are recorded.
func New(w *writer.Writer, engine *query.Engine, registry audit.Registry) *Service {
	return &Service{
		writer:   w,
		recorder: writer.NewRecorder(w, registry),
		engine:   engine,
	}
}

// Query lists audit records.
func (s *Service) Query(ctx context.Context, req query.Request) (*query.Page, error) {
	return s.engine.Query(ctx, req)
}

// Write records a fully formed event. It never fails.
func (s *Service) Write(ctx context.Context, event audit.Event) {
	s.writer.Write(ctx, event)
}

// Recorder returns the helper controllers call after a mutation commits.
func (s *Service) Recorder() *writer.Recorder {
	return s.recorder
}
