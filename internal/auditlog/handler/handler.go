package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mssola/useragent"

	"landrecords/internal/platform/metrics"
	"landrecords/internal/platform/middleware"
	dErrors "landrecords/pkg/domain-errors"
	audit "landrecords/pkg/platform/audit"
	"landrecords/pkg/platform/audit/query"
	"landrecords/pkg/platform/httputil"
)

// Service defines the interface for audit log listings.
type Service interface {
	Query(ctx context.Context, req query.Request) (*query.Page, error)
}

// Handler serves the audit log listing.
type Handler struct {
	logger       *slog.Logger
	service      Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
	timeout      time.Duration
}

// New creates a new audit log Handler. A nil validator leaves the listing
// unauthenticated.
func New(
	service Service,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		service:      service,
		metrics:      metrics,
		jwtValidator: jwtValidator,
		timeout:      30 * time.Second,
	}
}

// Register registers the audit log routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	auditRouter := chi.NewRouter()
	auditRouter.Use(middleware.Recovery(h.logger))
	auditRouter.Use(middleware.RequestID)
	auditRouter.Use(middleware.Logger(h.logger))
	auditRouter.Use(middleware.Timeout(h.timeout))
	auditRouter.Use(middleware.ContentTypeJSON)
	auditRouter.Use(middleware.LatencyMiddleware(h.metrics))
	if h.jwtValidator != nil {
		auditRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
	}
	auditRouter.Get("/audit-logs", h.handleListAuditLogs)

	r.Mount("/", auditRouter)
}

// clientSummary is the parsed form of a record's user agent.
type clientSummary struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	Platform       string `json:"platform,omitempty"`
	Mobile         bool   `json:"mobile"`
	Bot            bool   `json:"bot"`
}

type recordResponse struct {
	audit.Record
	Client *clientSummary `json:"client,omitempty"`
}

type listResponse struct {
	Data  []recordResponse `json:"data"`
	Total int64            `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

// handleListAuditLogs lists audit records. Malformed parameters fall back to
// defaults; only storage failures produce an error response.
func (h *Handler) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req := query.RequestFromValues(r.URL.Query())
	page, err := h.service.Query(ctx, req)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list audit logs",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit logs"))
		return
	}

	resp := listResponse{
		Data:  make([]recordResponse, 0, len(page.Data)),
		Total: page.Total,
		Page:  page.Page,
		Limit: page.Limit,
	}
	for _, rec := range page.Data {
		resp.Data = append(resp.Data, recordResponse{Record: rec, Client: summarizeClient(rec.UserAgent)})
	}

	h.logger.InfoContext(ctx, "audit logs listed",
		"total", page.Total,
		"page", page.Page,
		"returned", len(resp.Data),
		"request_id", requestID,
	)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func summarizeClient(ua *string) *clientSummary {
	if ua == nil || *ua == "" {
		return nil
	}
	parsed := useragent.New(*ua)
	browser, version := parsed.Browser()
	return &clientSummary{
		Browser:        browser,
		BrowserVersion: version,
		OS:             parsed.OS(),
		Platform:       parsed.Platform(),
		Mobile:         parsed.Mobile(),
		Bot:            parsed.Bot(),
	}
}
