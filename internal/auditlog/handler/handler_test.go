package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"landrecords/internal/auditlog/handler/mocks"
	"landrecords/internal/platform/middleware"
	audit "landrecords/pkg/platform/audit"
	"landrecords/pkg/platform/audit/query"
	"landrecords/pkg/platform/audit/store/memory"
	"landrecords/pkg/platform/audit/writer"
	"landrecords/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/auditlog-mocks.go -package=mocks Service
type AuditLogHandlerSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *AuditLogHandlerSuite) SetupSuite() {
	s.ctx = context.Background()
}

func TestAuditLogHandlerSuite(t *testing.T) {
	suite.Run(t, new(AuditLogHandlerSuite))
}

type stubValidator struct{}

func (stubValidator) ValidateToken(token string) (*middleware.JWTClaims, error) {
	if token != "valid-token" {
		return nil, errors.New("invalid token")
	}
	return &middleware.JWTClaims{Username: "maria"}, nil
}

func newTestHandler(t *testing.T, validator middleware.JWTValidator) (*Handler, *mocks.MockService, chi.Router) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	mockService := mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := New(mockService, logger, nil, validator)
	r := chi.NewRouter()
	handler.Register(r)
	return handler, mockService, r
}

func strPtr(s string) *string { return &s }

func (s *AuditLogHandlerSuite) TestListAuditLogs() {
	handler, mockService, _ := newTestHandler(s.T(), nil)
	createdAt := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	chrome := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	mockService.EXPECT().Query(gomock.Any(), query.Request{
		Page:       "2",
		Limit:      "5",
		Q:          "juan",
		EntityType: "ibaan",
		Action:     "update",
		From:       "2024-01-15",
		To:         "2024-01-15",
		Sort:       "created_at_asc",
	}).Return(&query.Page{
		Data: []audit.Record{{
			ID:            7,
			Username:      "maria",
			Action:        audit.ActionUpdate,
			EntityType:    "ibaan",
			EntityID:      "42",
			EntityCtx:     map[string]any{"ParcelId": float64(42)},
			ChangedFields: []string{"Area"},
			Before:        audit.NewSnapshot("Area", 500),
			After:         audit.NewSnapshot("Area", 520),
			UserAgent:     strPtr(chrome),
			CreatedAt:     createdAt,
		}},
		Total: 6,
		Page:  2,
		Limit: 5,
	}, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/audit-logs?page=2&limit=5&q=juan&entity_type=ibaan&action=update&from=2024-01-15&to=2024-01-15&sort=created_at_asc", nil)
	w := httptest.NewRecorder()
	handler.handleListAuditLogs(w, req)

	s.Equal(http.StatusOK, w.Code)
	var resp map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(float64(6), resp["total"])
	s.Equal(float64(2), resp["page"])
	s.Equal(float64(5), resp["limit"])

	data := resp["data"].([]any)
	s.Require().Len(data, 1)
	item := data[0].(map[string]any)
	s.Equal(float64(7), item["id"])
	s.Equal("UPDATE", item["action"])
	s.Equal("42", item["entity_id"])
	s.Equal([]any{"Area"}, item["changed_fields"])
	s.Equal(map[string]any{"Area": float64(500)}, item["before_data"])
	s.Equal(map[string]any{"Area": float64(520)}, item["after_data"])
	s.Equal("2024-01-15T09:00:00Z", item["created_at"])

	client := item["client"].(map[string]any)
	s.Equal("Chrome", client["browser"])
	s.Equal(false, client["mobile"])
	s.Equal(false, client["bot"])
}

func (s *AuditLogHandlerSuite) TestListAuditLogs_Empty() {
	handler, mockService, _ := newTestHandler(s.T(), nil)
	mockService.EXPECT().Query(gomock.Any(), query.Request{}).
		Return(&query.Page{Data: []audit.Record{}, Total: 0, Page: 1, Limit: 20}, nil)

	w := httptest.NewRecorder()
	handler.handleListAuditLogs(w, httptest.NewRequest(http.MethodGet, "/audit-logs", nil))

	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"data":[],"total":0,"page":1,"limit":20}`, w.Body.String())
}

func (s *AuditLogHandlerSuite) TestListAuditLogs_RecordWithoutUserAgent() {
	handler, mockService, _ := newTestHandler(s.T(), nil)
	mockService.EXPECT().Query(gomock.Any(), gomock.Any()).Return(&query.Page{
		Data:  []audit.Record{{ID: 1, Action: audit.ActionDelete, EntityType: "ibaan", EntityID: "42", ChangedFields: []string{}}},
		Total: 1, Page: 1, Limit: 20,
	}, nil)

	w := httptest.NewRecorder()
	handler.handleListAuditLogs(w, httptest.NewRequest(http.MethodGet, "/audit-logs", nil))

	var resp map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	item := resp["data"].([]any)[0].(map[string]any)
	s.NotContains(item, "client")
	s.Nil(item["after_data"])
	s.Equal([]any{}, item["changed_fields"])
}

func (s *AuditLogHandlerSuite) TestListAuditLogs_StorageError() {
	handler, mockService, _ := newTestHandler(s.T(), nil)
	mockService.EXPECT().Query(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("count audit records: connection refused"))

	req := testutil.WithRequestID(testutil.NewRequest(s.T(), http.MethodGet, "/audit-logs?page=1"), "req-1")
	rr := testutil.DoRequest(http.HandlerFunc(handler.handleListAuditLogs), req)

	testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, "internal_error")
}

func (s *AuditLogHandlerSuite) TestRegister_RequiresToken() {
	_, mockService, router := newTestHandler(s.T(), stubValidator{})

	s.Run("missing token", func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audit-logs", nil))
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("invalid token", func() {
		req := httptest.NewRequest(http.MethodGet, "/audit-logs", nil)
		req.Header.Set("Authorization", "Bearer forged")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("valid token", func() {
		mockService.EXPECT().Query(gomock.Any(), query.Request{Limit: "500"}).
			Return(&query.Page{Data: []audit.Record{}, Page: 1, Limit: 200}, nil)

		req := httptest.NewRequest(http.MethodGet, "/audit-logs?limit=500", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		s.Equal(http.StatusOK, w.Code)
		s.Equal("application/json", w.Header().Get("Content-Type"))
		s.NotEmpty(w.Header().Get(middleware.HeaderRequestID))
	})
}

type listBody struct {
	Data  []map[string]any `json:"data"`
	Total int64            `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

// End to end through the real query engine over the in-memory store.
func TestListAuditLogs_WithEngine(t *testing.T) {
	testutil.Given(t, "a parcel with a create, an update and a delete", func(t *testing.T) {
		store := newSeededStore(t)
		engine := query.New(store, query.DefaultConfig())
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		r := chi.NewRouter()
		New(engine, logger, nil, nil).Register(r)

		testutil.When(t, "searching by lot number oldest first", func(t *testing.T) {
			rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/audit-logs?limit=2&sort=created_at_asc&q=L-7"))

			testutil.Then(t, "the first page holds the create and the update", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				resp := testutil.UnmarshalResponse[listBody](t, rr)
				assert.Equal(t, int64(3), resp.Total)
				assert.Equal(t, 2, resp.Limit)
				require.Len(t, resp.Data, 2)
				assert.Equal(t, "CREATE", resp.Data[0]["action"])
				assert.Equal(t, "UPDATE", resp.Data[1]["action"])
			})
		})

		testutil.When(t, "paging past the end", func(t *testing.T) {
			rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/audit-logs?page=9&limit=2"))

			testutil.Then(t, "the page is empty but the total is kept", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				resp := testutil.UnmarshalResponse[listBody](t, rr)
				assert.Equal(t, int64(4), resp.Total)
				assert.Equal(t, 9, resp.Page)
				assert.Empty(t, resp.Data)
			})
		})

		testutil.When(t, "parameters are malformed", func(t *testing.T) {
			rr := testutil.DoRequest(r, testutil.NewQueryRequest(t, "/audit-logs", map[string]string{
				"page": "abc", "limit": "-4", "action": "PATCH", "from": "yesterday", "sort": "random",
			}))

			testutil.Then(t, "defaults apply instead of an error", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				resp := testutil.UnmarshalResponse[listBody](t, rr)
				assert.Equal(t, int64(4), resp.Total)
				assert.Equal(t, 1, resp.Page)
				assert.Equal(t, 1, resp.Limit)
			})
		})

		testutil.When(t, "searching for a LIKE wildcard", func(t *testing.T) {
			rr := testutil.DoRequest(r, testutil.NewQueryRequest(t, "/audit-logs", map[string]string{"q": "%"}))

			testutil.Then(t, "it is matched literally", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				assert.Equal(t, int64(0), testutil.UnmarshalResponse[listBody](t, rr).Total)
			})
		})
	})
}

func newSeededStore(t *testing.T) *memory.InMemoryStore {
	t.Helper()
	store := memory.NewInMemoryStore()
	at := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	w := writer.New(store,
		writer.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		writer.WithClock(func() time.Time {
			at = at.Add(time.Minute)
			return at
		}),
	)
	parcelCtx := map[string]any{"ParcelId": 42, "LotNumber": "L-7"}
	ctx := context.Background()
	w.Write(ctx, audit.Event{Action: audit.ActionCreate, EntityType: "ibaan", EntityID: "42", Context: parcelCtx,
		After: audit.NewSnapshot("ParcelId", 42, "Area", 500)})
	w.Write(ctx, audit.Event{Action: audit.ActionUpdate, EntityType: "ibaan", EntityID: "42", Context: parcelCtx,
		Before: audit.NewSnapshot("ParcelId", 42, "Area", 500), After: audit.NewSnapshot("ParcelId", 42, "Area", 520)})
	w.Write(ctx, audit.Event{Action: audit.ActionDelete, EntityType: "ibaan", EntityID: "42", Context: parcelCtx,
		Before: audit.NewSnapshot("ParcelId", 42, "Area", 520)})
	w.Write(ctx, audit.Event{Action: audit.ActionCreate, EntityType: "alameda", EntityID: "7",
		Context: map[string]any{"ParcelId": 7, "LotNumber": "M-1"}})
	require.Len(t, store.Rows(), 4)
	return store
}
