package api

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

	"fbahunter/internal/api/middleware"
	"fbahunter/internal/kv"
	"fbahunter/internal/model"
	"fbahunter/internal/report"
	"fbahunter/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, kv.Store, *LatestReport) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fs, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	reports := &LatestReport{}
	return NewServer(fs, store.NewProgressStore(fs, 1, logger), reports, logger), fs, reports
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

type brokenStore struct{ kv.Store }

func (brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk gone")
}

func TestHealthz_StoreFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(brokenStore{}, nil, nil, logger)

	w := get(t, s, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestID_Propagated(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(middleware.RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(middleware.RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fbahunter_")
}

func TestProgress(t *testing.T) {
	s, fs, _ := newTestServer(t)

	w := get(t, s, "/api/progress/shop.example")
	assert.Equal(t, http.StatusNotFound, w.Code)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := model.NewProcessingState("shop.example", time.Now())
	st.Phase = model.PhaseProducts
	st.CategoryIndex = 2
	st.RecordError("network_transient", "https://shop.example/c/a")
	require.NoError(t, store.NewProgressStore(fs, 1, logger).Save(context.Background(), st))

	w = get(t, s, "/api/progress/shop.example")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Supplier      string             `json:"supplier"`
		Phase         string             `json:"phase"`
		CategoryIndex int                `json:"category_index"`
		Errors        model.ErrorSummary `json:"error_summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "shop.example", body.Supplier)
	assert.Equal(t, string(model.PhaseProducts), body.Phase)
	assert.Equal(t, 2, body.CategoryIndex)
	assert.Equal(t, 1, body.Errors.Total)
	assert.Equal(t, 1, body.Errors.ByKind["network_transient"])
}

func TestProgress_Corrupt(t *testing.T) {
	s, fs, _ := newTestServer(t)
	require.NoError(t, fs.Put(context.Background(), "progress/shop.example", []byte("{not json")))

	w := get(t, s, "/api/progress/shop.example")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLinks(t *testing.T) {
	s, fs, _ := newTestServer(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	links := store.NewLinkingStore(fs, "shop.example", logger)
	links.Upsert(model.LinkEntry{SupplierKey: "id:1", CatalogID: "B001", MatchType: model.MatchIdentifierExact, Confidence: 1})
	links.Upsert(model.LinkEntry{SupplierKey: "id:2", CatalogID: "B002", MatchType: model.MatchTitleFallback, Confidence: 0.8})
	require.NoError(t, links.Save(context.Background()))

	var body struct {
		Count   int               `json:"count"`
		Entries []model.LinkEntry `json:"entries"`
	}

	w := get(t, s, "/api/links/shop.example")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)

	w = get(t, s, "/api/links/shop.example?match_type=title_fallback")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "B002", body.Entries[0].CatalogID)

	w = get(t, s, "/api/links/other.example")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Count)
}

func TestLinks_CorruptIsNotQuarantined(t *testing.T) {
	s, fs, _ := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, fs.Put(ctx, "linking/shop.example", []byte(`{"entries":[{"supplier_key":""}]}`)))

	w := get(t, s, "/api/links/shop.example")
	assert.Equal(t, http.StatusConflict, w.Code)

	_, err := fs.Get(ctx, "linking/shop.example")
	assert.NoError(t, err, "read-only endpoint must leave the document in place")
}

func TestReport(t *testing.T) {
	s, _, reports := newTestServer(t)

	w := get(t, s, "/api/report")
	assert.Equal(t, http.StatusNotFound, w.Code)

	r := &report.Report{
		RunID:    "run-1",
		Supplier: "shop.example",
		Records: []model.ProfitRecord{
			{SupplierKey: "id:1", Profitable: true, ROI: 120},
			{SupplierKey: "id:2", Profitable: false, ROI: 10},
		},
	}
	require.NoError(t, reports.Write(context.Background(), r))

	var body reportResponse
	w = get(t, s, "/api/report")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 1, body.Profitable)
	assert.Len(t, body.Records, 2)

	w = get(t, s, "/api/report?profitable=true")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Records, 1)
	assert.Equal(t, "id:1", body.Records[0].SupplierKey)

	w = get(t, s, "/api/report?profitable=maybe")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLatestReport_IsSink(t *testing.T) {
	var _ report.Sink = &LatestReport{}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
