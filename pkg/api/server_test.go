package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	"github.com/otherjamesbrown/salelink/pkg/auction/memory"
	"github.com/otherjamesbrown/salelink/pkg/catalog"
	"github.com/otherjamesbrown/salelink/pkg/db"
	"github.com/otherjamesbrown/salelink/pkg/events"
	"github.com/otherjamesbrown/salelink/pkg/linker"
	"github.com/otherjamesbrown/salelink/pkg/logging"
	"github.com/otherjamesbrown/salelink/pkg/observability"
	"github.com/otherjamesbrown/salelink/pkg/reconcile"
	"github.com/otherjamesbrown/salelink/pkg/research"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var now = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

type harness struct {
	store  *memory.Store
	router *gin.Engine
}

func newHarness(t *testing.T, opts Options, health db.CheckFunc) *harness {
	t.Helper()
	store := memory.New()
	clock := func() time.Time { return now }
	log := logging.NewNopLogger()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	rec := &events.Recorder{}

	l := linker.New(store, log, linker.WithClock(clock), linker.WithMetrics(metrics))
	srv := NewServer(Deps{
		Catalog:    catalog.New(store, rec, log, clock),
		Linker:     l,
		Reconciler: reconcile.New(store, l, log, reconcile.WithClock(clock), reconcile.WithPublisher(rec)),
		Research:   research.NewManager(store, log, research.WithClock(clock), research.WithPublisher(rec)),
		Gatherer:   reg,
		Health:     health,
	}, opts, log)
	return &harness{store: store, router: srv.Router()}
}

func (h *harness) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func (h *harness) seed(t *testing.T, n int) *auction.Sale {
	t.Helper()
	ctx := context.Background()
	sale, err := h.store.CreateSale(ctx, auction.NewSale{County: "Blair, PA", Type: auction.SaleTypeJudicial, Date: ptr(time.Date(2026, 2, 19, 0, 0, 0, 0, time.UTC))})
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := h.store.CreateProperty(ctx, auction.NewProperty{
			County:       "Blair, PA",
			SaleTypeHint: ptr(auction.SaleTypeJudicial),
			SaleDateHint: ptr(time.Date(2026, 2, 19, 0, 0, 0, 0, time.UTC)),
		})
		require.NoError(t, err)
	}
	return sale
}

func TestHealthzAndVersion(t *testing.T) {
	h := newHarness(t, Options{}, nil)

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ServiceName)

	rec = h.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	up := newHarness(t, Options{}, func(context.Context) db.HealthStatus {
		return db.HealthStatus{Driver: "postgres", Healthy: true, TotalConns: 4, IdleConns: 3, InUseConns: 1}
	})
	rec = up.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status string          `json:"status"`
		Store  db.HealthStatus `json:"store"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, int32(4), body.Store.TotalConns)
	assert.Equal(t, int32(1), body.Store.InUseConns)

	down := newHarness(t, Options{}, func(context.Context) db.HealthStatus {
		return db.HealthStatus{Driver: "postgres", Error: "ping failed: pool closed"}
	})
	rec = down.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "pool closed")
}

func TestBearerToken(t *testing.T) {
	h := newHarness(t, Options{Token: "s3cret"}, nil)

	rec := h.do(t, http.MethodGet, "/v1/research/queue", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/research/queue", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/research/queue", nil, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPropertyEndpoints(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	sale := h.seed(t, 1)

	rec := h.do(t, http.MethodPost, "/v1/properties/1/link", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res linker.Result
	decode(t, rec, &res)
	assert.Equal(t, linker.OutcomeLinked, res.Outcome)
	assert.Equal(t, sale.ID, *res.SaleID)

	rec = h.do(t, http.MethodGet, "/v1/properties/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view catalog.PropertyView
	decode(t, rec, &view)
	assert.Equal(t, auction.StatusActive, view.Property.Status)
	require.NotNil(t, view.Sale)

	rec = h.do(t, http.MethodPut, "/v1/properties/1/override", map[string]string{"override": "sold"})
	require.Equal(t, http.StatusOK, rec.Code)
	var p auction.Property
	decode(t, rec, &p)
	assert.Equal(t, auction.StatusSold, p.Status)

	rec = h.do(t, http.MethodPut, "/v1/properties/1/override", map[string]string{"override": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/properties/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/properties/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaleEndpoints(t *testing.T) {
	h := newHarness(t, Options{}, nil)

	rec := h.do(t, http.MethodPost, "/v1/sales", map[string]string{"county": "Wayne, PA", "sale_type": "judicial", "sale_date": "2026-03-10"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sale auction.Sale
	decode(t, rec, &sale)
	assert.Equal(t, auction.SaleTypeJudicial, sale.Type)

	rec = h.do(t, http.MethodPatch, "/v1/sales/1", map[string]string{"status": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/sales?county=Wayne,%20PA", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cancelled")

	rec = h.do(t, http.MethodPost, "/v1/sales", map[string]string{"county": "Wayne, PA"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodDelete, "/v1/sales/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, http.MethodDelete, "/v1/sales/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReconcileAndBreakdown(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.seed(t, 3)
	_, err := h.store.CreateProperty(context.Background(), auction.NewProperty{County: "Blair, PA"})
	require.NoError(t, err)

	rec := h.do(t, http.MethodPost, "/v1/reconcile", map[string]interface{}{"county": "Blair, PA"})
	require.Equal(t, http.StatusOK, rec.Code)
	var summary reconcile.Summary
	decode(t, rec, &summary)
	assert.Equal(t, 3, summary.Linked)
	assert.Equal(t, 1, summary.Unlinked)
	assert.True(t, summary.Complete)

	rec = h.do(t, http.MethodPost, "/v1/reconcile", map[string]interface{}{"limit": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/reconcile/statuses", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/status/breakdown?county=Blair,%20PA", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Counties []struct {
			County   string `json:"county"`
			Total    int64  `json:"total"`
			Statuses []struct {
				Status  string `json:"auction_status"`
				Count   int64  `json:"count"`
				Percent string `json:"percent"`
			} `json:"statuses"`
		} `json:"counties"`
	}
	decode(t, rec, &body)
	require.Len(t, body.Counties, 1)
	assert.Equal(t, int64(4), body.Counties[0].Total)
	assert.Equal(t, "active", body.Counties[0].Statuses[0].Status)
	assert.Equal(t, "75", body.Counties[0].Statuses[0].Percent)
}

func TestResearchWorkflow(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.store.CreateProperty(ctx, auction.NewProperty{County: "Blair, PA", SaleTypeHint: ptr(auction.SaleTypeUpset)})
		require.NoError(t, err)
	}

	rec := h.do(t, http.MethodPost, "/v1/research/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var qs research.QueueSummary
	decode(t, rec, &qs)
	require.Equal(t, 1, qs.Queued)
	entryID := qs.Entries[0].ID

	rec = h.do(t, http.MethodGet, "/v1/research/queue?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Find Upset sale in Blair, PA (3 properties)")
	assert.Contains(t, rec.Body.String(), `"priority":"LOW"`)

	path := "/v1/research/entries/" + strconv.FormatInt(entryID, 10)
	rec = h.do(t, http.MethodPost, path+"/assign", map[string]string{"agent": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, path+"/assign", map[string]string{"agent": "monitor"}, "X-Agent", "monitor")
	require.Equal(t, http.StatusOK, rec.Code)
	var ar research.AssignResult
	decode(t, rec, &ar)
	assert.True(t, ar.Assigned)

	rec = h.do(t, http.MethodPost, path+"/assign", map[string]string{"agent": "other"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &ar)
	assert.False(t, ar.Assigned)
	assert.NotEmpty(t, ar.Notice)

	rec = h.do(t, http.MethodPost, path+"/resolve", map[string]interface{}{"sale_id": 77})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	sale, err := h.store.CreateSale(ctx, auction.NewSale{County: "Blair, PA", Type: auction.SaleTypeUpset, Date: ptr(time.Date(2026, 9, 8, 0, 0, 0, 0, time.UTC))})
	require.NoError(t, err)
	rec = h.do(t, http.MethodPost, path+"/resolve", map[string]interface{}{"sale_id": sale.ID, "notes": "tax claim bureau"})
	require.Equal(t, http.StatusOK, rec.Code)
	var rr research.ResolveResult
	decode(t, rec, &rr)
	assert.True(t, rr.Resolved)
	assert.Equal(t, 3, rr.LinkedCount)

	rec = h.do(t, http.MethodPost, path+"/fail", map[string]string{"reason": "late"})
	require.Equal(t, http.StatusOK, rec.Code)
	var fr research.FailResult
	decode(t, rec, &fr)
	assert.False(t, fr.Failed)
	assert.True(t, strings.Contains(fr.Notice, "resolved"))

	rec = h.do(t, http.MethodGet, "/v1/research/entries?status=resolved", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tax claim bureau")

	rec = h.do(t, http.MethodGet, "/v1/research/entries?status=done", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, 499, statusFor(context.Canceled))
}
