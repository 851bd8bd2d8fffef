package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/shortage/config"
	"example.com/backstage/services/shortage/internal/analytics"
	"example.com/backstage/services/shortage/internal/clock"
	"example.com/backstage/services/shortage/internal/domain"
	"example.com/backstage/services/shortage/internal/models"
	"example.com/backstage/services/shortage/internal/services"
	"example.com/backstage/services/shortage/internal/store"
	"example.com/backstage/services/shortage/internal/telemetry"
)

var apiNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

// staticCatalog serves a fixed part list
type staticCatalog []models.Material

func (c staticCatalog) Search(_ context.Context, _ string, _ int) ([]models.Material, error) {
	return c, nil
}

func (c staticCatalog) GetByPartCode(_ context.Context, partCode string) (*models.Material, error) {
	for _, m := range c {
		if m.PartCode == partCode {
			m := m
			return &m, nil
		}
	}
	return nil, errors.Wrapf(models.ErrMaterialNotFound, "part code %s", partCode)
}

func (c staticCatalog) BySource(_ context.Context, source string) ([]models.Material, error) {
	var out []models.Material
	for _, m := range c {
		if m.Source == source {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c staticCatalog) All(_ context.Context, _ int, fn func([]models.Material) error) error {
	return fn(c)
}

func newTestServer(t *testing.T) http.Handler {
	h, _ := newTestServerWith(t, nil)
	return h
}

func newTestServerWith(t *testing.T, catalog services.MaterialCatalog) (http.Handler, *telemetry.Collector) {
	t.Helper()

	mem := store.NewMemoryStore(clock.Fixed(apiNow),
		models.ShortageCase{
			ID:           "open-1",
			PartCode:     "P-100",
			DisplayName:  "Bracket",
			Source:       models.SourceKanban,
			Status:       models.StatusCreated,
			CreatedAt:    models.FormatInstant(apiNow.Add(-3 * 24 * time.Hour)),
			AssignedTeam: "Design",
			ReasonTags:   models.ReasonTags{domain.ReasonNoPartCode},
		},
		models.ShortageCase{
			ID:         "done-1",
			PartCode:   "P-200",
			Status:     models.StatusReceived,
			CreatedAt:  models.FormatInstant(apiNow.Add(-9 * 24 * time.Hour)),
			ResolvedAt: models.FormatInstant(apiNow.Add(-2 * 24 * time.Hour)),
		},
	)

	cfg := config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Address:     ":0",
			Timeout:     time.Second,
			CorsEnabled: true,
			CorsOrigins: []string{"https://board.example.com"},
		},
		Engine: config.EngineConfig{Location: "UTC", DefaultWindow: "month"},
	}

	metrics := telemetry.NewCollector()
	svc := services.NewShortageService(services.Dependencies{
		Store:   mem,
		Catalog: catalog,
		Clock:   clock.Fixed(apiNow),
		Metrics: metrics,
	}, cfg.Engine)

	return NewServer(cfg, svc, metrics, nil).Router(), metrics
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), into))
}

func TestHealthAndRequestID(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestDashboard(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/v1/dashboard?window=week", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Window    string `json:"window"`
		CaseCount int    `json:"caseCount"`
		KPIs      struct {
			NewCases    int `json:"newCases"`
			CurrentOpen int `json:"currentOpen"`
			SLA7        int `json:"sla7"`
			SLA14       int `json:"sla14"`
		} `json:"kpis"`
		WeeklyTrend []json.RawMessage `json:"weeklyTrend"`
		TeamTrend   []json.RawMessage `json:"teamTrend"`
	}
	decode(t, w, &body)

	assert.Equal(t, "week", body.Window)
	assert.Equal(t, 2, body.CaseCount)
	assert.Equal(t, 1, body.KPIs.NewCases)
	assert.Equal(t, 1, body.KPIs.CurrentOpen)
	assert.Equal(t, 100, body.KPIs.SLA7)
	assert.Equal(t, 100, body.KPIs.SLA14)
	assert.Len(t, body.WeeklyTrend, 12)
	assert.Len(t, body.TeamTrend, 8)
}

func TestCreateCase(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/v1/cases", domain.CreateCaseCommand{
		PartCode:     "P-300",
		DisplayName:  "Gasket",
		Source:       "bom",
		ShortageDate: "2024-06-14",
		ReasonTags:   []string{domain.ReasonInvestigate},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.ShortageCase
	decode(t, w, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.StatusCreated, created.Status)

	w = do(t, h, http.MethodGet, "/api/v1/cases/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCreateCaseValidation(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/v1/cases", domain.CreateCaseCommand{PartCode: "P-1", ShortageDate: "2024-06-14"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cases", bytes.NewBufferString("{broken"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	decode(t, rec, &body)
	assert.NotEmpty(t, body["error"])
}

func TestValidationFailuresAreCountedOnce(t *testing.T) {
	h, metrics := newTestServerWith(t, nil)

	w := do(t, h, http.MethodPost, "/api/v1/cases", domain.CreateCaseCommand{PartCode: "P-1", ShortageDate: "2024-06-14"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int64(1), metrics.ErrorCount(telemetry.ErrorTypeValidation))

	w = do(t, h, http.MethodPut, "/api/v1/cases/open-1/status", map[string]string{"status": "created"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int64(2), metrics.ErrorCount(telemetry.ErrorTypeValidation))

	w = do(t, h, http.MethodPut, "/api/v1/cases/open-1/status", map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int64(3), metrics.ErrorCount(telemetry.ErrorTypeValidation))
	assert.Zero(t, metrics.ErrorCount(telemetry.ErrorTypeInternal))
}

func TestCreateCaseWithTakenID(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/v1/cases", domain.CreateCaseCommand{
		ID:           "open-1",
		PartCode:     "P-300",
		ShortageDate: "2024-06-14",
		ReasonTags:   []string{domain.ReasonInvestigate},
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/cases/open-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var c models.ShortageCase
	decode(t, w, &c)
	assert.Equal(t, "P-100", c.PartCode)
}

func TestNotesRoute(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodPut, "/api/v1/cases/open-1/notes", map[string]string{"notes": "supplier chased on Monday"})
	require.Equal(t, http.StatusOK, w.Code)
	var c models.ShortageCase
	decode(t, w, &c)
	assert.Equal(t, "supplier chased on Monday", c.Notes)

	w = do(t, h, http.MethodGet, "/api/v1/cases/open-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Notes string `json:"notes"`
	}
	decode(t, w, &got)
	assert.Equal(t, "supplier chased on Monday", got.Notes)

	w = do(t, h, http.MethodPut, "/api/v1/cases/missing/notes", map[string]string{"notes": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKanbanRoutes(t *testing.T) {
	catalog := staticCatalog{
		{PartCode: "K-2", Description: "Washer", Source: "kanban", KanbanID: "KB-10", SupplierName: "Acme", StockQty: 2, MinStock: 10},
		{PartCode: "K-1", Source: "kanban", KanbanID: "KB-2", StockQty: 50, MinStock: 10, OpenPOQty: 5},
		{PartCode: "B-1", Description: "Frame", Source: "bom"},
	}
	h, _ := newTestServerWith(t, catalog)

	w := do(t, h, http.MethodGet, "/api/v1/kanban", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view analytics.KanbanView
	decode(t, w, &view)
	require.Len(t, view.Items, 2)
	assert.Equal(t, "K-1", view.Items[0].PartCode)
	assert.Equal(t, analytics.StockRed, view.Items[1].StockLevel)
	assert.Equal(t, []string{"Acme"}, view.Suppliers)

	w = do(t, h, http.MethodGet, "/api/v1/kanban?belowMin=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &view)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "K-2", view.Items[0].PartCode)

	w = do(t, h, http.MethodGet, "/api/v1/kanban?belowMin=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/kanban/K-1/shortage", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.ShortageCase
	decode(t, w, &created)
	assert.Equal(t, "K-1", created.DisplayName)
	assert.Equal(t, "N/A", created.SupplierName)
	assert.Equal(t, models.SourceKanban, created.Source)
	assert.Equal(t, models.ReasonTags{domain.ReasonOther}, created.ReasonTags)

	w = do(t, h, http.MethodPost, "/api/v1/kanban/NOPE/shortage", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKanbanWithoutCatalog(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/v1/kanban", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCaseUpdates(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodPut, "/api/v1/cases/done-1/eta", etaBody("2024-07-01"))
	require.Equal(t, http.StatusOK, w.Code)
	var c models.ShortageCase
	decode(t, w, &c)
	assert.Equal(t, models.StatusOrdering, c.Status)
	assert.Empty(t, c.ResolvedAt)

	w = do(t, h, http.MethodPut, "/api/v1/cases/open-1/team", map[string]string{"team": "Store"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPut, "/api/v1/cases/open-1/transport", map[string]string{"transport": "Local"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPut, "/api/v1/cases/open-1/source", map[string]string{"source": "bom"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPut, "/api/v1/cases/open-1/status", map[string]string{"status": "created"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPut, "/api/v1/cases/open-1/status", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPut, "/api/v1/cases/missing/team", map[string]string{"team": "Store"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func etaBody(eta string) map[string]string {
	return map[string]string{"eta": eta}
}

func TestRootCauseRoutes(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/v1/cases/open-1/root-causes/No%20part%20code/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/root-causes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view services.RootCauseView
	decode(t, w, &view)
	require.Len(t, view.Items, 1)
	assert.True(t, view.Items[0].Completed)
	assert.Equal(t, 100, view.Stats.Percentage)

	w = do(t, h, http.MethodDelete, "/api/v1/cases/open-1/root-causes/No%20part%20code", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var c models.ShortageCase
	decode(t, w, &c)
	assert.Nil(t, c.RootCauseSolutions)

	w = do(t, h, http.MethodPost, "/api/v1/cases/open-1/root-causes/Investigate/toggle", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for i := 0; i < 2; i++ {
		w = do(t, h, http.MethodPut, "/api/v1/cases/open-1/root-causes/No%20part%20code", map[string]bool{"completed": true})
		require.Equal(t, http.StatusOK, w.Code)
		decode(t, w, &c)
		assert.True(t, c.RootCauseSolutions[domain.ReasonNoPartCode].Completed)
	}

	w = do(t, h, http.MethodPut, "/api/v1/cases/open-1/root-causes/No%20part%20code", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListCases(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/v1/cases?status=all", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var summary struct {
		Rows       []json.RawMessage `json:"rows"`
		Resolved   int               `json:"resolved"`
		Unresolved int               `json:"unresolved"`
		Teams      []string          `json:"teams"`
	}
	decode(t, w, &summary)
	assert.Len(t, summary.Rows, 2)
	assert.Equal(t, 1, summary.Resolved)
	assert.Equal(t, 1, summary.Unresolved)
	assert.Equal(t, []string{"Design"}, summary.Teams)
}

func TestMaterialRoutes(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/v1/materials?q=ab", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/materials?q=bracket", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/materials?q=bracket&limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/materials/P-100/image", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var img map[string]string
	decode(t, w, &img)
	assert.Equal(t, "P-100", img["partCode"])
	assert.Empty(t, img["url"])
}

func TestOptionsAndCORS(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/v1/options", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var opts domain.Options
	decode(t, w, &opts)
	assert.Equal(t, config.DefaultTeams, opts.Teams)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/cases", nil)
	req.Header.Set("Origin", "https://board.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://board.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
